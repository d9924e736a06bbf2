package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"coreapi/datatypes"
	"coreapi/storage"
	"coreapi/storage/cache"
)

var chatTracer = otel.Tracer("coreapi.services.chat")

// defaultExchangeTimeout bounds one full question/answer exchange, from the
// first inference byte to the terminal chunk.
const defaultExchangeTimeout = 30 * time.Second

// ChatStore persists chat rows.
type ChatStore interface {
	CreateChat(ctx context.Context, memberID int64, title string) (*datatypes.Chat, error)
	ChatByID(ctx context.Context, id int64) (*datatypes.Chat, error)
	ChatsByMember(ctx context.Context, memberID int64) ([]datatypes.Chat, error)
	CountChatsCreatedBetween(ctx context.Context, memberID int64, from, to time.Time) (int64, error)
	UpdateChatPreview(ctx context.Context, chatID int64, preview string) error
	UpdateChatSummary(ctx context.Context, chatID int64, summary string) error
	UpdateChatTitle(ctx context.Context, chatID int64, title string) error
	SetChatArchived(ctx context.Context, chatID int64, archived bool) error
	DeleteChat(ctx context.Context, chatID int64) error
}

// Inference is the engine-facing surface the orchestrator depends on.
type Inference interface {
	Ready(ctx context.Context) error
	Stream(ctx context.Context, req *datatypes.InferenceRequest, emit ChunkEmitter) error
	Summarize(ctx context.Context, req *datatypes.SummarizeRequest) (string, error)
	GenerateTitle(ctx context.Context, req *datatypes.TitleRequest) (string, error)
}

// ChatService orchestrates conversations: ownership checks, message
// persistence with ordered sequences, the live exchange stream, and the
// deferred summary and title generation that follows each exchange.
type ChatService struct {
	chats           ChatStore
	messages        *MessageService
	inference       Inference
	summaries       *cache.SummaryCache
	background      *Background
	logger          *slog.Logger
	exchangeTimeout time.Duration
}

// NewChatService wires the orchestrator. A non-positive exchangeTimeout
// falls back to the default.
func NewChatService(
	chats ChatStore,
	messages *MessageService,
	inference Inference,
	summaries *cache.SummaryCache,
	background *Background,
	logger *slog.Logger,
	exchangeTimeout time.Duration,
) *ChatService {
	if exchangeTimeout <= 0 {
		exchangeTimeout = defaultExchangeTimeout
	}
	return &ChatService{
		chats:           chats,
		messages:        messages,
		inference:       inference,
		summaries:       summaries,
		background:      background,
		logger:          logger,
		exchangeTimeout: exchangeTimeout,
	}
}

// CreateChat opens a new chat with a dated default title. The second chat
// of the day gets a " (2)" suffix, the third " (3)", and so on.
func (s *ChatService) CreateChat(ctx context.Context, memberID int64) (*datatypes.Chat, error) {
	const op = "services.chat.CreateChat"

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	count, err := s.chats.CountChatsCreatedBetween(ctx, memberID, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	title := now.Format("2006-01-02") + " Chat"
	if count > 0 {
		title = fmt.Sprintf("%s (%d)", title, count+1)
	}

	chat, err := s.chats.CreateChat(ctx, memberID, title)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info("chat created", "chatId", chat.ID, "memberId", memberID)
	return chat, nil
}

// ListChats returns the member's chats, most recently active first.
func (s *ChatService) ListChats(ctx context.Context, memberID int64) ([]datatypes.Chat, error) {
	const op = "services.chat.ListChats"

	chats, err := s.chats.ChatsByMember(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return chats, nil
}

// GetChat returns one chat with its full transcript. Ownership is enforced.
func (s *ChatService) GetChat(ctx context.Context, memberID, chatID int64) (*datatypes.Chat, []datatypes.Message, error) {
	const op = "services.chat.GetChat"

	chat, err := s.authorize(ctx, memberID, chatID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	msgs, err := s.messages.Messages(ctx, chatID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return chat, msgs, nil
}

// Transcript returns a chat's messages without an ownership check. Used by
// the engine callback route, where authentication is the one-time key pair
// rather than a member token. A positive limit returns only the most recent
// turns, still in sequence order; zero or negative means the full
// transcript.
func (s *ChatService) Transcript(ctx context.Context, chatID, limit int64) ([]datatypes.Message, error) {
	const op = "services.chat.Transcript"

	if _, err := s.chats.ChatByID(ctx, chatID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrChatNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var (
		msgs []datatypes.Message
		err  error
	)
	if limit > 0 {
		msgs, err = s.messages.Recent(ctx, chatID, limit)
	} else {
		msgs, err = s.messages.Messages(ctx, chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return msgs, nil
}

// SetArchived flips the chat's archived flag. Ownership is enforced.
func (s *ChatService) SetArchived(ctx context.Context, memberID, chatID int64, archived bool) error {
	const op = "services.chat.SetArchived"

	if _, err := s.authorize(ctx, memberID, chatID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.chats.SetChatArchived(ctx, chatID, archived); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteChat removes the chat row, its transcript, and any cached summary.
func (s *ChatService) DeleteChat(ctx context.Context, memberID, chatID int64) error {
	const op = "services.chat.DeleteChat"

	if _, err := s.authorize(ctx, memberID, chatID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.messages.DeleteAll(ctx, chatID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.chats.DeleteChat(ctx, chatID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.summaries.Invalidate(cacheKey(chatID))

	s.logger.Info("chat deleted", "chatId", chatID, "memberId", memberID)
	return nil
}

// StreamMessage runs one full exchange: it persists the question, streams
// the engine's answer chunk by chunk through emit, persists the answer, and
// schedules summary and title generation in the background.
//
// Pre-stream failures (authorization, engine down, question persistence)
// return an error before any chunk is emitted, so the caller can still
// answer with a plain HTTP error. Once chunks are flowing, failures are
// reported in-band as an error chunk and StreamMessage returns nil; the
// caller terminates every stream with a done chunk regardless.
func (s *ChatService) StreamMessage(ctx context.Context, memberID, chatID int64, query string, emit ChunkEmitter) error {
	const op = "services.chat.StreamMessage"

	ctx, span := chatTracer.Start(ctx, "ChatService.StreamMessage")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chat_id", chatID),
		attribute.Int64("member_id", memberID),
	)

	// 1. Ownership. Chats are strictly single-owner.
	chat, err := s.authorize(ctx, memberID, chatID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%s: %w", op, err)
	}

	// firstExchange is decided before this exchange touches the preview.
	firstExchange := chat.LastMessagePreview == ""

	// The exchange deadline covers everything from persisting the
	// question through finalizing the answer. Background tasks detach
	// from it below.
	exCtx, cancel := context.WithTimeout(ctx, s.exchangeTimeout)
	defer cancel()

	// 2. Persist the question and surface it in the chat list. The
	// user's turn is durable even if the answer never arrives.
	if _, err := s.messages.SaveUserMessage(exCtx, chatID, query); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.chats.UpdateChatPreview(exCtx, chatID, PreviewText(ContentTypeText, query)); err != nil {
		s.logger.Warn("update chat preview failed", "chatId", chatID, "error", err)
	}

	// 3. Preflight. A dead engine fails fast with a clean HTTP error
	// instead of a broken stream.
	if err := s.inference.Ready(exCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "engine preflight failed")
		return fmt.Errorf("%s: %w", op, err)
	}

	// 4. Resolve conversation context: cached summary if fresh, else the
	// persisted one.
	history := s.resolveHistory(chat)

	// 5. Stream the answer, buffering tokens and sources while
	// forwarding each chunk live.

	var (
		answer  strings.Builder
		sources []datatypes.SourceDocument
	)
	streamErr := s.inference.Stream(exCtx, &datatypes.InferenceRequest{
		Question: query,
		History:  history,
	}, func(chunk datatypes.ChatChunk) error {
		switch chunk.Type {
		case datatypes.ChunkTypeToken:
			answer.WriteString(chunk.TokenText())
		case datatypes.ChunkTypeSources:
			if batch, err := chunk.SourceList(); err == nil {
				sources = append(sources, batch...)
			}
		}
		return emit(chunk)
	})

	if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "stream failed")
		return s.failStream(exCtx, chatID, streamErr, emit)
	}

	// 6. Persist the answer. An empty answer is not a conversation turn;
	// nothing is saved and no summary is scheduled.
	finalAnswer := strings.TrimSpace(answer.String())
	if finalAnswer == "" {
		s.logger.Warn("engine produced empty answer", "chatId", chatID)
		span.SetStatus(codes.Error, "empty answer")
		return nil
	}

	if _, err := s.messages.SaveBotMessage(exCtx, chatID, finalAnswer, sources); err != nil {
		s.logger.Error("persist answer failed", "chatId", chatID, "error", err)
		span.RecordError(err)
		if emitErr := emit(datatypes.ErrorChunk("The answer could not be saved.")); emitErr != nil {
			return fmt.Errorf("%s: %w", op, emitErr)
		}
		return nil
	}

	if err := s.chats.UpdateChatPreview(exCtx, chatID, PreviewText(ContentTypeText, finalAnswer)); err != nil {
		s.logger.Warn("update chat preview failed", "chatId", chatID, "error", err)
	}

	// 7. Optimistic summary: a cheap concatenation makes the fresh
	// exchange visible to the next question immediately, and the real
	// summary replaces it when the background task lands.
	optimistic := composeSummary(history, query, finalAnswer)
	s.summaries.Put(cacheKey(chatID), optimistic)

	s.scheduleSummary(ctx, chatID, history, query, finalAnswer)
	if firstExchange {
		s.scheduleTitle(ctx, chatID, query, finalAnswer)
	}

	span.SetAttributes(attribute.Int("answer_len", len(finalAnswer)))
	return nil
}

// failStream reports a mid-stream failure in-band. Partial answers are
// discarded; a half-persisted exchange is worse than a retried one.
func (s *ChatService) failStream(exCtx context.Context, chatID int64, streamErr error, emit ChunkEmitter) error {
	msg := "The assistant failed while answering. Please try again."
	if errors.Is(streamErr, context.DeadlineExceeded) || exCtx.Err() != nil {
		msg = "The assistant took too long to respond. Please try again."
	}
	s.logger.Error("exchange stream failed", "chatId", chatID, "error", streamErr)

	if emitErr := emit(datatypes.ErrorChunk(msg)); emitErr != nil {
		// The client connection is gone too; surface the original error.
		return streamErr
	}
	return nil
}

func (s *ChatService) resolveHistory(chat *datatypes.Chat) string {
	if summary, ok := s.summaries.Get(cacheKey(chat.ID)); ok {
		return summary
	}
	return chat.Summary
}

func (s *ChatService) scheduleSummary(ctx context.Context, chatID int64, previous, question, answer string) {
	s.background.Go(ctx, "summarize", func(taskCtx context.Context) error {
		summary, err := s.inference.Summarize(taskCtx, &datatypes.SummarizeRequest{
			PreviousSummary: previous,
			Question:        question,
			Answer:          answer,
		})
		if err != nil {
			return err
		}
		if summary == "" {
			return nil
		}
		if err := s.chats.UpdateChatSummary(taskCtx, chatID, summary); err != nil {
			return err
		}
		s.summaries.Put(cacheKey(chatID), summary)
		return nil
	})
}

func (s *ChatService) scheduleTitle(ctx context.Context, chatID int64, question, answer string) {
	s.background.Go(ctx, "generate-title", func(taskCtx context.Context) error {
		title, err := s.inference.GenerateTitle(taskCtx, &datatypes.TitleRequest{
			Question: question,
			Answer:   answer,
		})
		if err != nil {
			return err
		}
		title = strings.TrimSpace(title)
		if title == "" {
			return nil
		}
		return s.chats.UpdateChatTitle(taskCtx, chatID, title)
	})
}

func (s *ChatService) authorize(ctx context.Context, memberID, chatID int64) (*datatypes.Chat, error) {
	chat, err := s.chats.ChatByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	if chat.MemberID != memberID {
		s.logger.Warn("chat access denied", "chatId", chatID, "memberId", memberID, "ownerId", chat.MemberID)
		return nil, ErrChatAccessDenied
	}
	return chat, nil
}

func composeSummary(previous, question, answer string) string {
	turn := "User: " + question + "\nAssistant: " + answer
	if previous == "" {
		return turn
	}
	return previous + "\n" + turn
}

func cacheKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
