package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"coreapi/datatypes"
)

// ContentTypeText is the only content type clients can submit today; other
// types arrive through ingestion paths and surface in previews as labels.
const ContentTypeText = "text"

// previewMaxRunes bounds the chat list preview.
const previewMaxRunes = 100

// MessageStore persists conversation turns.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *datatypes.Message) (*datatypes.Message, error)
	MessagesByChat(ctx context.Context, chatID int64) ([]datatypes.Message, error)
	LastMessages(ctx context.Context, chatID, n int64) ([]datatypes.Message, error)
	DeleteChatMessages(ctx context.Context, chatID int64) error
}

// MessageService saves and lists conversation turns. Sequence assignment
// happens inside the store; callers never pick sequence numbers.
type MessageService struct {
	store  MessageStore
	logger *slog.Logger
}

func NewMessageService(store MessageStore, logger *slog.Logger) *MessageService {
	return &MessageService{store: store, logger: logger}
}

// SaveUserMessage appends the member's question to the chat.
func (s *MessageService) SaveUserMessage(ctx context.Context, chatID int64, content string) (*datatypes.Message, error) {
	return s.save(ctx, chatID, datatypes.SenderUser, content, nil)
}

// SaveBotMessage appends the engine's answer, with citations, to the chat.
func (s *MessageService) SaveBotMessage(ctx context.Context, chatID int64, content string, sources []datatypes.SourceDocument) (*datatypes.Message, error) {
	return s.save(ctx, chatID, datatypes.SenderBot, content, sources)
}

func (s *MessageService) save(ctx context.Context, chatID int64, sender datatypes.Sender, content string, sources []datatypes.SourceDocument) (*datatypes.Message, error) {
	const op = "services.message.save"

	msg, err := s.store.SaveMessage(ctx, &datatypes.Message{
		ChatID:      chatID,
		Sender:      sender,
		Content:     content,
		ContentType: ContentTypeText,
		Sources:     sources,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Debug("message saved",
		"chatId", chatID,
		"sender", sender,
		"sequence", msg.Sequence,
	)
	return msg, nil
}

// Messages returns the chat's full transcript in sequence order.
func (s *MessageService) Messages(ctx context.Context, chatID int64) ([]datatypes.Message, error) {
	const op = "services.message.Messages"

	msgs, err := s.store.MessagesByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return msgs, nil
}

// Recent returns the chat's last n messages in sequence order.
func (s *MessageService) Recent(ctx context.Context, chatID, n int64) ([]datatypes.Message, error) {
	const op = "services.message.Recent"

	msgs, err := s.store.LastMessages(ctx, chatID, n)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return msgs, nil
}

// DeleteAll removes the chat's transcript and its sequence counter.
func (s *MessageService) DeleteAll(ctx context.Context, chatID int64) error {
	const op = "services.message.DeleteAll"

	if err := s.store.DeleteChatMessages(ctx, chatID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PreviewText derives the chat-list preview from a message. Non-text
// content collapses to a bracketed label; long text is cut at a rune
// boundary with a trailing ellipsis.
func PreviewText(contentType, content string) string {
	if contentType != ContentTypeText && contentType != "" {
		return "[" + contentType + "]"
	}

	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= previewMaxRunes {
		return content
	}

	runes := []rune(content)
	return string(runes[:previewMaxRunes]) + "..."
}
