package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"coreapi/datatypes"
	"coreapi/middleware"
	"coreapi/observability"
	"coreapi/services"
)

// ChatHandler serves the /chats endpoints, including the message stream.
type ChatHandler struct {
	chats  *services.ChatService
	logger *slog.Logger
}

func NewChatHandler(chats *services.ChatService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{chats: chats, logger: logger}
}

// CreateChat handles POST /chats.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	p := middleware.GetPrincipal(c)

	chat, err := h.chats.CreateChat(c.Request.Context(), p.MemberID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, datatypes.NewChatResponse(chat))
}

// ListChats handles GET /chats.
func (h *ChatHandler) ListChats(c *gin.Context) {
	p := middleware.GetPrincipal(c)

	chats, err := h.chats.ListChats(c.Request.Context(), p.MemberID)
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]datatypes.ChatResponse, 0, len(chats))
	for i := range chats {
		out = append(out, datatypes.NewChatResponse(&chats[i]))
	}
	c.JSON(http.StatusOK, out)
}

// GetChat handles GET /chats/:chatId, returning the chat with its full
// transcript in sequence order.
func (h *ChatHandler) GetChat(c *gin.Context) {
	p := middleware.GetPrincipal(c)
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	chat, msgs, err := h.chats.GetChat(c.Request.Context(), p.MemberID, chatID)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := datatypes.NewChatResponse(chat)
	resp.Messages = make([]datatypes.MessageResponse, 0, len(msgs))
	for i := range msgs {
		resp.Messages = append(resp.Messages, datatypes.NewMessageResponse(&msgs[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// archiveRequest is the body of PATCH /chats/:chatId/archive.
type archiveRequest struct {
	Archived *bool `json:"archived" binding:"required"`
}

// SetArchived handles PATCH /chats/:chatId/archive.
func (h *ChatHandler) SetArchived(c *gin.Context) {
	p := middleware.GetPrincipal(c)
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	var req archiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	if err := h.chats.SetArchived(c.Request.Context(), p.MemberID, chatID, *req.Archived); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteChat handles DELETE /chats/:chatId.
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	p := middleware.GetPrincipal(c)
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	if err := h.chats.DeleteChat(c.Request.Context(), p.MemberID, chatID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StreamMessage handles POST /chats/:chatId/message.
//
// The response is NDJSON: token and sources chunks as the engine produces
// them, at most one error chunk, then always exactly one done chunk.
// Failures before the first chunk (bad request, foreign chat, engine down)
// are plain JSON errors instead; once streaming begins the status is
// already 200 and failures travel in-band.
func (h *ChatHandler) StreamMessage(c *gin.Context) {
	p := middleware.GetPrincipal(c)
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	var req datatypes.ChatbotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	finish := observability.StreamStarted()
	start := time.Now()

	// The writer is created lazily on the first chunk, keeping the plain
	// JSON error path open until streaming actually starts.
	var sw StreamWriter
	emit := func(chunk datatypes.ChatChunk) error {
		if sw == nil {
			var err error
			if sw, err = NewStreamWriter(c.Writer); err != nil {
				return err
			}
			observability.FirstChunk(time.Since(start))
		}
		return sw.WriteChunk(chunk)
	}

	err := h.chats.StreamMessage(c.Request.Context(), p.MemberID, chatID, req.Query, emit)

	if err != nil && sw == nil {
		if isUnavailable(err) {
			observability.PreflightFailed()
		}
		finish(observability.StreamRefused)
		writeError(c, err)
		return
	}

	if err != nil {
		// Streaming had begun and then the connection itself failed;
		// there is nobody left to write to.
		h.logger.Warn("stream connection lost", "chatId", chatID, "error", err)
		finish(observability.StreamError)
		return
	}

	// Success path, including in-band error chunks and empty answers:
	// the stream always terminates with a done chunk.
	if sw == nil {
		var werr error
		if sw, werr = NewStreamWriter(c.Writer); werr != nil {
			finish(observability.StreamError)
			return
		}
	}
	if werr := sw.WriteDone(); werr != nil {
		h.logger.Warn("write done chunk failed", "chatId", chatID, "error", werr)
		finish(observability.StreamError)
		return
	}
	finish(observability.StreamOK)
}

// EngineMessages handles GET /internal/chats/:chatId/messages, the callback
// the inference engine uses to read a transcript. Authenticated by the
// one-time key middleware, not by a member token, so there is no ownership
// check here; the engine only ever holds keys for chats it was invoked on.
// An optional ?limit=n returns only the most recent n turns.
func (h *ChatHandler) EngineMessages(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	var limit int64
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			c.AbortWithStatusJSON(http.StatusBadRequest, apiError{
				Code:    "INVALID_REQUEST",
				Message: "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}

	msgs, err := h.chats.Transcript(c.Request.Context(), chatID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]datatypes.MessageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, datatypes.NewMessageResponse(&msgs[i]))
	}
	c.JSON(http.StatusOK, out)
}

func chatIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("chatId"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, apiError{
			Code:    "INVALID_REQUEST",
			Message: "chatId must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

func isUnavailable(err error) bool {
	_, code, _ := classify(err)
	return code == "INFERENCE_UNAVAILABLE"
}
