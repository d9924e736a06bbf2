package datatypes

import (
	"encoding/json"
	"time"
)

// Chunk types emitted on the message stream. The stream is a finite ordered
// sequence of token and sources chunks, optionally one error chunk, and
// always exactly one terminal done chunk.
const (
	ChunkTypeToken   = "token"
	ChunkTypeSources = "sources"
	ChunkTypeError   = "error"
	ChunkTypeDone    = "done"
)

// ChatChunk is one element of the streamed chat response, serialized as a
// single NDJSON line: {"type":"token","data":"Hel"}. Data is kept raw so
// that chunks received from the inference engine can be forwarded to the
// caller without re-encoding.
type ChatChunk struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// TokenChunk builds a token chunk carrying one answer fragment.
func TokenChunk(fragment string) ChatChunk {
	data, _ := json.Marshal(fragment)
	return ChatChunk{Type: ChunkTypeToken, Data: data}
}

// SourcesChunk builds a sources chunk carrying a batch of citations.
func SourcesChunk(sources []SourceDocument) ChatChunk {
	data, _ := json.Marshal(sources)
	return ChatChunk{Type: ChunkTypeSources, Data: data}
}

// ErrorChunk builds the synthetic error chunk emitted when an exchange
// times out or the inference stream fails mid-flight.
func ErrorChunk(message string) ChatChunk {
	data, _ := json.Marshal(message)
	return ChatChunk{Type: ChunkTypeError, Data: data}
}

// DoneChunk builds the terminal marker appended after every stream, so
// callers can detect completion without relying on connection close.
func DoneChunk() ChatChunk {
	return ChatChunk{Type: ChunkTypeDone, Data: json.RawMessage("true")}
}

// TokenText decodes the answer fragment from a token chunk. Non-string
// payloads decode to "".
func (c ChatChunk) TokenText() string {
	var s string
	_ = json.Unmarshal(c.Data, &s)
	return s
}

// SourceList decodes the citation batch from a sources chunk.
func (c ChatChunk) SourceList() ([]SourceDocument, error) {
	var sources []SourceDocument
	if err := json.Unmarshal(c.Data, &sources); err != nil {
		return nil, err
	}
	return sources, nil
}

// SignUpRequest is the body of POST /auth/sign-up.
type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

// AuthRequest is the body of POST /auth/sign-in.
type AuthRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// AuthInfo is returned by sign-in and refresh.
type AuthInfo struct {
	AccessToken     string     `json:"accessToken"`
	RefreshToken    string     `json:"refreshToken"`
	RefreshTokenTTL int64      `json:"refreshTokenTtlSeconds"`
	MemberID        int64      `json:"memberId"`
	Email           string     `json:"email"`
	Role            Role       `json:"role"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
}

// ChatbotRequest is the body of POST /chats/{chatId}/message.
type ChatbotRequest struct {
	Query string `json:"query" binding:"required,min=1,max=1000"`
}

// ChatResponse is the list/detail representation of a chat.
type ChatResponse struct {
	ID                 int64             `json:"id"`
	Title              string            `json:"title"`
	LastMessagePreview string            `json:"lastMessagePreview,omitempty"`
	IsArchived         bool              `json:"isArchived"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
	Messages           []MessageResponse `json:"messages,omitempty"`
}

// MessageResponse is the client representation of a message.
type MessageResponse struct {
	ID        string           `json:"id"`
	Sender    Sender           `json:"sender"`
	Content   string           `json:"content"`
	Sequence  int64            `json:"sequence"`
	Sources   []SourceDocument `json:"sources,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// NewChatResponse maps a Chat row to its client representation.
func NewChatResponse(chat *Chat) ChatResponse {
	return ChatResponse{
		ID:                 chat.ID,
		Title:              chat.Title,
		LastMessagePreview: chat.LastMessagePreview,
		IsArchived:         chat.IsArchived,
		CreatedAt:          chat.CreatedAt,
		UpdatedAt:          chat.UpdatedAt,
	}
}

// NewMessageResponse maps a Message document to its client representation.
func NewMessageResponse(msg *Message) MessageResponse {
	return MessageResponse{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		Sequence:  msg.Sequence,
		Sources:   msg.Sources,
		CreatedAt: msg.CreatedAt,
	}
}
