// Package datatypes defines the domain models and wire-level DTOs shared by
// the handlers, services, and storage layers.
//
// Models are split across three backing stores:
//   - Member and Chat rows live in the relational store.
//   - Message documents and per-chat sequence counters live in the document store.
//   - Token records (refresh, blacklist, one-time keys) live in the TTL
//     key-value store and never appear here in full; only hashes are kept.
package datatypes

import "time"

// Role is a member's authorization role. Roles are compared directly as
// typed values; no string formatting is involved in authorization checks.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleUser    Role = "USER"
)

// Status is a member's account activation status.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusInactive  Status = "INACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusDeleted   Status = "DELETED"
)

// Sender identifies which side of the conversation produced a message.
type Sender string

const (
	SenderUser Sender = "USER"
	SenderBot  Sender = "BOT"
)

// Member is a registered account. PassHash is a bcrypt hash and is never
// serialized to clients.
type Member struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	PassHash    []byte     `json:"-"`
	Role        Role       `json:"role"`
	Status      Status     `json:"status"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Usable reports whether the account may sign in or refresh tokens.
func (m *Member) Usable() bool {
	return m.Status == StatusActive
}

// Chat is a conversation owned by exactly one member. Title, Summary and
// LastMessagePreview are mutated only by the chat orchestrator in response
// to message activity.
type Chat struct {
	ID                 int64     `json:"id"`
	MemberID           int64     `json:"memberId"`
	Title              string    `json:"title"`
	Summary            string    `json:"summary,omitempty"`
	LastMessagePreview string    `json:"lastMessagePreview,omitempty"`
	IsArchived         bool      `json:"isArchived"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// SourceDocument is one citation attached to a bot message.
type SourceDocument struct {
	FileName   string `json:"fileName" bson:"file_name"`
	Title      string `json:"title,omitempty" bson:"title,omitempty"`
	PageNumber int    `json:"pageNumber" bson:"page_number"`
	Snippet    string `json:"snippet" bson:"snippet"`
}

// Message is one turn in a chat, stored in the document store.
//
// For a fixed ChatID the Sequence values are strictly increasing and unique;
// readers tolerate gaps but never duplicates, and sequence order is the total
// order of the conversation.
type Message struct {
	ID          string           `json:"id" bson:"_id,omitempty"`
	ChatID      int64            `json:"chatId" bson:"chat_id"`
	Sender      Sender           `json:"sender" bson:"sender"`
	Content     string           `json:"content" bson:"content"`
	ContentType string           `json:"contentType" bson:"content_type"`
	Sequence    int64            `json:"sequence" bson:"sequence"`
	Sources     []SourceDocument `json:"sources,omitempty" bson:"sources,omitempty"`
	CreatedAt   time.Time        `json:"createdAt" bson:"created_at"`
}
