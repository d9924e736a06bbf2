// Package sqlite persists members and chats in an embedded relational store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"coreapi/datatypes"
	"coreapi/storage"
)

type Storage struct {
	db *sql.DB
}

// New opens the database at storagePath and ensures the schema exists.
func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"

	db, err := sql.Open("sqlite3", storagePath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s := &Storage{db: db}
	if err := s.bootstrap(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) bootstrap() error {
	const schema = `
CREATE TABLE IF NOT EXISTS members (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	email         TEXT    NOT NULL UNIQUE,
	pass_hash     BLOB    NOT NULL,
	role          TEXT    NOT NULL DEFAULT 'USER',
	status        TEXT    NOT NULL DEFAULT 'ACTIVE',
	last_login_at DATETIME,
	created_at    DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS chats (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	member_id            INTEGER NOT NULL REFERENCES members(id),
	title                TEXT    NOT NULL,
	summary              TEXT    NOT NULL DEFAULT '',
	last_message_preview TEXT    NOT NULL DEFAULT '',
	is_archived          INTEGER NOT NULL DEFAULT 0,
	created_at           DATETIME NOT NULL,
	updated_at           DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chats_member ON chats(member_id, updated_at);
`
	_, err := s.db.Exec(schema)
	return err
}

// SaveMember inserts a new member and returns its id.
func (s *Storage) SaveMember(ctx context.Context, email string, passHash []byte, role datatypes.Role) (int64, error) {
	const op = "storage.sqlite.SaveMember"

	stmt, err := s.db.Prepare("INSERT INTO members (email, pass_hash, role, status, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	result, err := stmt.ExecContext(ctx, email, passHash, string(role), string(datatypes.StatusActive), time.Now().UTC())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrMemberExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return result.LastInsertId()
}

// MemberByEmail returns the member with the given email.
func (s *Storage) MemberByEmail(ctx context.Context, email string) (*datatypes.Member, error) {
	const op = "storage.sqlite.MemberByEmail"

	row := s.db.QueryRowContext(ctx,
		"SELECT id, email, pass_hash, role, status, last_login_at, created_at FROM members WHERE email = ?", email)
	return scanMember(row, op)
}

// MemberByID returns the member with the given id.
func (s *Storage) MemberByID(ctx context.Context, id int64) (*datatypes.Member, error) {
	const op = "storage.sqlite.MemberByID"

	row := s.db.QueryRowContext(ctx,
		"SELECT id, email, pass_hash, role, status, last_login_at, created_at FROM members WHERE id = ?", id)
	return scanMember(row, op)
}

func scanMember(row *sql.Row, op string) (*datatypes.Member, error) {
	var (
		m         datatypes.Member
		role      string
		status    string
		lastLogin sql.NullTime
	)
	err := row.Scan(&m.ID, &m.Email, &m.PassHash, &role, &status, &lastLogin, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.Role = datatypes.Role(role)
	m.Status = datatypes.Status(status)
	if lastLogin.Valid {
		t := lastLogin.Time
		m.LastLoginAt = &t
	}
	return &m, nil
}

// UpdateLastLogin records a successful sign-in.
func (s *Storage) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	const op = "storage.sqlite.UpdateLastLogin"

	_, err := s.db.ExecContext(ctx, "UPDATE members SET last_login_at = ? WHERE id = ?", at.UTC(), id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdateMemberStatus sets the member's account status.
func (s *Storage) UpdateMemberStatus(ctx context.Context, id int64, status datatypes.Status) error {
	const op = "storage.sqlite.UpdateMemberStatus"

	result, err := s.db.ExecContext(ctx, "UPDATE members SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}

// CreateChat inserts a new chat for the member and returns it.
func (s *Storage) CreateChat(ctx context.Context, memberID int64, title string) (*datatypes.Chat, error) {
	const op = "storage.sqlite.CreateChat"

	now := time.Now().UTC()
	stmt, err := s.db.Prepare("INSERT INTO chats (member_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	result, err := stmt.ExecContext(ctx, memberID, title, now, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &datatypes.Chat{
		ID:        id,
		MemberID:  memberID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ChatByID returns the chat with the given id.
func (s *Storage) ChatByID(ctx context.Context, id int64) (*datatypes.Chat, error) {
	const op = "storage.sqlite.ChatByID"

	row := s.db.QueryRowContext(ctx,
		"SELECT id, member_id, title, summary, last_message_preview, is_archived, created_at, updated_at FROM chats WHERE id = ?", id)

	var c datatypes.Chat
	err := row.Scan(&c.ID, &c.MemberID, &c.Title, &c.Summary, &c.LastMessagePreview, &c.IsArchived, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &c, nil
}

// ChatsByMember returns the member's chats, most recently active first.
func (s *Storage) ChatsByMember(ctx context.Context, memberID int64) ([]datatypes.Chat, error) {
	const op = "storage.sqlite.ChatsByMember"

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, member_id, title, summary, last_message_preview, is_archived, created_at, updated_at FROM chats WHERE member_id = ? ORDER BY updated_at DESC", memberID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var chats []datatypes.Chat
	for rows.Next() {
		var c datatypes.Chat
		if err := rows.Scan(&c.ID, &c.MemberID, &c.Title, &c.Summary, &c.LastMessagePreview, &c.IsArchived, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return chats, nil
}

// CountChatsCreatedBetween counts a member's chats created in [from, to).
// Used to pick the "(n)" suffix for default chat titles.
func (s *Storage) CountChatsCreatedBetween(ctx context.Context, memberID int64, from, to time.Time) (int64, error) {
	const op = "storage.sqlite.CountChatsCreatedBetween"

	row := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chats WHERE member_id = ? AND created_at >= ? AND created_at < ?",
		memberID, from.UTC(), to.UTC())

	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// UpdateChatPreview sets the last-message preview and bumps updated_at.
func (s *Storage) UpdateChatPreview(ctx context.Context, chatID int64, preview string) error {
	const op = "storage.sqlite.UpdateChatPreview"
	return s.updateChat(ctx, op, "UPDATE chats SET last_message_preview = ?, updated_at = ? WHERE id = ?", preview, time.Now().UTC(), chatID)
}

// UpdateChatSummary sets the rolling summary without touching updated_at;
// summaries are generated in the background and must not reorder chat lists.
func (s *Storage) UpdateChatSummary(ctx context.Context, chatID int64, summary string) error {
	const op = "storage.sqlite.UpdateChatSummary"
	return s.updateChat(ctx, op, "UPDATE chats SET summary = ? WHERE id = ?", summary, chatID)
}

// UpdateChatTitle sets the chat title without touching updated_at.
func (s *Storage) UpdateChatTitle(ctx context.Context, chatID int64, title string) error {
	const op = "storage.sqlite.UpdateChatTitle"
	return s.updateChat(ctx, op, "UPDATE chats SET title = ? WHERE id = ?", title, chatID)
}

// SetChatArchived flips the archived flag.
func (s *Storage) SetChatArchived(ctx context.Context, chatID int64, archived bool) error {
	const op = "storage.sqlite.SetChatArchived"
	return s.updateChat(ctx, op, "UPDATE chats SET is_archived = ?, updated_at = ? WHERE id = ?", archived, time.Now().UTC(), chatID)
}

// DeleteChat removes a chat row. Message documents are deleted separately
// by the document store.
func (s *Storage) DeleteChat(ctx context.Context, chatID int64) error {
	const op = "storage.sqlite.DeleteChat"

	result, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", chatID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}

func (s *Storage) updateChat(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}
