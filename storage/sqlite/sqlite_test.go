package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coreapi/datatypes"
	"coreapi/storage"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "coreapi.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndFetchMember(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	email := gofakeit.Email()
	id, err := s.SaveMember(ctx, email, []byte("hash"), datatypes.RoleUser)
	require.NoError(t, err)
	require.Positive(t, id)

	byEmail, err := s.MemberByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, id, byEmail.ID)
	assert.Equal(t, datatypes.RoleUser, byEmail.Role)
	assert.Equal(t, datatypes.StatusActive, byEmail.Status)
	assert.Nil(t, byEmail.LastLoginAt)

	byID, err := s.MemberByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, email, byID.Email)
}

func TestDuplicateEmailRejected(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	email := gofakeit.Email()
	_, err := s.SaveMember(ctx, email, []byte("hash"), datatypes.RoleUser)
	require.NoError(t, err)

	_, err = s.SaveMember(ctx, email, []byte("hash2"), datatypes.RoleUser)
	assert.ErrorIs(t, err, storage.ErrMemberExists)
}

func TestMemberNotFound(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.MemberByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.MemberByID(context.Background(), 12345)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateLastLogin(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	id, err := s.SaveMember(ctx, gofakeit.Email(), []byte("hash"), datatypes.RoleUser)
	require.NoError(t, err)

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpdateLastLogin(ctx, id, at))

	m, err := s.MemberByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, m.LastLoginAt)
	assert.WithinDuration(t, at, *m.LastLoginAt, time.Second)
}

func TestUpdateMemberStatus(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	id, err := s.SaveMember(ctx, gofakeit.Email(), []byte("hash"), datatypes.RoleUser)
	require.NoError(t, err)

	require.NoError(t, s.UpdateMemberStatus(ctx, id, datatypes.StatusSuspended))
	m, err := s.MemberByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusSuspended, m.Status)
	assert.False(t, m.Usable())

	err = s.UpdateMemberStatus(ctx, 9999, datatypes.StatusDeleted)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChatLifecycle(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	memberID, err := s.SaveMember(ctx, gofakeit.Email(), []byte("hash"), datatypes.RoleUser)
	require.NoError(t, err)

	chat, err := s.CreateChat(ctx, memberID, "2026-09-01 Chat")
	require.NoError(t, err)
	assert.Equal(t, memberID, chat.MemberID)
	assert.Empty(t, chat.Summary)

	require.NoError(t, s.UpdateChatPreview(ctx, chat.ID, "hello there"))
	require.NoError(t, s.UpdateChatSummary(ctx, chat.ID, "greeted the bot"))
	require.NoError(t, s.UpdateChatTitle(ctx, chat.ID, "Greetings"))

	got, err := s.ChatByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello there", got.LastMessagePreview)
	assert.Equal(t, "greeted the bot", got.Summary)
	assert.Equal(t, "Greetings", got.Title)

	require.NoError(t, s.SetChatArchived(ctx, chat.ID, true))
	got, err = s.ChatByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)

	require.NoError(t, s.DeleteChat(ctx, chat.ID))
	_, err = s.ChatByID(ctx, chat.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChatsByMemberOrdering(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	memberID, err := s.SaveMember(ctx, gofakeit.Email(), []byte("hash"), datatypes.RoleUser)
	require.NoError(t, err)

	first, err := s.CreateChat(ctx, memberID, "first")
	require.NoError(t, err)
	second, err := s.CreateChat(ctx, memberID, "second")
	require.NoError(t, err)

	// Activity on the older chat moves it to the front.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.UpdateChatPreview(ctx, first.ID, "newest activity"))

	chats, err := s.ChatsByMember(ctx, memberID)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, first.ID, chats[0].ID)
	assert.Equal(t, second.ID, chats[1].ID)
}

func TestCountChatsCreatedBetween(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	memberID, err := s.SaveMember(ctx, gofakeit.Email(), []byte("hash"), datatypes.RoleUser)
	require.NoError(t, err)
	otherID, err := s.SaveMember(ctx, gofakeit.Email(), []byte("hash"), datatypes.RoleUser)
	require.NoError(t, err)

	_, err = s.CreateChat(ctx, memberID, "a")
	require.NoError(t, err)
	_, err = s.CreateChat(ctx, memberID, "b")
	require.NoError(t, err)
	_, err = s.CreateChat(ctx, otherID, "c")
	require.NoError(t, err)

	now := time.Now().UTC()
	dayStart := now.Truncate(24 * time.Hour)

	n, err := s.CountChatsCreatedBetween(ctx, memberID, dayStart, dayStart.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
