// Package tokenstore provides the TTL key-value store backing the token
// lifecycle: refresh-token records, access-token hashes, the revocation
// blacklist, and one-time handshake keys.
//
// BadgerDB is used for local embedded storage with low-latency access and
// native per-entry TTL, so expired records vanish without a sweeper.
//
// Key layout:
//
//	rt:<memberID>   raw refresh token, compared verbatim on rotation
//	at:<memberID>   hex SHA-256 of the member's current access token
//	bl:<tokenHash>  revocation blacklist entry ("1")
//	otk:<key>       one-time handshake secret, consumed on first read
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	prefixRefresh    = "rt:"
	prefixAccessHash = "at:"
	prefixBlacklist  = "bl:"
	prefixOneTimeKey = "otk:"
)

// Config holds configuration for the token store's BadgerDB instance.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: persistent, synchronous writes.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns configuration optimized for testing.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a TTL-aware credential store. Safe for concurrent use.
type Store struct {
	db *badger.DB
}

// ErrNotFound is returned when a key is absent or its TTL has elapsed.
var ErrNotFound = errors.New("token record not found")

// Open creates and opens the store with the given configuration.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRefresh stores the member's current refresh token, replacing any
// previous one. A member has at most one live refresh token.
func (s *Store) SaveRefresh(ctx context.Context, memberID int64, token string, ttl time.Duration) error {
	return s.setTTL(ctx, refreshKey(memberID), []byte(token), ttl)
}

// Refresh returns the member's stored refresh token.
func (s *Store) Refresh(ctx context.Context, memberID int64) (string, error) {
	val, err := s.get(ctx, refreshKey(memberID))
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// DeleteRefresh revokes the member's refresh token. Deleting an absent
// key is not an error.
func (s *Store) DeleteRefresh(ctx context.Context, memberID int64) error {
	return s.delete(ctx, refreshKey(memberID))
}

// SaveAccessHash records the hash of the member's current access token.
func (s *Store) SaveAccessHash(ctx context.Context, memberID int64, tokenHash string, ttl time.Duration) error {
	return s.setTTL(ctx, accessKey(memberID), []byte(tokenHash), ttl)
}

// AccessHash returns the hash of the member's current access token.
func (s *Store) AccessHash(ctx context.Context, memberID int64) (string, error) {
	val, err := s.get(ctx, accessKey(memberID))
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// DeleteAccessHash removes the member's access-hash record.
func (s *Store) DeleteAccessHash(ctx context.Context, memberID int64) error {
	return s.delete(ctx, accessKey(memberID))
}

// Blacklist marks a token hash as revoked until its natural expiry.
// The TTL should be the token's remaining validity; once the token would
// have expired anyway the entry is dead weight.
func (s *Store) Blacklist(ctx context.Context, tokenHash string, ttl time.Duration) error {
	return s.setTTL(ctx, blacklistKey(tokenHash), []byte("1"), ttl)
}

// IsBlacklisted reports whether a token hash has been revoked.
func (s *Store) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	_, err := s.get(ctx, blacklistKey(tokenHash))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SaveOneTimeKey stores a handshake secret under the given key.
func (s *Store) SaveOneTimeKey(ctx context.Context, key, secret string, ttl time.Duration) error {
	return s.setTTL(ctx, oneTimeKey(key), []byte(secret), ttl)
}

// TakeOneTimeKey returns the handshake secret and deletes it in the same
// transaction, so the key can be consumed exactly once.
func (s *Store) TakeOneTimeKey(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	var secret string
	err := s.db.Update(func(txn *badger.Txn) error {
		k := oneTimeKey(key)
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		secret = string(val)
		return txn.Delete(k)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("take one-time key: %w", err)
	}
	return secret, nil
}

func (s *Store) setTTL(ctx context.Context, key, val []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, val).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}

func (s *Store) delete(ctx context.Context, key []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func refreshKey(memberID int64) []byte {
	return []byte(prefixRefresh + strconv.FormatInt(memberID, 10))
}

func accessKey(memberID int64) []byte {
	return []byte(prefixAccessHash + strconv.FormatInt(memberID, 10))
}

func blacklistKey(tokenHash string) []byte {
	return []byte(prefixBlacklist + tokenHash)
}

func oneTimeKey(key string) []byte {
	return []byte(prefixOneTimeKey + key)
}
