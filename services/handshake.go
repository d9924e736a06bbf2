package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"coreapi/storage/tokenstore"
)

// ErrHandshakeRejected is returned when a one-time key pair is unknown,
// already consumed, or the secret does not match.
var ErrHandshakeRejected = errors.New("one-time key rejected")

// OneTimeKeys issues short-lived single-use key pairs for the inference
// engine handshake. Each outbound stream request carries a fresh pair; the
// engine presents it back on its callback and the pair is consumed on first
// verification.
type OneTimeKeys struct {
	store *tokenstore.Store
	ttl   time.Duration
}

// NewOneTimeKeys creates an issuer whose keys live for ttl after issue.
func NewOneTimeKeys(store *tokenstore.Store, ttl time.Duration) *OneTimeKeys {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &OneTimeKeys{store: store, ttl: ttl}
}

// Issue generates and stores a fresh key pair.
func (k *OneTimeKeys) Issue(ctx context.Context) (key, secret string, err error) {
	key = uuid.NewString()
	secret = uuid.NewString()
	if err := k.store.SaveOneTimeKey(ctx, key, secret, k.ttl); err != nil {
		return "", "", fmt.Errorf("issue one-time key: %w", err)
	}
	return key, secret, nil
}

// Verify consumes the key and checks the secret. A second Verify with the
// same key fails regardless of the secret.
func (k *OneTimeKeys) Verify(ctx context.Context, key, secret string) error {
	stored, err := k.store.TakeOneTimeKey(ctx, key)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return ErrHandshakeRejected
		}
		return fmt.Errorf("verify one-time key: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(secret)) != 1 {
		return ErrHandshakeRejected
	}
	return nil
}
