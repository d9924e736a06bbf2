package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackgroundSurvivesCallerCancellation(t *testing.T) {
	bg := NewBackground(testLogger(), time.Second)

	reqCtx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool

	bg.Go(reqCtx, "task", func(taskCtx context.Context) error {
		// The request context is already cancelled by now; the task
		// context must still be live.
		time.Sleep(20 * time.Millisecond)
		ran.Store(taskCtx.Err() == nil)
		return nil
	})
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, bg.Wait(waitCtx))
	assert.True(t, ran.Load())
}

func TestBackgroundRecoversPanic(t *testing.T) {
	bg := NewBackground(testLogger(), time.Second)

	bg.Go(context.Background(), "panicky", func(context.Context) error {
		panic("boom")
	})

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, bg.Wait(waitCtx), "a panicking task must not wedge Wait")
}

func TestBackgroundTaskTimeout(t *testing.T) {
	bg := NewBackground(testLogger(), 20*time.Millisecond)

	var sawDeadline atomic.Bool
	bg.Go(context.Background(), "slow", func(taskCtx context.Context) error {
		<-taskCtx.Done()
		sawDeadline.Store(true)
		return taskCtx.Err()
	})

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bg.Wait(waitCtx))
	assert.True(t, sawDeadline.Load())
}

func TestBackgroundWaitTimesOut(t *testing.T) {
	bg := NewBackground(testLogger(), time.Minute)

	release := make(chan struct{})
	bg.Go(context.Background(), "stuck", func(context.Context) error {
		<-release
		return nil
	})

	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.Error(t, bg.Wait(waitCtx))
	close(release)
}

func TestOneTimeKeysVerify(t *testing.T) {
	// Exercised against the real store in the tokenstore package; here the
	// service-level contract: issue once, verify once.
	f := newAuthFixture(t)
	keys := NewOneTimeKeys(f.tokens, time.Minute)
	ctx := context.Background()

	key, secret, err := keys.Issue(ctx)
	require.NoError(t, err)
	require.NotEqual(t, key, secret)

	require.NoError(t, keys.Verify(ctx, key, secret))
	assert.ErrorIs(t, keys.Verify(ctx, key, secret), ErrHandshakeRejected)

	key2, _, err := keys.Issue(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, keys.Verify(ctx, key2, "wrong-secret"), ErrHandshakeRejected)

	// A consumed-on-mismatch key cannot be retried with the right secret.
	assert.ErrorIs(t, keys.Verify(ctx, key2, secret), ErrHandshakeRejected)
}
