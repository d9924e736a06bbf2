package services

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Background runs detached tasks that must outlive the request that spawned
// them, such as summary and title generation after a stream completes.
//
// Tasks run on a context derived with context.WithoutCancel from the caller's
// context, so request cancellation (client disconnect, handler return) never
// aborts them, but request-scoped values survive for logging. Each task gets
// its own deadline. Panics are recovered and logged; a crashed task never
// takes the process down.
type Background struct {
	wg      sync.WaitGroup
	logger  *slog.Logger
	timeout time.Duration
}

// NewBackground creates a runner whose tasks are each bounded by timeout.
func NewBackground(logger *slog.Logger, timeout time.Duration) *Background {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Background{logger: logger, timeout: timeout}
}

// Go schedules fn on its own goroutine. The name appears in logs only.
func (b *Background) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	b.wg.Add(1)
	detached := context.WithoutCancel(ctx)

	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("background task panicked",
					"task", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()

		taskCtx, cancel := context.WithTimeout(detached, b.timeout)
		defer cancel()

		start := time.Now()
		if err := fn(taskCtx); err != nil {
			b.logger.Warn("background task failed",
				"task", name,
				"duration", time.Since(start),
				"error", err,
			)
			return
		}
		b.logger.Debug("background task completed",
			"task", name,
			"duration", time.Since(start),
		)
	}()
}

// Wait blocks until all in-flight tasks finish or ctx expires. Used during
// graceful shutdown.
func (b *Background) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
