package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrUserTimeout is returned when per-user work exceeds its deadline
	ErrUserTimeout = errors.New("user processing timed out")
	// ErrNoTaskSlot is returned when abandoned tasks hold every slot for a whole timeout
	ErrNoTaskSlot = errors.New("no task slot available")
)

// runTask runs fn in its own goroutine under a hard deadline. The slot taken
// from sem is released only when fn returns, so abandoned tasks still count
// against the bound. Waiting for a slot is bounded by the same timeout.
func runTask[T any](ctx context.Context, sem *semaphore.Weighted, timeout time.Duration, fn func(context.Context) T) (T, error) {
	var zero T
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, timeout)
	err := sem.Acquire(acquireCtx, 1)
	cancelAcquire()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, fmt.Errorf("failed to acquire task slot: %w", ctxErr)
		}
		return zero, fmt.Errorf("%w within %s", ErrNoTaskSlot, timeout)
	}

	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	done := make(chan T, 1)
	go func() {
		defer sem.Release(1)
		defer cancel()
		done <- fn(taskCtx)
	}()

	select {
	case result := <-done:
		// a result that only arrived after the deadline is still a timeout
		if ctx.Err() == nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			return zero, timeoutError(timeout)
		}
		return result, nil
	case <-taskCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			return zero, timeoutError(timeout)
		}
		// cancelled by the task itself after its result was sent
		return <-done, nil
	}
}

func timeoutError(timeout time.Duration) error {
	return fmt.Errorf("%w after %s", ErrUserTimeout, timeout)
}
