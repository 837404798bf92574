// Package testutil provides polling helpers for tests that wait on
// background work, such as async requests completing on worker goroutines.
package testutil

import (
	"context"
	"fmt"
	"time"
)

const (
	// AsyncTimeout bounds how long a test waits for a background job.
	AsyncTimeout = 5 * time.Second
	// PollInterval is the default polling step.
	PollInterval = time.Millisecond
)

// Poll checks condition every interval until it returns true. It fails once
// timeout has elapsed or ctx is done, whichever comes first.
func Poll(ctx context.Context, condition func() bool, timeout time.Duration, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for !condition() {
		if !time.Now().Before(deadline) {
			return fmt.Errorf("condition not met within %v", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// WaitForState polls getter until its value satisfies predicate, returning
// that value.
//
//	status, err := WaitForState(ctx,
//		func() task.Status { return eng.Tick(id, runner, tpl, dt) },
//		func(s task.Status) bool { return s != task.Running },
//		AsyncTimeout, PollInterval)
func WaitForState[T any](ctx context.Context, getter func() T, predicate func(T) bool, timeout time.Duration, interval time.Duration) (T, error) {
	var last T
	err := Poll(ctx, func() bool {
		last = getter()
		return predicate(last)
	}, timeout, interval)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("waiting for %T state: %w", zero, err)
	}
	return last, nil
}
