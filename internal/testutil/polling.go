package testutil

import (
	"context"
	"fmt"
	"time"
)

// Poll checks condition every interval until it holds, the timeout passes or
// ctx is done.
func Poll(ctx context.Context, condition func() bool, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if condition() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for condition (threshold: %v)", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForState polls getter until predicate accepts its result.
func WaitForState[T any](ctx context.Context, getter func() T, predicate func(T) bool, timeout, interval time.Duration) (T, error) {
	var state T
	err := Poll(ctx, func() bool {
		state = getter()
		return predicate(state)
	}, timeout, interval)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w (last state %v)", err, state)
	}
	return state, nil
}
