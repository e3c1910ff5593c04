package resilience

import (
	"context"
	"time"
)

// hedgeResult carries the outcome of either the primary or secondary call
// along with a flag identifying which one produced it.
type hedgeResult[T any] struct {
	value     T
	err       error
	secondary bool
}

// Hedge runs primary immediately and, if it has not returned within delay,
// also starts secondary; whichever returns first (successfully) wins. If
// primary fails before delay elapses, secondary is started immediately and
// its result is returned. If both fail, the primary's error is returned
// unless only the secondary ever ran (delay already elapsed with primary
// still in flight), in which case whichever result arrives is returned.
func Hedge[T any](
	ctx context.Context,
	primary func(context.Context) (T, error),
	secondary func(context.Context) (T, error),
	delay time.Duration,
) (T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan hedgeResult[T], 2)

	go func() {
		v, err := primary(ctx)
		results <- hedgeResult[T]{value: v, err: err, secondary: false}
	}()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	var primaryDone bool
	var primaryErr error
	var zero T

	select {
	case r := <-results:
		if r.err == nil {
			return r.value, nil
		}
		primaryDone = true
		primaryErr = r.err
	case <-timer.C:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	secondaryResults := make(chan hedgeResult[T], 1)
	go func() {
		v, err := secondary(ctx)
		secondaryResults <- hedgeResult[T]{value: v, err: err, secondary: true}
	}()

	if primaryDone {
		// Primary already failed; the winner is whatever the secondary does.
		r := <-secondaryResults
		if r.err != nil {
			return zero, primaryErr
		}
		return r.value, nil
	}

	// Both primary and secondary are in flight; take whichever finishes
	// successfully first. If both fail, prefer the primary's error.
	var secondaryErr error
	var secondaryFailed bool
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			if r.err == nil {
				return r.value, nil
			}
			primaryErr = r.err
			primaryDone = true
			if secondaryFailed {
				return zero, primaryErr
			}
		case r := <-secondaryResults:
			if r.err == nil {
				return r.value, nil
			}
			secondaryErr = r.err
			secondaryFailed = true
			if primaryDone {
				return zero, primaryErr
			}
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	if primaryErr != nil {
		return zero, primaryErr
	}
	return zero, secondaryErr
}
