package poll

import (
	"context"
	"time"
)

// Policy bounds a polling loop.
type Policy struct {
	Interval time.Duration
	Attempts int
}

// Until calls probe until satisfied returns true or the attempts are used up,
// sleeping Interval between attempts. Running out of attempts is not an error:
// the last probe result is returned. A probe error or a cancelled context stops
// the loop immediately.
func Until[T any](ctx context.Context, policy Policy, probe func(context.Context) (T, error), satisfied func(T) bool) (T, error) {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = probe(ctx)
		if err != nil {
			return result, err
		}
		if satisfied(result) || attempt == attempts {
			return result, nil
		}
		if err := sleep(ctx, policy.Interval); err != nil {
			return result, err
		}
	}
	return result, nil
}

// NonEmpty is the usual satisfaction check for slice results.
func NonEmpty[T any](s []T) bool {
	return len(s) > 0
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
