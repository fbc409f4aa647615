package scraper

import (
	"context"
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays: Base*2^attempt plus a jitter below
// Base, capped at Max. Below the cap successive delays strictly increase.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int

	jitter func(time.Duration) time.Duration
	sleep  func(context.Context, time.Duration) error
}

// NewBackoff returns a backoff with random jitter that sleeps on the wall clock.
func NewBackoff(base, max time.Duration, maxRetries int) *Backoff {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return &Backoff{
		Base:       base,
		Max:        max,
		MaxRetries: maxRetries,
		jitter: func(b time.Duration) time.Duration {
			return time.Duration(rand.Int63n(int64(b)))
		},
		sleep: sleepContext,
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := b.Base * time.Duration(1<<attempt)
	if b.jitter != nil {
		delay += b.jitter(b.Base)
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}

// Retry runs op until it succeeds, returns an error shouldRetry rejects, or
// MaxRetries retries are used. It returns the number of attempts made.
func (b *Backoff) Retry(ctx context.Context, op func(attempt int) error, shouldRetry func(error) bool, onRetry func(attempt int, delay time.Duration, err error)) (int, error) {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}
		err := op(attempt)
		attempt++
		if err == nil {
			return attempt, nil
		}
		if !shouldRetry(err) || attempt > b.MaxRetries {
			return attempt, err
		}
		delay := b.Delay(attempt - 1)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		if serr := b.sleep(ctx, delay); serr != nil {
			return attempt, serr
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
