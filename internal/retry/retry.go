// Package retry runs operations with jittered exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// Policy retries a failing operation up to MaxRetries times after the first
// attempt.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter randomizes each delay into [delay/2, delay).
	Jitter bool
	// Sleep is replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New builds a jittered policy.
func New(maxRetries int, base, maxDelay time.Duration) *Policy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &Policy{
		MaxRetries: maxRetries,
		BaseDelay:  base,
		MaxDelay:   maxDelay,
		Jitter:     true,
	}
}

// Attempts returns the total number of attempts the policy allows.
func (p *Policy) Attempts() int {
	return p.MaxRetries + 1
}

// Backoff returns the wait before retry number attempt (0-based).
func (p *Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if !p.Jitter {
		return time.Duration(delay)
	}
	return time.Duration(delay/2) + randomJitter(time.Duration(delay)/2)
}

// Do calls fn until it succeeds, the attempts run out, or ctx ends. It returns
// the last error from fn together with the number of attempts made.
// Errors wrapped with Permanent are not retried.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt < p.Attempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = fmt.Errorf("retry canceled: %w", err)
			}
			return attempts, lastErr
		}
		attempts++
		err := fn(ctx, attempt)
		if err == nil {
			return attempts, nil
		}
		lastErr = err
		var perm *permanentError
		if errors.As(err, &perm) {
			return attempts, perm.err
		}
		if attempt == p.Attempts()-1 {
			break
		}
		if sleepErr := p.sleep(ctx, p.Backoff(attempt)); sleepErr != nil {
			return attempts, lastErr
		}
	}
	return attempts, lastErr
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
