// Package ratelimit paces outbound requests with a fixed delay and an
// optional per-host token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds pacing configuration.
type Config struct {
	// Delay is slept before every request. Concurrent callers each sleep on
	// their own, so this caps per-worker rather than global throughput.
	Delay time.Duration
	// HostRPS caps requests per second per host. Zero disables the cap.
	HostRPS   float64
	HostBurst int
}

// Limiter paces requests.
type Limiter struct {
	delay time.Duration

	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int

	// observe receives the time spent waiting, if set.
	observe func(host string, waited time.Duration)
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.HostRPS)
	if cfg.HostRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.HostBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		delay:        cfg.Delay,
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// OnWait registers a callback for wait durations.
func (l *Limiter) OnWait(fn func(host string, waited time.Duration)) {
	l.observe = fn
}

// Wait blocks for the configured delay and any per-host token, respecting the
// context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	start := time.Now()

	if l.delay > 0 {
		timer := time.NewTimer(l.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("request delay: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if l.defaultRate != rate.Inf {
		if err := l.limiterFor(host).Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	if l.observe != nil {
		l.observe(host, time.Since(start))
	}
	return nil
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	return limiter
}
