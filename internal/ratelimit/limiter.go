package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles lookups against shared registries such as whois
// servers, globally and per key.
type Limiter struct {
	limiter     *rate.Limiter
	minDelay    time.Duration
	burstSize   int
	lastRequest map[string]time.Time
	mu          sync.Mutex
}

type Config struct {
	// RequestsPerSecond limits requests across all keys. Zero disables the
	// global limit.
	RequestsPerSecond float64

	// BurstSize allows brief bursts above the rate limit
	BurstSize int

	// MinDelay is the minimum delay between requests for the same key
	MinDelay time.Duration
}

// DefaultConfig suits public whois servers, which ban aggressive clients.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 1.0,
		BurstSize:         2,
		MinDelay:          500 * time.Millisecond,
	}
}

func NewLimiter(config Config) *Limiter {
	limit := rate.Limit(config.RequestsPerSecond)
	if config.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := config.BurstSize
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter:     rate.NewLimiter(limit, burst),
		minDelay:    config.MinDelay,
		burstSize:   burst,
		lastRequest: make(map[string]time.Time),
	}
}

// Wait blocks until the global limit allows another request.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// WaitForKey applies the global limit and then the per-key minimum delay.
func (l *Limiter) WaitForKey(ctx context.Context, key string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if last, exists := l.lastRequest[key]; exists {
		elapsed := time.Since(last)
		if elapsed < l.minDelay {
			timer := time.NewTimer(l.minDelay - elapsed)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	l.lastRequest[key] = time.Now()
	return nil
}

func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Reset forgets per-key history.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastRequest = make(map[string]time.Time)
}

func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		TrackedKeys: len(l.lastRequest),
		BurstSize:   l.burstSize,
		MinDelay:    l.minDelay,
	}
}

type Stats struct {
	TrackedKeys int
	BurstSize   int
	MinDelay    time.Duration
}
