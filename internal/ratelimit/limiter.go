package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter keeps an independent token bucket per key. The API keys it by
// client, the runner by target host.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewLimiter creates a limiter allowing requestsPerHour per key with the
// given burst
func NewLimiter(requestsPerHour int, burst int) *Limiter {
	return New(rate.Limit(float64(requestsPerHour)/3600.0), burst)
}

// New creates a limiter allowing r events per second per key. A zero r
// never throttles.
func New(r rate.Limit, burst int) *Limiter {
	if r <= 0 {
		r = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// GetLimiter returns the bucket for key, creating it on first use
func (l *Limiter) GetLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}

	return limiter
}

// Allow checks if an event is allowed now for key
func (l *Limiter) Allow(key string) bool {
	return l.GetLimiter(key).Allow()
}

// Wait blocks until an event is allowed for key or ctx is done
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if err := l.GetLimiter(key).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", key, err)
	}
	return nil
}

// Tokens returns the current number of available tokens for key
func (l *Limiter) Tokens(key string) float64 {
	return l.GetLimiter(key).Tokens()
}

// Burst is the bucket size of every key
func (l *Limiter) Burst() int {
	return l.burst
}
