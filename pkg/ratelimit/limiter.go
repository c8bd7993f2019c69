package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow reports whether a request may proceed now, consuming a token if so.
	Allow() bool
	// Wait blocks until a request may proceed or ctx is done.
	Wait(ctx context.Context) error
	// Reset refills the limiter to its initial burst.
	Reset()
}

// New returns a token bucket allowing perMinute requests with the given
// burst. A non-positive perMinute disables limiting.
func New(perMinute, burst int) Limiter {
	if perMinute <= 0 {
		return Unlimited{}
	}
	return NewTokenBucket(perMinute, burst)
}

// TokenBucket is a Limiter backed by golang.org/x/time/rate.
type TokenBucket struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	interval time.Duration
	burst    int
}

// NewTokenBucket creates a limiter that refills one token every
// minute/perMinute and holds at most burst tokens.
func NewTokenBucket(perMinute, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	interval := time.Minute / time.Duration(perMinute)
	return &TokenBucket{
		limiter:  rate.NewLimiter(rate.Every(interval), burst),
		interval: interval,
		burst:    burst,
	}
}

func (tb *TokenBucket) current() *rate.Limiter {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.limiter
}

// Allow checks if a request can proceed
func (tb *TokenBucket) Allow() bool {
	return tb.current().Allow()
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.current().Wait(ctx)
}

// Reset resets the token bucket to full capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.limiter = rate.NewLimiter(rate.Every(tb.interval), tb.burst)
}

// Unlimited never blocks.
type Unlimited struct{}

func (Unlimited) Allow() bool { return true }

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }

func (Unlimited) Reset() {}
