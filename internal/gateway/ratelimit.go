// ratelimit.go implements token-bucket rate limiting for gateway RPC calls.
//
// CTP-style broker front-ends throttle order actions per second and will
// disconnect clients that flood them. The buckets refill continuously so a
// chase burst is smoothed out instead of tripping the hard limit.
//
// Three buckets are maintained:
//   - Order:  10 burst / 5 per sec — order insertion
//   - Cancel: 10 burst / 5 per sec — order actions (cancels)
//   - Query:  2 burst / 1 per sec — contract/order/trade/account queries
package gateway

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a continuously-refilling token bucket. Wait blocks the
// caller until a token is available or the context ends.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64 // fractional tokens accrue between calls
	capacity float64
	rate     float64 // tokens per second
	refilled time.Time
}

// NewTokenBucket creates a full bucket with the given burst capacity and
// refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		refilled: time.Now(),
	}
}

// take refills the bucket for the time elapsed since the last call and
// tries to consume one token. On failure it returns how long until the
// next token accrues.
func (tb *TokenBucket) take() (ok bool, retry time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.refilled).Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.refilled = now

	if tb.tokens >= 1 {
		tb.tokens--
		return true, 0
	}
	return false, time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		ok, retry := tb.take()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}

// RateLimiter groups token buckets by RPC call category. Each gateway
// call must Wait() on its bucket before issuing the HTTP request.
type RateLimiter struct {
	Order  *TokenBucket // order insertion
	Cancel *TokenBucket // order actions
	Query  *TokenBucket // snapshot queries
}

// NewRateLimiter creates rate limiters tuned to CTP front-end flow limits.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(10, 5),
		Cancel: NewTokenBucket(10, 5),
		Query:  NewTokenBucket(2, 1),
	}
}
