// ratelimit.go implements token-bucket rate limiting for the exchange
// REST API.
//
// The exchange enforces separate budgets for public market-data calls
// and private account/trading calls; the private budget is a decaying
// counter, which a slowly refilling token bucket approximates well.
// Two buckets are maintained:
//   - Public:  market data (Ticker, OHLC, AssetPairs, Time)
//   - Private: account and order management (balances, orders, ledgers)
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by API endpoint category. Each call
// waits on the matching bucket before making the HTTP request.
type RateLimiter struct {
	Public  *TokenBucket
	Private *TokenBucket
}

// NewRateLimiter creates buckets tuned to the exchange's published
// limits. privateRate is the configured private calls-per-second; the
// private capacity mirrors the starter-tier counter ceiling.
func NewRateLimiter(privateRate float64) *RateLimiter {
	if privateRate <= 0 {
		privateRate = 0.33
	}
	return &RateLimiter{
		Public:  NewTokenBucket(5, 1),
		Private: NewTokenBucket(15, privateRate),
	}
}
