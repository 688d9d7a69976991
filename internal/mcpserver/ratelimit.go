package mcpserver

import (
	"sync"
	"time"
)

// rateLimiter is a token-bucket limiter over all tool calls, grounded on
// the teacher's mcpserver.RateLimiter. WorkRail has no dry-run/execute
// split the way conductor_run does, so there is a single bucket rather
// than the teacher's run+call pair.
type rateLimiter struct {
	bucket *tokenBucket
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// newRateLimiter builds a limiter refilling to callsPerMinute tokens.
func newRateLimiter(callsPerMinute int) *rateLimiter {
	return &rateLimiter{bucket: &tokenBucket{
		tokens:     float64(callsPerMinute),
		maxTokens:  float64(callsPerMinute),
		refillRate: float64(callsPerMinute) / 60.0,
		lastRefill: time.Now(),
	}}
}

// allow reports whether a call may proceed, consuming one token if so.
func (rl *rateLimiter) allow() bool {
	return rl.bucket.take(1)
}

func (tb *tokenBucket) take(n float64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens = minFloat(tb.maxTokens, tb.tokens+elapsed*tb.refillRate)
	tb.lastRefill = now

	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}
	return false
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
