package resilience

import (
	"sync"
	"time"
)

// RateLimiter is a per-key token bucket. Each key starts with a full bucket
// of maxTokens and refills at refillPerSec tokens per second.
type RateLimiter struct {
	mu           sync.Mutex
	maxTokens    float64
	refillPerSec float64
	buckets      map[string]*bucket
}

type bucket struct {
	tokens   float64
	last     time.Time
	notified bool
}

func NewRateLimiter(maxTokens int, refillPerSec float64) *RateLimiter {
	if maxTokens <= 0 {
		maxTokens = 30
	}
	if refillPerSec <= 0 {
		refillPerSec = 0.5
	}
	return &RateLimiter{
		maxTokens:    float64(maxTokens),
		refillPerSec: refillPerSec,
		buckets:      make(map[string]*bucket),
	}
}

// Allow consumes one token for key if available.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: l.maxTokens - 1, last: now}
		return true
	}
	l.refill(b, now)
	if b.tokens < 1 {
		return false
	}
	b.tokens -= 1
	b.notified = false
	return true
}

// ShouldNotify reports whether a limit notice is still owed for key. It
// returns true once per exhausted bucket; Allow resets it when the key is
// admitted again.
func (l *RateLimiter) ShouldNotify(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || b.notified {
		return false
	}
	b.notified = true
	return true
}

// RetryAfter reports how long until key has a token again.
func (l *RateLimiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return 0
	}
	l.refill(b, time.Now())
	if b.tokens >= 1 {
		return 0
	}
	missing := 1 - b.tokens
	return time.Duration(missing / l.refillPerSec * float64(time.Second))
}

// MaxTokens reports the configured bucket size.
func (l *RateLimiter) MaxTokens() int {
	return int(l.maxTokens)
}

func (l *RateLimiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	b.tokens = minFloat(l.maxTokens, b.tokens+elapsed*l.refillPerSec)
	b.last = now
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
