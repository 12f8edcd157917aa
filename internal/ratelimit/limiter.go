package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages token-bucket rate limits per challenge target
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	perHour  int
}

// NewLimiter creates a new rate limiter
// requestsPerHour: token requests allowed per hour per target (e.g. 100)
// burst: max requests in a burst (e.g. 10)
func NewLimiter(requestsPerHour int, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerHour) / 3600.0),
		burst:    burst,
		perHour:  requestsPerHour,
	}
}

func (l *Limiter) limiterFor(targetID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[targetID]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[targetID] = limiter
	}
	return limiter
}

// Allow checks if a request is allowed for the given target
func (l *Limiter) Allow(targetID string) bool {
	return l.limiterFor(targetID).Allow()
}

// Tokens returns the current number of available tokens for a target
func (l *Limiter) Tokens(targetID string) float64 {
	return l.limiterFor(targetID).Tokens()
}

// PerHour returns the configured hourly limit
func (l *Limiter) PerHour() int {
	return l.perHour
}
