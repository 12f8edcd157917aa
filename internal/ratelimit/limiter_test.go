package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBurstExhaustion(t *testing.T) {
	limiter := NewLimiter(100, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("proj-1"), "request %d within burst", i)
	}
	assert.False(t, limiter.Allow("proj-1"), "burst exhausted")
}

func TestTargetsAreIndependent(t *testing.T) {
	limiter := NewLimiter(100, 1)

	assert.True(t, limiter.Allow("proj-1"))
	assert.False(t, limiter.Allow("proj-1"))

	assert.True(t, limiter.Allow("proj-2"))
}

func TestTokensDecrease(t *testing.T) {
	limiter := NewLimiter(100, 5)

	before := limiter.Tokens("proj-1")
	limiter.Allow("proj-1")
	after := limiter.Tokens("proj-1")

	assert.Less(t, after, before)
}

func TestPerHour(t *testing.T) {
	assert.Equal(t, 250, NewLimiter(250, 10).PerHour())
}
