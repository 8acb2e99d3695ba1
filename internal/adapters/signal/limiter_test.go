package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJoinRateLimiter_AllowsUpToLimit(t *testing.T) {
	rl := NewJoinRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("sid-1"), "attempt %d within limit", i)
	}
	assert.False(t, rl.Allow("sid-1"))
	assert.False(t, rl.Allow("sid-1"))
}

func TestJoinRateLimiter_PerSessionIsolation(t *testing.T) {
	rl := NewJoinRateLimiter(1, time.Minute)

	assert.True(t, rl.Allow("sid-1"))
	assert.False(t, rl.Allow("sid-1"))
	assert.True(t, rl.Allow("sid-2"), "another connection has its own window")
}

func TestJoinRateLimiter_WindowSlides(t *testing.T) {
	rl := NewJoinRateLimiter(2, 20*time.Millisecond)

	assert.True(t, rl.Allow("sid-1"))
	assert.True(t, rl.Allow("sid-1"))
	assert.False(t, rl.Allow("sid-1"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.Allow("sid-1"), "attempts expire with the window")
}

func TestJoinRateLimiter_Disabled(t *testing.T) {
	rl := NewJoinRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("sid-1"))
	}
}
