package app

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	clk := clock.NewMock()
	rl := NewRateLimiter(2, time.Second, clk)

	assert.True(t, rl.Allow("A"))
	assert.True(t, rl.Allow("A"))
	assert.False(t, rl.Allow("A"))
	assert.True(t, rl.Allow("B"), "limits are per user")

	clk.Add(1001 * time.Millisecond)
	assert.True(t, rl.Allow("A"))

	rl.Forget("A")
	assert.True(t, rl.Allow("A"))
	assert.True(t, rl.Allow("A"))
	assert.False(t, rl.Allow("A"))
}
