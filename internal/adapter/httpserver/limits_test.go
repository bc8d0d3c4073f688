package httpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnLimits_GlobalCap(t *testing.T) {
	limits := NewConnLimits(2, 10, 1000, 1000)

	ok, _ := limits.Acquire("10.0.0.1")
	assert.True(t, ok)
	ok, _ = limits.Acquire("10.0.0.2")
	assert.True(t, ok)

	ok, reason := limits.Acquire("10.0.0.3")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonGlobal, reason)

	limits.Release("10.0.0.1")
	ok, _ = limits.Acquire("10.0.0.3")
	assert.True(t, ok)
}

func TestConnLimits_PerIPCap(t *testing.T) {
	limits := NewConnLimits(100, 2, 1000, 1000)

	ok, _ := limits.Acquire("10.0.0.1")
	assert.True(t, ok)
	ok, _ = limits.Acquire("10.0.0.1")
	assert.True(t, ok)

	ok, reason := limits.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonPerIP, reason)

	// Rejection must not leak a global slot.
	assert.Equal(t, int64(2), limits.Current())

	// Other IPs are unaffected.
	ok, _ = limits.Acquire("10.0.0.2")
	assert.True(t, ok)
}

func TestConnLimits_RateLimit(t *testing.T) {
	limits := NewConnLimits(100, 100, 1, 2)

	ok, _ := limits.Acquire("10.0.0.1")
	assert.True(t, ok)
	ok, _ = limits.Acquire("10.0.0.1")
	assert.True(t, ok)

	ok, reason := limits.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonRate, reason)

	// Rate limiting is per IP.
	ok, _ = limits.Acquire("10.0.0.2")
	assert.True(t, ok)
}

func TestConnLimits_ReleaseCleansUpIPEntry(t *testing.T) {
	limits := NewConnLimits(100, 10, 1000, 1000)

	ok, _ := limits.Acquire("10.0.0.1")
	assert.True(t, ok)
	limits.Release("10.0.0.1")

	assert.Equal(t, int64(0), limits.Current())
	limits.mu.Lock()
	defer limits.mu.Unlock()
	assert.NotContains(t, limits.perIP, "10.0.0.1")
}
