package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterQuota(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(3, time.Hour)
	l.now = func() time.Time { return now }

	for i := range 3 {
		_, ok := l.Take()
		require.True(t, ok, "request %d should fit the quota", i)
	}
	assert.Equal(t, 0, l.Remaining())

	wait, ok := l.Take()
	require.False(t, ok)
	assert.InDelta(t, float64(20*time.Minute), float64(wait), float64(time.Millisecond))

	// A refused request consumes nothing.
	now = now.Add(21 * time.Minute)
	_, ok = l.Take()
	assert.True(t, ok)
}

func TestLimiterDefaults(t *testing.T) {
	t.Parallel()

	l := NewLimiter(0, 0)
	assert.Equal(t, 1, l.Quota())
	assert.Equal(t, time.Hour, l.Window())
}
