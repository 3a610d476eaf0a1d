package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDerivedOnline(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	staleness := 75 * time.Second

	t.Run("fresh heartbeat with flag is online", func(t *testing.T) {
		assert.True(t, derivedOnline(true, now.Add(-10*time.Second), now, staleness))
	})

	t.Run("one missed beat stays online", func(t *testing.T) {
		// 40s since last beat on a 30s interval: still inside the window.
		assert.True(t, derivedOnline(true, now.Add(-40*time.Second), now, staleness))
	})

	t.Run("stale heartbeat is offline despite flag", func(t *testing.T) {
		assert.False(t, derivedOnline(true, now.Add(-2*time.Minute), now, staleness))
	})

	t.Run("flag off is offline even when fresh", func(t *testing.T) {
		assert.False(t, derivedOnline(false, now.Add(-time.Second), now, staleness))
	})

	t.Run("never seen is offline", func(t *testing.T) {
		assert.False(t, derivedOnline(true, time.Time{}, now, staleness))
	})
}
