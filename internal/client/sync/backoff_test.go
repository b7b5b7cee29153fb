package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := newBackoff(time.Second, 30*time.Second)

	var prev time.Duration
	for i := 0; i < 10; i++ {
		d := b.next()
		assert.LessOrEqual(t, d, 33*time.Second, "attempt %d exceeded cap with jitter", i)
		if i > 0 && i < 5 {
			assert.Greater(t, d, prev, "attempt %d did not grow", i)
		}
		prev = d
	}

	// after many attempts the base stays at the cap
	assert.Equal(t, 30*time.Second, b.current)
}

func TestBackoff_Reset(t *testing.T) {
	b := newBackoff(time.Second, 30*time.Second)
	b.next()
	b.next()
	b.reset()
	assert.Equal(t, time.Second, b.current)
}
