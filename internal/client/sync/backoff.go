package sync

import (
	"math/rand"
	"time"
)

// backoff implements bounded exponential backoff with a little jitter for
// the reconnect loop: 1s, 2s, 4s, ... capped at 30s.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{initial: initial, max: max, current: initial}
}

func (b *backoff) next() time.Duration {
	d := b.current

	jitter := time.Duration(rand.Int63n(int64(d)/10 + 1))
	d += jitter

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
