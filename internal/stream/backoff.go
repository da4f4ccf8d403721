package stream

import (
	"math/rand"
	"sync"
	"time"

	"github.com/agentstation/opsync/pkg/constants"
)

// Backoff computes capped exponential reconnect delays with proportional jitter.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64

	mu      sync.Mutex
	randSrc *rand.Rand
}

// NewBackoff creates a backoff. Non-positive values fall back to defaults
// and jitter is clamped to [0, 1].
func NewBackoff(initial, max time.Duration, jitter float64) *Backoff {
	if initial <= 0 {
		initial = constants.DefaultInitialBackoff
	}
	if max <= 0 {
		max = constants.DefaultMaxBackoff
	}
	if max < initial {
		max = initial
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &Backoff{
		Initial: initial,
		Max:     max,
		Jitter:  jitter,
		randSrc: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Base returns the un-jittered delay for attempt (1-based).
func (b *Backoff) Base(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max || d <= 0 {
			return b.Max
		}
	}
	return d
}

// Delay returns the jittered delay for attempt. The result never exceeds Max.
func (b *Backoff) Delay(attempt int) time.Duration {
	base := b.Base(attempt)
	if b.Jitter == 0 {
		return base
	}

	b.mu.Lock()
	r := b.randSrc.Float64()
	b.mu.Unlock()

	d := time.Duration(float64(base) * (1 + b.Jitter*(2*r-1)))
	if d > b.Max {
		d = b.Max
	}
	if d < 0 {
		d = 0
	}
	return d
}
