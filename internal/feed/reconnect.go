package feed

import (
	"math/rand"
	"time"
)

// Backoff implements the exponential-backoff-with-jitter reconnect
// policy (C3). current grows monotonically by multiplier on every call
// to NextDelay, uncapped by max (it stops growing only where the next
// step would overflow time.Duration); the cap is applied only when computing the
// delay to return, so the effective delay plateaus at max while the
// internal counter keeps climbing (and Reset brings it back to base in
// one step regardless of how far it climbed).
type Backoff struct {
	base       time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64

	current time.Duration
}

// NewBackoff constructs a Backoff policy. jitter is the fractional
// half-width of the uniform jitter window: a returned delay is drawn
// uniformly from [d*(1-jitter), d*(1+jitter)].
func NewBackoff(base, max time.Duration, multiplier, jitter float64) *Backoff {
	return &Backoff{
		base:       base,
		max:        max,
		multiplier: multiplier,
		jitter:     jitter,
		current:    base,
	}
}

// NextDelay returns the delay to wait before the next reconnect
// attempt, then advances the internal state for the attempt after
// that.
func (b *Backoff) NextDelay() time.Duration {
	d := b.current
	if d > b.max {
		d = b.max
	}

	lo := 1 - b.jitter
	hi := 1 + b.jitter
	factor := lo + rand.Float64()*(hi-lo)

	delay := time.Duration(float64(d) * factor)

	if next := time.Duration(float64(b.current) * b.multiplier); next > b.current {
		b.current = next
	}

	return delay
}

// Reset returns the policy to its initial state, called after a
// successful connect.
func (b *Backoff) Reset() {
	b.current = b.base
}
