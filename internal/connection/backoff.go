package connection

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffConfig controls reconnect delays.
type BackoffConfig struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64 // growth per failure, >= 1
	Jitter float64 // extra random fraction of the base delay, clamped to Factor-1
}

// DefaultBackoffConfig returns 1s doubling to 60s with up to 50% jitter.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Min:    time.Second,
		Max:    60 * time.Second,
		Factor: 2,
		Jitter: 0.5,
	}
}

// Backoff yields non-decreasing delays: base(n) = Min*Factor^n, plus jitter in
// [0, Jitter*base(n)), capped at Max. Keeping Jitter <= Factor-1 means the
// jittered delay never exceeds the next base.
type Backoff struct {
	cfg     BackoffConfig
	attempt int
	rand    func() float64
}

// NewBackoff normalizes cfg and returns a Backoff at its floor.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Min <= 0 {
		cfg.Min = time.Second
	}
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	if cfg.Factor < 1 {
		cfg.Factor = 1
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Jitter > cfg.Factor-1 {
		cfg.Jitter = cfg.Factor - 1
	}
	return &Backoff{cfg: cfg, rand: rand.Float64}
}

// Next returns the delay before the next attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	base := float64(b.cfg.Min) * math.Pow(b.cfg.Factor, float64(b.attempt))
	if base > float64(b.cfg.Max) {
		base = float64(b.cfg.Max)
	}
	b.attempt++

	d := base + base*b.cfg.Jitter*b.rand()
	if d > float64(b.cfg.Max) {
		d = float64(b.cfg.Max)
	}
	return time.Duration(d)
}

// Reset returns the backoff to its floor.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the number of delays handed out since the last reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}
