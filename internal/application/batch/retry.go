package batch

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// backoff computes retry delays: InitialBackoff * Multiplier^attempt, capped
// at MaxBackoff, with +/-25% jitter.
type backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64

	mu  sync.Mutex
	rng *rand.Rand
}

func newBackoff(cfg BatchConfig, seed int64) *backoff {
	m := cfg.BackoffMultiplier
	if m <= 0 {
		m = 2.0
	}
	return &backoff{
		initial:    cfg.InitialBackoff,
		max:        cfg.MaxBackoff,
		multiplier: m,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// delay returns the wait before retry number attempt, counting from 0.
func (b *backoff) delay(attempt int) time.Duration {
	if b.initial <= 0 {
		return 0
	}
	base := float64(b.initial) * math.Pow(b.multiplier, float64(attempt))
	if b.max > 0 && base > float64(b.max) {
		base = float64(b.max)
	}
	b.mu.Lock()
	jitter := base * 0.25 * (b.rng.Float64()*2 - 1)
	b.mu.Unlock()
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}
