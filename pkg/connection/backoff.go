package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Auto-connect cadence defaults.
const (
	// DefaultInterval is the fixed wait between connect attempts.
	DefaultInterval = 2 * time.Second

	// ExponentialMax caps the delay when a multiplier above 1 is configured.
	ExponentialMax = 60 * time.Second
)

// BackoffConfig configures a Backoff.
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration

	// Multiplier of 1 gives a fixed cadence; above 1 grows the delay.
	Multiplier float64

	// Jitter is the maximum random addition as a fraction of the delay.
	Jitter float64
}

// FixedBackoff returns a constant cadence of interval with no jitter.
func FixedBackoff(interval time.Duration) BackoffConfig {
	return BackoffConfig{Initial: interval, Max: interval, Multiplier: 1}
}

// ExponentialBackoff doubles from initial up to ExponentialMax with 25% jitter.
func ExponentialBackoff(initial time.Duration) BackoffConfig {
	return BackoffConfig{Initial: initial, Max: ExponentialMax, Multiplier: 2, Jitter: 0.25}
}

// Backoff calculates delays between connect attempts.
type Backoff struct {
	mu sync.Mutex

	current    time.Duration
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
	attempts   int

	rng *rand.Rand
}

// NewBackoff creates a Backoff with the default fixed cadence.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(FixedBackoff(DefaultInterval))
}

// NewBackoffWithConfig creates a Backoff. Zero fields take the fixed-cadence
// defaults; a multiplier below 1 is raised to 1.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return &Backoff{
		current:    cfg.Initial,
		initial:    cfg.Initial,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
		jitter:     cfg.Jitter,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay before the next attempt and advances.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.withJitter(b.current)
	b.attempts++
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next
	return delay
}

// Peek returns the next delay without advancing.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.withJitter(b.current)
}

// Reset returns to the initial delay. Call after reaching Ready.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns how many delays were taken since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the base delay without jitter.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Backoff) withJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*b.rng.Float64())
}
