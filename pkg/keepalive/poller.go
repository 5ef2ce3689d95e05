package keepalive

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Poller constants.
const (
	// DefaultInterval is the time between two polls.
	DefaultInterval = 2 * time.Second

	// DefaultTimeout bounds one poll.
	DefaultTimeout = 5 * time.Second

	// DefaultMaxMissed is the number of consecutive failed polls after
	// which the connection is reported lost.
	DefaultMaxMissed = 3
)

// PollFunc fetches the current device state.
type PollFunc func(ctx context.Context) (map[string]string, error)

// Config configures a Poller.
type Config struct {
	// Interval is the time between two polls.
	Interval time.Duration

	// Timeout bounds one poll.
	Timeout time.Duration

	// MaxMissed is the number of consecutive failures before OnLost runs.
	MaxMissed int

	// Logger for operational messages. If nil, logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns a 2s poll with a three-miss threshold.
func DefaultConfig() Config {
	return Config{
		Interval:  DefaultInterval,
		Timeout:   DefaultTimeout,
		MaxMissed: DefaultMaxMissed,
	}
}

// DetectionDelay is the longest time a dead device goes unnoticed.
func (c Config) DetectionDelay() time.Duration {
	return c.Interval*time.Duration(c.MaxMissed) + c.Timeout
}

// Handlers receive poll outcomes. All run on the poll goroutine.
type Handlers struct {
	// OnState receives every successful poll.
	OnState func(state map[string]string)

	// OnMiss receives every failed poll with the consecutive miss count.
	OnMiss func(missed int, err error)

	// OnLost runs once when the miss count reaches MaxMissed.
	OnLost func(err error)
}

// Stats reports poller progress.
type Stats struct {
	LastPoll    time.Time
	LastSuccess time.Time
	Missed      int
	Polls       uint64
}

// Poller issues a state poll at a fixed interval while running.
type Poller struct {
	config   Config
	poll     PollFunc
	handlers Handlers

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	stats   Stats
}

// New creates a Poller. Zero config fields take their defaults.
func New(config Config, poll PollFunc, h Handlers) *Poller {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxMissed <= 0 {
		config.MaxMissed = DefaultMaxMissed
	}
	return &Poller{config: config, poll: poll, handlers: h}
}

// Start begins polling. It is a no-op while already running.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stats.Missed = 0
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.loop(ctx, p.stopCh, p.doneCh)
}

// Stop ends polling and waits for an in-flight poll to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	done := p.doneCh
	p.mu.Unlock()
	<-done
}

// Running reports whether the poller is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats returns a copy of the current statistics.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Poller) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if lost := p.tick(ctx); lost {
				p.mu.Lock()
				p.running = false
				p.mu.Unlock()
				return
			}
		}
	}
}

// tick runs one poll and reports whether the miss threshold was reached.
func (p *Poller) tick(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	state, err := p.poll(pctx)
	cancel()
	if ctx.Err() != nil {
		return false
	}

	p.mu.Lock()
	now := time.Now()
	p.stats.LastPoll = now
	p.stats.Polls++
	if err == nil {
		p.stats.LastSuccess = now
		p.stats.Missed = 0
		p.mu.Unlock()
		if p.handlers.OnState != nil {
			p.handlers.OnState(state)
		}
		return false
	}
	p.stats.Missed++
	missed := p.stats.Missed
	p.mu.Unlock()

	p.debugLog("poll failed", "missed", missed, "error", err)
	if p.handlers.OnMiss != nil {
		p.handlers.OnMiss(missed, err)
	}
	if missed < p.config.MaxMissed {
		return false
	}
	if p.handlers.OnLost != nil {
		p.handlers.OnLost(err)
	}
	return true
}

func (p *Poller) debugLog(msg string, args ...any) {
	if p.config.Logger != nil {
		p.config.Logger.Debug(msg, args...)
	}
}
