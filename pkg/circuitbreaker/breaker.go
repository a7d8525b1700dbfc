// Package circuitbreaker stops outbound calls to a destination after a run
// of consecutive failures, then lets a single probe through once a cooldown
// has passed.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the position of a breaker.
type State int

const (
	Closed   State = iota // calls flow
	Open                  // calls are refused until the cooldown ends
	HalfOpen              // a probe is in flight
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	defaultThreshold = 5
	defaultCooldown  = 30 * time.Second
)

// Config tunes a breaker. Zero or negative values take the defaults.
type Config struct {
	Threshold int           // consecutive failures that open the breaker
	Cooldown  time.Duration // time spent open before a probe is admitted

	// OnStateChange, when set, is called after every transition, outside
	// the breaker's lock.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns the defaults applied to a zero Config.
func DefaultConfig() Config {
	return Config{Threshold: defaultThreshold, Cooldown: defaultCooldown}
}

// Breaker guards one destination.
type Breaker struct {
	name     string
	cfg      Config
	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// New creates a closed breaker. name is passed to OnStateChange.
func New(name string, cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{name: name, cfg: cfg}
}

// Allow reports whether a call may be attempted now. An open breaker whose
// cooldown has elapsed moves to half-open and admits the caller as a probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	from := b.state
	if b.state == Open && b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = HalfOpen
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return to != Open
}

// RetryAfter returns how long an open breaker keeps refusing calls. It is
// zero when the breaker would admit a call now.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return 0
	}
	return max(b.cfg.Cooldown-b.cfg.Now().Sub(b.openedAt), 0)
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.transition(func() {
		b.failures = 0
		b.state = Closed
	})
}

// RecordFailure counts a failure. The breaker opens when the count reaches
// the threshold, or at once when a half-open probe fails.
func (b *Breaker) RecordFailure() {
	b.transition(func() {
		b.failures++
		if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
			b.state = Open
			b.openedAt = b.cfg.Now()
		}
	})
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.RecordSuccess()
}

// State returns the current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) transition(mutate func()) {
	b.mu.Lock()
	from := b.state
	mutate()
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}
