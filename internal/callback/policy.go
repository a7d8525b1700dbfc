package callback

import (
	"time"

	"simgateway/pkg/backoff"
)

// Policy controls retries and circuit breaking for deliveries.
type Policy struct {
	MaxRetries       int            // HTTP attempts after the first
	Backoff          backoff.Config // delay between attempts
	BreakerThreshold int            // consecutive failures before a destination is blocked
	BreakerCooldown  time.Duration  // how long a destination stays blocked; also the requeue delay
	MaxRequeues      int            // requeues before an event is dropped
	DeliveryTimeout  time.Duration  // budget for one event, retries included
}

// DefaultPolicy returns the production delivery policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:       3,
		Backoff:          backoff.Config{Initial: 100 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.2},
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
		MaxRequeues:      10,
		DeliveryTimeout:  30 * time.Second,
	}
}

// withDefaults fills zero durations and limits from DefaultPolicy. A zero
// MaxRetries is kept: one attempt per event.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Backoff.Initial <= 0 {
		p.Backoff.Initial = d.Backoff.Initial
	}
	if p.Backoff.Max <= 0 {
		p.Backoff.Max = d.Backoff.Max
	}
	if p.BreakerThreshold <= 0 {
		p.BreakerThreshold = d.BreakerThreshold
	}
	if p.BreakerCooldown <= 0 {
		p.BreakerCooldown = d.BreakerCooldown
	}
	if p.MaxRequeues <= 0 {
		p.MaxRequeues = d.MaxRequeues
	}
	if p.DeliveryTimeout <= 0 {
		p.DeliveryTimeout = d.DeliveryTimeout
	}
	return p
}
