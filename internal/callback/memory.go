package callback

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"simgateway/internal/config"
	"simgateway/pkg/backoff"
	"simgateway/pkg/circuitbreaker"
	"simgateway/pkg/cloudevent"
)

// minRequeueDelay keeps a requeued event from spinning when its breaker
// is about to admit a probe.
const minRequeueDelay = 10 * time.Millisecond

// MetricsRecorder receives delivery metrics. *observability.Metrics satisfies it.
type MetricsRecorder interface {
	RecordCallbackDelivered(ctx context.Context, durationSeconds float64)
	RecordCallbackFailed(ctx context.Context)
	RecordCallbackDropped(ctx context.Context)
	RecordCallbackRequeued(ctx context.Context)
	RecordCallbackQueueSize(ctx context.Context, size int64)
}

// Option customises a MemoryDispatcher.
type Option func(*MemoryDispatcher)

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(d *MemoryDispatcher) {
		d.policy = p.withDefaults()
	}
}

// MemoryDispatcher queues events in a bounded channel drained by a worker
// pool. A full buffer drops the event. Each destination host has its own
// circuit breaker; events for a blocked host wait out the cooldown and are
// queued again.
type MemoryDispatcher struct {
	queue    chan *Event
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Registry
	policy   Policy
	logger   *slog.Logger
	metrics  MetricsRecorder

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	requeued     atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// NewMemory starts a dispatcher with cfg's buffer, worker and timeout settings.
// metrics may be nil.
func NewMemory(cfg config.NotifyConfig, metrics MetricsRecorder, opts ...Option) *MemoryDispatcher {
	cfg = cfg.WithDefaults()

	d := &MemoryDispatcher{
		queue:    make(chan *Event, cfg.BufferSize),
		sender:   cloudevent.NewSender(cfg.HTTPTimeout),
		policy:   DefaultPolicy(),
		logger:   slog.With("component", "callback"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.breakers = circuitbreaker.NewRegistry(circuitbreaker.Config{
		Threshold:     d.policy.BreakerThreshold,
		Cooldown:      d.policy.BreakerCooldown,
		OnStateChange: d.breakerChanged,
	})

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.worker()
	}
	if metrics != nil {
		go d.reportQueueSize()
	}

	d.logger.Info("Callback dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return d
}

func (d *MemoryDispatcher) breakerChanged(host string, from, to circuitbreaker.State) {
	d.logger.Info("Callback circuit changed", "destination", host, "from", from.String(), "to", to.String())
}

func (d *MemoryDispatcher) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.shutdown:
			return
		case <-ticker.C:
			d.metrics.RecordCallbackQueueSize(context.Background(), int64(len(d.queue)))
		}
	}
}

// Dispatch queues an event for delivery.
func (d *MemoryDispatcher) Dispatch(event *Event) error {
	if d.closed.Load() {
		return ErrClosed
	}

	select {
	case d.queue <- event:
		d.queued.Add(1)
		return nil
	default:
		d.drop(event, "buffer full")
		return ErrBufferFull
	}
}

// Stats returns current dispatcher statistics.
func (d *MemoryDispatcher) Stats() Stats {
	bs := d.breakers.Stats()
	return Stats{
		QueueDepth:    len(d.queue),
		Queued:        d.queued.Load(),
		Delivered:     d.delivered.Load(),
		Failed:        d.failed.Load(),
		Dropped:       d.dropped.Load(),
		Requeued:      d.requeued.Load(),
		RetriesTotal:  d.retriesTotal.Load(),
		BreakersTotal: bs.Total,
		BreakersOpen:  bs.Open,
	}
}

// Close stops the workers after they drain what is already queued.
func (d *MemoryDispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}

	d.logger.Info("Callback dispatcher shutting down", "queued", len(d.queue))
	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Callback dispatcher stopped",
			"delivered", d.delivered.Load(),
			"failed", d.failed.Load(),
			"dropped", d.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("Callback dispatcher shutdown timed out", "remaining", len(d.queue))
		return ctx.Err()
	}
}

func (d *MemoryDispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.shutdown:
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		case event := <-d.queue:
			d.deliver(event)
		}
	}
}

func (d *MemoryDispatcher) deliver(event *Event) {
	host := destinationHost(event.Destination)
	breaker := d.breakers.Get(host)
	if !breaker.Allow() {
		d.requeue(event, host, breaker.RetryAfter())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.policy.DeliveryTimeout)
	defer cancel()

	start := time.Now()
	err := backoff.Retry(ctx, d.policy.MaxRetries, &d.policy.Backoff,
		func(int, error) { d.retriesTotal.Add(1) },
		func(ctx context.Context) error {
			err := d.sender.Send(ctx, event.Destination, event.Payload, event.SigningKey)
			if err != nil && !cloudevent.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		})
	if err != nil {
		breaker.RecordFailure()
		d.failed.Add(1)
		if d.metrics != nil {
			d.metrics.RecordCallbackFailed(ctx)
		}
		d.logger.Warn("Callback delivery failed", "destination", host, "type", event.Payload.Type, "subject", event.Payload.Subject, "error", err)
		return
	}

	breaker.RecordSuccess()
	d.delivered.Add(1)
	if d.metrics != nil {
		d.metrics.RecordCallbackDelivered(ctx, time.Since(start).Seconds())
	}
}

// requeue puts an event back once the breaker for its host would admit a
// probe, or drops it once it has been requeued MaxRequeues times.
func (d *MemoryDispatcher) requeue(event *Event, host string, wait time.Duration) {
	if event.requeues >= d.policy.MaxRequeues {
		d.drop(event, "max requeues reached")
		return
	}
	event.requeues++
	d.requeued.Add(1)
	if d.metrics != nil {
		d.metrics.RecordCallbackRequeued(context.Background())
	}

	go func() {
		timer := time.NewTimer(max(wait, minRequeueDelay))
		defer timer.Stop()
		select {
		case <-d.shutdown:
			return
		case <-timer.C:
		}

		select {
		case d.queue <- event:
			d.logger.Debug("Callback requeued", "destination", host, "requeues", event.requeues)
		case <-d.shutdown:
		default:
			d.drop(event, "buffer full on requeue")
		}
	}()
}

func (d *MemoryDispatcher) drop(event *Event, reason string) {
	d.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.RecordCallbackDropped(context.Background())
	}
	d.logger.Warn("Callback dropped",
		"reason", reason,
		"destination", destinationHost(event.Destination),
		"type", event.Payload.Type,
		"subject", event.Payload.Subject,
	)
}

// destinationHost keys circuit breakers by URL host.
func destinationHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

var _ Dispatcher = (*MemoryDispatcher)(nil)
