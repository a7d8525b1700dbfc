package callback

import (
	"context"
	"log/slog"

	"simgateway/internal/config"
	"simgateway/internal/job"
)

// EventSource is the CloudEvents source attribute of status notifications.
const EventSource = "simgateway/lifecycle"

// StatusNotifier turns persisted status changes into callback events.
// Delivery problems are logged and never reach the lifecycle operation.
type StatusNotifier struct {
	dispatcher Dispatcher
	builder    *job.EventBuilder
	url        string
	key        string
}

// NewStatusNotifier returns nil when cfg has no URL, which disables notifications.
func NewStatusNotifier(d Dispatcher, cfg config.NotifyConfig) *StatusNotifier {
	if cfg.URL == "" {
		return nil
	}
	return &StatusNotifier{
		dispatcher: d,
		builder:    job.NewEventBuilder(EventSource),
		url:        cfg.URL,
		key:        cfg.Key,
	}
}

// NotifyStatus queues a gateway.job.status event for j.
func (n *StatusNotifier) NotifyStatus(_ context.Context, j *job.Job, from job.Status) {
	event := &Event{
		Payload:     n.builder.BuildStatusEvent(j, from),
		Destination: n.url,
		SigningKey:  n.key,
	}
	if err := n.dispatcher.Dispatch(event); err != nil {
		slog.Warn("Status notification not queued", "jobId", j.ID, "from", from, "to", j.Status, "error", err)
	}
}
