package job

import (
	"simgateway/pkg/cloudevent"
)

// EventTypeStatus is emitted whenever a job's locally held status changes.
const EventTypeStatus = "gateway.job.status"

// EventBuilder builds CloudEvents for job status changes.
type EventBuilder struct {
	source string
}

// NewEventBuilder creates a new EventBuilder.
func NewEventBuilder(source string) *EventBuilder {
	return &EventBuilder{source: source}
}

// BuildStatusEvent creates a status change event for j moving away from prev.
func (b *EventBuilder) BuildStatusEvent(j *Job, prev Status) *cloudevent.CloudEvent {
	data := map[string]any{
		"jobId":             j.ID,
		"from":              string(prev),
		"to":                string(j.Status),
		"backendIdentifier": j.BackendIdentifier,
	}
	if j.Case != nil {
		data["caseLabel"] = j.Case.Label
	}
	return cloudevent.New(EventTypeStatus, b.source, j.ID, "", data)
}
