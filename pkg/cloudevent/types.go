// Package cloudevent builds, signs and delivers CloudEvents 1.0 over HTTP in
// structured JSON mode.
package cloudevent

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SpecVersion is the only CloudEvents version produced.
const SpecVersion = "1.0"

// CloudEvent is a CloudEvents 1.0 event with a JSON object payload.
type CloudEvent struct {
	SpecVersion     string         `json:"specversion"`
	Type            string         `json:"type"`
	Source          string         `json:"source"`
	Subject         string         `json:"subject"`
	ID              string         `json:"id"`
	Time            time.Time      `json:"time"`
	DataContentType string         `json:"datacontenttype"`
	Data            map[string]any `json:"data"`
}

// New creates an event stamped with the current UTC time. An empty id is
// replaced with a random UUID.
func New(eventType, source, subject, id string, data map[string]any) *CloudEvent {
	if id == "" {
		id = uuid.NewString()
	}
	return &CloudEvent{
		SpecVersion:     SpecVersion,
		Type:            eventType,
		Source:          source,
		Subject:         subject,
		ID:              id,
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}
}

// Validate checks the attributes CloudEvents requires.
func (e *CloudEvent) Validate() error {
	switch {
	case e == nil:
		return errors.New("cloudevent: nil event")
	case e.SpecVersion != SpecVersion:
		return errors.New("cloudevent: specversion must be " + SpecVersion)
	case e.ID == "":
		return errors.New("cloudevent: id is required")
	case e.Source == "":
		return errors.New("cloudevent: source is required")
	case e.Type == "":
		return errors.New("cloudevent: type is required")
	}
	return nil
}
