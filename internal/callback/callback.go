// Package callback delivers job status notifications to a configured URL as
// signed CloudEvents, asynchronously and off the request path.
package callback

import (
	"context"
	"errors"

	"simgateway/pkg/cloudevent"
)

var (
	// ErrBufferFull is returned when the queue is full and the event is dropped.
	ErrBufferFull = errors.New("callback buffer full, event dropped")
	// ErrClosed is returned for events dispatched after Close.
	ErrClosed = errors.New("callback dispatcher is closed")
)

// Dispatcher queues events for asynchronous delivery.
type Dispatcher interface {
	// Dispatch queues an event. It never blocks.
	Dispatch(event *Event) error

	// Stats returns current delivery statistics.
	Stats() Stats

	// Close stops accepting events and drains the queue until ctx ends.
	Close(ctx context.Context) error
}

// Event is one delivery to one destination.
type Event struct {
	Payload     *cloudevent.CloudEvent
	Destination string // callback URL
	SigningKey  string // HMAC key, empty = unsigned
	requeues    int    // times put back because the destination's circuit was open
}

// Stats holds dispatcher statistics.
type Stats struct {
	QueueDepth    int   // current queue size
	Queued        int64 // total events queued
	Delivered     int64 // successful deliveries
	Failed        int64 // failed after retries
	Dropped       int64 // dropped due to full buffer or max requeues
	Requeued      int64 // requeued due to open circuit
	RetriesTotal  int64 // total retry attempts
	BreakersTotal int   // destinations seen
	BreakersOpen  int   // destinations currently blocked
}
