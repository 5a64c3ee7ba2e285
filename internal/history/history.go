// Package history exports extraction run lifecycle events to analytics sinks.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of run event.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventRunCompleted EventType = "run_completed"
	EventRunFailed    EventType = "run_failed"
)

// Run is the run snapshot carried by an event.
type Run struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	State      string    `json:"state"`
	Products   int       `json:"products"`
	Inserted   int       `json:"inserted"`
	Skipped    int       `json:"skipped"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Event represents a run event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Run        Run       `json:"run"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
