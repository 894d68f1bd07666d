// Package marker publishes timestamped session markers.
//
// An Emitter receives every marker the scheduler produces. Emitters compose:
// Fanout copies a marker to several sinks and Queue moves delivery off the
// caller's goroutine.
package marker

import (
	"context"
	"errors"

	"github.com/goccy/go-json"

	"github.com/thebtf/hwrsync/pkg/models"
)

// Emitter publishes markers.
type Emitter interface {
	Emit(ctx context.Context, m models.Marker) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, m models.Marker) error

// Emit implements Emitter.
func (f EmitterFunc) Emit(ctx context.Context, m models.Marker) error { return f(ctx, m) }

// Event is the wire form of a marker on SSE and pub/sub channels.
// JSON payloads are embedded as-is; anything else travels as a JSON string.
type Event struct {
	Source    string          `json:"source,omitempty"`
	Stream    string          `json:"stream"`
	Timestamp float64         `json:"timestamp"`
	RunID     int             `json:"runID"`
	TrialID   int             `json:"trialID"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEvent converts m for the wire.
func NewEvent(source string, m models.Marker) Event {
	payload := json.RawMessage(m.Payload)
	if len(m.Payload) == 0 {
		payload = json.RawMessage("null")
	} else if !json.Valid(m.Payload) {
		quoted, _ := json.Marshal(string(m.Payload))
		payload = quoted
	}
	return Event{
		Source:    source,
		Stream:    m.Stream,
		Timestamp: m.Timestamp,
		RunID:     m.RunID,
		TrialID:   m.TrialID,
		Payload:   payload,
	}
}

// Marker converts the event back into a marker.
func (e Event) Marker() models.Marker {
	payload := []byte(e.Payload)
	var s string
	if len(payload) > 0 && payload[0] == '"' && json.Unmarshal(payload, &s) == nil {
		payload = []byte(s)
	}
	return models.Marker{
		Stream:    e.Stream,
		Payload:   payload,
		Timestamp: e.Timestamp,
		RunID:     e.RunID,
		TrialID:   e.TrialID,
	}
}

// Fanout emits to every sink and joins their errors.
type Fanout []Emitter

// Emit implements Emitter. Every sink is tried even when one fails.
func (f Fanout) Emit(ctx context.Context, m models.Marker) error {
	var errs []error
	for _, e := range f {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
