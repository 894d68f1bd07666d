package marker

import (
	"context"

	"github.com/thebtf/hwrsync/pkg/models"
)

// Store persists markers of a session.
type Store interface {
	SaveMarker(ctx context.Context, sessionID, source string, m models.Marker) error
}

// Recorder writes every marker to a Store.
type Recorder struct {
	store     Store
	sessionID string
	source    string
}

// NewRecorder returns a Recorder bound to one session.
func NewRecorder(store Store, sessionID, source string) *Recorder {
	return &Recorder{store: store, sessionID: sessionID, source: source}
}

// Emit implements Emitter.
func (r *Recorder) Emit(ctx context.Context, m models.Marker) error {
	return r.store.SaveMarker(ctx, r.sessionID, r.source, m)
}
