package gorm

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/thebtf/hwrsync/pkg/models"
)

// MarkerStore persists emitted markers.
type MarkerStore struct {
	db           *gorm.DB
	sessions     *SessionStore
	laptopStream string
	tabletStream string
}

// NewMarkerStore creates a new marker store using the default stream names.
func NewMarkerStore(store *Store) *MarkerStore {
	return &MarkerStore{
		db:           store.DB,
		sessions:     NewSessionStore(store),
		laptopStream: models.LaptopStream,
		tabletStream: models.TabletStream,
	}
}

// SetStreams overrides the laptop and tablet stream names.
func (s *MarkerStore) SetStreams(laptop, tablet string) {
	s.laptopStream = laptop
	s.tabletStream = tablet
}

// SaveMarker stores one marker of a session. Laptop markers also update the
// trial's phase times; tablet markers flag the trial as received.
func (s *MarkerStore) SaveMarker(ctx context.Context, sessionKey, source string, m models.Marker) error {
	rec := &MarkerRecord{
		SourceID:   uuid.NewString(),
		SessionKey: sessionKey,
		Stream:     m.Stream,
		Source:     source,
		RunID:      m.RunID,
		TrialID:    m.TrialID,
		Timestamp:  m.Timestamp,
		Payload:    string(m.Payload),
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("save marker: %w", err)
	}

	if m.RunID == 0 || m.TrialID == 0 {
		if m.Stream == s.laptopStream {
			return s.saveSessionEnd(ctx, sessionKey, m.Payload)
		}
		return nil
	}
	switch m.Stream {
	case s.laptopStream:
		var lm models.LaptopMarkers
		if err := json.Unmarshal(m.Payload, &lm); err != nil {
			log.Warn().Err(err).Str("session", sessionKey).Msg("Laptop marker payload is not LaptopMarkers")
			return nil
		}
		return s.sessions.UpdateTrialTimes(ctx, sessionKey, lm)
	case s.tabletStream:
		return s.sessions.MarkTabletReceived(ctx, sessionKey, m.RunID, m.TrialID)
	}
	return nil
}

// saveSessionEnd records the laptop's final time from a session-level marker.
func (s *MarkerStore) saveSessionEnd(ctx context.Context, sessionKey string, payload []byte) error {
	var end models.SessionEnd
	if err := json.Unmarshal(payload, &end); err != nil || end.SessionFinalTime <= 0 {
		return nil
	}
	return s.sessions.SetEndedAt(ctx, sessionKey, int64(end.SessionFinalTime))
}

// ListMarkers returns a session's markers in emission order.
func (s *MarkerStore) ListMarkers(ctx context.Context, sessionKey string) ([]models.Marker, error) {
	var recs []MarkerRecord
	err := s.db.WithContext(ctx).
		Where("session_key = ?", sessionKey).
		Order("id").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	out := make([]models.Marker, 0, len(recs))
	for _, r := range recs {
		out = append(out, models.Marker{
			Stream:    r.Stream,
			Payload:   []byte(r.Payload),
			Timestamp: r.Timestamp,
			RunID:     r.RunID,
			TrialID:   r.TrialID,
		})
	}
	return out, nil
}

// CountMarkers returns the number of markers of a session on a stream.
// An empty stream counts all streams.
func (s *MarkerStore) CountMarkers(ctx context.Context, sessionKey, stream string) (int64, error) {
	q := s.db.WithContext(ctx).Model(&MarkerRecord{}).Where("session_key = ?", sessionKey)
	if stream != "" {
		q = q.Where("stream = ?", stream)
	}
	var count int64
	err := q.Count(&count).Error
	return count, err
}
