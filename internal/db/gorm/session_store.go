package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/hwrsync/pkg/models"
)

// ErrSessionNotFound is returned when no session matches the lookup.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore provides session and trial operations using GORM.
type SessionStore struct {
	db *gorm.DB
}

// NewSessionStore creates a new session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{db: store.DB}
}

// CreateSession stores a new session in standby and seeds one trial row per
// entry of runOrders.
func (s *SessionStore) CreateSession(ctx context.Context, info models.SessionInfo, kind string, runOrders [][]string) (*SessionRecord, error) {
	trialsPerRun := 0
	if len(runOrders) > 0 {
		trialsPerRun = len(runOrders[0])
	}

	rec := &SessionRecord{
		Key:          uuid.NewString(),
		SessionID:    info.SessionID,
		SubjectID:    info.SubjectID,
		SessionName:  info.SessionName,
		Date:         info.Date,
		Comments:     info.Comments,
		Kind:         kind,
		Status:       string(models.SessionStatusStandby),
		Runs:         len(runOrders),
		TrialsPerRun: trialsPerRun,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		var trials []TrialRecord
		for r, order := range runOrders {
			for t, letter := range order {
				trials = append(trials, TrialRecord{
					SessionKey: rec.Key,
					RunID:      r + 1,
					TrialID:    t + 1,
					Letter:     letter,
				})
			}
		}
		if len(trials) == 0 {
			return nil
		}
		return tx.CreateInBatches(trials, 100).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return rec, nil
}

// SetStatus updates a session's status. Stopping records the end time.
func (s *SessionStore) SetStatus(ctx context.Context, key string, status models.SessionStatus) error {
	updates := map[string]interface{}{"status": string(status)}
	if status == models.SessionStatusStopped {
		// Keep the laptop's own final time when it was recorded first.
		updates["ended_at_epoch"] = gorm.Expr("COALESCE(ended_at_epoch, ?)", time.Now().UnixMilli())
	}

	res := s.db.WithContext(ctx).Model(&SessionRecord{}).Where("session_key = ?", key).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// SetEndedAt sets the session end time in epoch milliseconds.
func (s *SessionStore) SetEndedAt(ctx context.Context, key string, epochMS int64) error {
	res := s.db.WithContext(ctx).Model(&SessionRecord{}).Where("session_key = ?", key).
		Update("ended_at_epoch", sqlNullInt64(epochMS))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// GetSession returns the session with the given key.
func (s *SessionStore) GetSession(ctx context.Context, key string) (*SessionRecord, error) {
	var rec SessionRecord
	err := s.db.WithContext(ctx).Where("session_key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindLatest returns the most recent session of a subject with the given id.
func (s *SessionStore) FindLatest(ctx context.Context, subjectID, sessionID string) (*SessionRecord, error) {
	var rec SessionRecord
	err := s.db.WithContext(ctx).
		Where("subject_id = ? AND session_id = ?", subjectID, sessionID).
		Order("started_at_epoch DESC").
		Order("id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *SessionStore) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	var recs []SessionRecord
	err := s.db.WithContext(ctx).
		Order("started_at_epoch DESC").
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// ListTrials returns a session's trials in run and trial order.
func (s *SessionStore) ListTrials(ctx context.Context, key string) ([]TrialRecord, error) {
	var trials []TrialRecord
	err := s.db.WithContext(ctx).
		Where("session_key = ?", key).
		Order("run_id").
		Order("trial_id").
		Find(&trials).Error
	return trials, err
}

// UpdateTrialTimes upserts the phase times of one trial.
func (s *SessionStore) UpdateTrialTimes(ctx context.Context, key string, lm models.LaptopMarkers) error {
	trial := TrialRecord{
		SessionKey:  key,
		RunID:       lm.RunID,
		TrialID:     lm.TrialID,
		Letter:      lm.Letter,
		StartTime:   lm.TrialStartTime,
		PrecueTime:  lm.TrialPrecueTime,
		CueTime:     lm.TrialCueTime,
		FadeOffTime: lm.TrialFadeOffTime,
		RestTime:    lm.TrialRestTime,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_key"}, {Name: "run_id"}, {Name: "trial_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"letter", "start_time", "precue_time", "cue_time", "fade_off_time", "rest_time",
		}),
	}).Create(&trial).Error
}

// MarkTabletReceived flags a trial whose tablet record was captured.
func (s *SessionStore) MarkTabletReceived(ctx context.Context, key string, runID, trialID int) error {
	return s.db.WithContext(ctx).Model(&TrialRecord{}).
		Where("session_key = ? AND run_id = ? AND trial_id = ?", key, runID, trialID).
		Update("tablet_received", true).Error
}
