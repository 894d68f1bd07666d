package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// SessionRecord is one recording session. Key is generated per live run of the
// scheduler so repeated sessions of a subject never collide.
type SessionRecord struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	Key            string `gorm:"column:session_key;uniqueIndex;not null"`
	SessionID      string `gorm:"index:idx_sessions_subject,priority:2;not null"`
	SubjectID      string `gorm:"index:idx_sessions_subject,priority:1;not null"`
	SessionName    string
	Date           string
	Comments       string
	Kind           string `gorm:"type:text;index"`
	Status         string `gorm:"type:text;check:status IN ('standby', 'running', 'stopped');default:'standby';index"`
	Runs           int
	TrialsPerRun   int
	StartedAtEpoch int64 `gorm:"index:idx_sessions_started,sort:desc;not null"`
	EndedAtEpoch   sql.NullInt64
}

func (SessionRecord) TableName() string { return "sessions" }

// BeforeCreate hook to ensure timestamps are set.
func (s *SessionRecord) BeforeCreate(tx *gorm.DB) error {
	if s.StartedAtEpoch == 0 {
		s.StartedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}

// TrialRecord is one trial of a session. Times are milliseconds since the
// Unix epoch; zero means the phase was not reached.
type TrialRecord struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	SessionKey     string `gorm:"uniqueIndex:idx_trials_session_run_trial,priority:1;not null"`
	RunID          int    `gorm:"uniqueIndex:idx_trials_session_run_trial,priority:2;not null"`
	TrialID        int    `gorm:"uniqueIndex:idx_trials_session_run_trial,priority:3;not null"`
	Letter         string `gorm:"not null"`
	StartTime      float64
	PrecueTime     float64
	CueTime        float64
	FadeOffTime    float64
	RestTime       float64
	TabletReceived bool `gorm:"default:false"`
}

func (TrialRecord) TableName() string { return "trials" }

// MarkerRecord is one emitted marker.
type MarkerRecord struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	SourceID       string `gorm:"uniqueIndex;not null"`
	SessionKey     string `gorm:"index:idx_markers_session_stream,priority:1;not null"`
	Stream         string `gorm:"index:idx_markers_session_stream,priority:2;not null"`
	Source         string `gorm:"not null"`
	RunID          int
	TrialID        int
	Timestamp      float64 `gorm:"not null"`
	Payload        string  `gorm:"type:text"`
	CreatedAtEpoch int64   `gorm:"not null"`
}

func (MarkerRecord) TableName() string { return "markers" }

// BeforeCreate hook to ensure timestamps are set.
func (m *MarkerRecord) BeforeCreate(tx *gorm.DB) error {
	if m.CreatedAtEpoch == 0 {
		m.CreatedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}
