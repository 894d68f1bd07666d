package models

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusStandby SessionStatus = "standby"
	SessionStatusRunning SessionStatus = "running"
	SessionStatusStopped SessionStatus = "stopped"
)

// SessionInfo identifies a recording session and its subject.
type SessionInfo struct {
	SessionID   string `json:"session_id" yaml:"session_id"`
	SubjectID   string `json:"subject_id" yaml:"subject_id"`
	SessionName string `json:"session_name" yaml:"session_name"`
	Date        string `json:"date" yaml:"date"`
	Comments    string `json:"comments,omitempty" yaml:"comments,omitempty"`
}

// Trial is the scheduler's cursor over the run/trial grid.
// RunIndex and TrialIndex are zero-based; wire identifiers are one-based.
type Trial struct {
	RunIndex   int    `json:"run_index"`
	TrialIndex int    `json:"trial_index"`
	Letter     string `json:"letter"`
}

// RunID returns the one-based run identifier used on the wire.
func (t Trial) RunID() int { return t.RunIndex + 1 }

// TrialID returns the one-based trial identifier used on the wire.
func (t Trial) TrialID() int { return t.TrialIndex + 1 }
