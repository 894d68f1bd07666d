package models

// Stream names used on the marker channel.
const (
	LaptopStream = "Laptop_Markers"
	TabletStream = "Tablet_Markers"
)

// Marker is one timestamped event on a named string stream.
// Timestamp is in seconds on the emitting host's clock.
type Marker struct {
	Stream    string  `json:"stream"`
	Payload   []byte  `json:"-"`
	Timestamp float64 `json:"timestamp"`
	RunID     int     `json:"runID"`
	TrialID   int     `json:"trialID"`
}

// LaptopMarkers is the per-trial timing record produced by the laptop.
// All times are milliseconds since the Unix epoch; zero means not yet recorded.
type LaptopMarkers struct {
	SessionID        string  `json:"sessionID"`
	SubjectID        string  `json:"subjectID"`
	RunID            int     `json:"runID"`
	TrialID          int     `json:"trialID"`
	Letter           string  `json:"letter"`
	SessionStartTime float64 `json:"sessionStartTime"`
	TrialStartTime   float64 `json:"trialStartTime"`
	TrialPrecueTime  float64 `json:"trialPrecueTime"`
	TrialCueTime     float64 `json:"trialCueTime"`
	TrialFadeOffTime float64 `json:"trialFadeOffTime"`
	TrialRestTime    float64 `json:"trialRestTime"`
	SessionFinalTime float64 `json:"sessionFinalTime"`
}

// ResetTrial clears the per-trial timestamps and sets the new trial identity.
func (m *LaptopMarkers) ResetTrial(t Trial) {
	m.RunID = t.RunID()
	m.TrialID = t.TrialID()
	m.Letter = t.Letter
	m.TrialStartTime = 0
	m.TrialPrecueTime = 0
	m.TrialCueTime = 0
	m.TrialFadeOffTime = 0
	m.TrialRestTime = 0
}

// SessionEnd is the session-level laptop record emitted once on stop. It has
// no trial fields, so per-trial readers skip it.
type SessionEnd struct {
	SessionID        string  `json:"sessionID"`
	SubjectID        string  `json:"subjectID"`
	SessionStartTime float64 `json:"sessionStartTime"`
	SessionFinalTime float64 `json:"sessionFinalTime"`
}
