package models

// TrialPhaseInfo is the nested trial block of a tablet command.
type TrialPhaseInfo struct {
	TrialID  int       `json:"trialID"`
	Phase    PhaseName `json:"trialPhase"`
	Letter   string    `json:"letter"`
	Duration float64   `json:"duration"`
}

// PhaseCommand is the message the tablet receives on every announced phase entry.
// Field names match what the tablet app parses, including "sesionStatus".
type PhaseCommand struct {
	Status           SessionStatus  `json:"sesionStatus"`
	SessionID        string         `json:"session_id"`
	RunID            int            `json:"run_id"`
	SubjectID        string         `json:"subject_id"`
	Trial            TrialPhaseInfo `json:"trialInfo"`
	SessionStartTime *float64       `json:"sessionStartTime,omitempty"`
}

// TabletTrial is the trial document written by the tablet app.
// Times are milliseconds on the tablet clock. Raw holds the document verbatim.
type TabletTrial struct {
	TrialID          int          `json:"trialID"`
	Letter           string       `json:"letter"`
	Coordinates      [][3]float64 `json:"coordinates"`
	PenDownMarkers   []float64    `json:"penDownMarkers"`
	PenUpMarkers     []float64    `json:"penUpMarkers"`
	SessionStartTime float64      `json:"sessionStartTime"`
	TrialStartTime   float64      `json:"trialStartTime"`
	TrialCueTime     float64      `json:"trialCueTime"`
	TrialFadeOffTime float64      `json:"trialFadeOffTime"`

	Raw []byte `json:"-"`
}
