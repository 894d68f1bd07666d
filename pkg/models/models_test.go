package models

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPhaseTable_IsFreshCopy(t *testing.T) {
	a := DefaultPhaseTable()
	b := DefaultPhaseTable()

	a[PhaseCue] = Phase{Next: PhaseFadeOff, Duration: 99}

	assert.Equal(t, 6.0, b[PhaseCue].Duration)
}

func TestPhaseTable_Clone(t *testing.T) {
	orig := DefaultPhaseTable()
	clone := orig.Clone()
	clone[PhaseRest] = Phase{Next: PhaseStart, Duration: 10}

	assert.Equal(t, PhaseTrialInfo, orig[PhaseRest].Next)
	assert.Equal(t, 2.0, orig[PhaseRest].Duration)
	assert.Len(t, clone, len(orig))
}

func TestPhaseTable_Names(t *testing.T) {
	table := PhaseTable{
		PhaseRest:  {Next: PhaseStart},
		PhaseStart: {Next: PhaseRest},
	}
	assert.Equal(t, []PhaseName{PhaseRest, PhaseStart}, table.Names())
}

func TestTrial_WireIDs(t *testing.T) {
	tr := Trial{RunIndex: 0, TrialIndex: 4, Letter: "a"}
	assert.Equal(t, 1, tr.RunID())
	assert.Equal(t, 5, tr.TrialID())
}

func TestLaptopMarkers_ResetTrial(t *testing.T) {
	m := LaptopMarkers{
		SessionStartTime: 1000,
		TrialStartTime:   2000,
		TrialCueTime:     3000,
		TrialRestTime:    4000,
	}
	m.ResetTrial(Trial{RunIndex: 1, TrialIndex: 2, Letter: "o"})

	assert.Equal(t, 2, m.RunID)
	assert.Equal(t, 3, m.TrialID)
	assert.Equal(t, "o", m.Letter)
	assert.Equal(t, 1000.0, m.SessionStartTime)
	assert.Zero(t, m.TrialStartTime)
	assert.Zero(t, m.TrialCueTime)
	assert.Zero(t, m.TrialRestTime)
}

func TestPhaseCommand_WireFormat(t *testing.T) {
	cmd := PhaseCommand{
		Status:    SessionStatusRunning,
		SessionID: "1",
		RunID:     2,
		SubjectID: "subject_0",
		Trial: TrialPhaseInfo{
			TrialID:  3,
			Phase:    PhaseCue,
			Letter:   "e",
			Duration: 7.5,
		},
	}

	data, err := json.Marshal(cmd)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "running", decoded["sesionStatus"])
	assert.Equal(t, "subject_0", decoded["subject_id"])
	assert.NotContains(t, decoded, "sessionStartTime")

	trial, ok := decoded["trialInfo"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "cue", trial["trialPhase"])
	assert.Equal(t, 7.5, trial["duration"])
	assert.Equal(t, float64(3), trial["trialID"])
}

func TestPhaseCommand_SessionStartTime(t *testing.T) {
	start := 1700000000000.0
	data, err := json.Marshal(PhaseCommand{SessionStartTime: &start})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sessionStartTime":1700000000000`)
}

func TestPhaseTable_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(PhaseTable)
		initial PhaseName
		wantErr string
	}{
		{"default ok", func(PhaseTable) {}, PhaseFirstJump, ""},
		{"missing initial", func(PhaseTable) {}, "warmup", "initial phase"},
		{"dangling successor", func(tb PhaseTable) {
			tb[PhaseRest] = Phase{Next: "nowhere", Duration: 1}
		}, PhaseFirstJump, "successor"},
		{"terminal phase", func(tb PhaseTable) {
			tb[PhaseRest] = Phase{Duration: 1}
		}, PhaseFirstJump, "no successor"},
		{"negative duration", func(tb PhaseTable) {
			tb[PhaseCue] = Phase{Next: PhaseFadeOff, Duration: -1}
		}, PhaseFirstJump, "negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := DefaultPhaseTable()
			tt.mutate(tb)
			err := tb.Validate(tt.initial)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	assert.Error(t, PhaseTable{}.Validate(PhaseStart))
}
