package protocol

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/hwrsync/pkg/models"
)

func TestLoadMissingFile(t *testing.T) {
	p, err := Load("/nonexistent/path/protocol.yml")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFirstJump, p.Initial)
	assert.Equal(t, models.DefaultPhaseTable(), p.Phases)
}

func TestLoadEmptyPath(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.Len(t, p.Phases, 8)
}

func TestLoadOverrides(t *testing.T) {
	const yamlContent = `
initial: start
phases:
  cue:
    next: fadeoff
    duration: 4.0
  rest:
    next: pause
    duration: 1.5
  pause:
    next: trialInfo
    duration: 3
`
	path := filepath.Join(t.TempDir(), "protocol.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseStart, p.Initial)
	assert.Equal(t, 4.0, p.Phases[models.PhaseCue].Duration)
	assert.Equal(t, models.PhaseName("pause"), p.Phases[models.PhaseRest].Next)
	assert.Equal(t, models.PhaseTrialInfo, p.Phases["pause"].Next)
	assert.Equal(t, 1.0, p.Phases[models.PhasePrecue].Duration)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("phases: [unclosed"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestParseRejectsBrokenGraph(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown initial", "initial: warmup\n"},
		{"dangling next", "phases:\n  rest: {next: nowhere, duration: 1}\n"},
		{"negative duration", "phases:\n  cue: {next: fadeoff, duration: -2}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.ErrorContains(t, err, "invalid protocol")
		})
	}
}
