package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTriggerNames(t *testing.T) {
	got, err := parseTriggerNames(" 1=trial_start, 2 = cue ,,")
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "trial_start", 2: "cue"}, got)

	got, err = parseTriggerNames("")
	require.NoError(t, err)
	assert.Empty(t, got)

	for _, bad := range []string{"1", "x=cue", "3="} {
		_, err := parseTriggerNames(bad)
		assert.Error(t, err, bad)
	}
}
