// Package models contains domain models for hwrsync.
package models

import (
	"fmt"
	"sort"
)

// PhaseName identifies a state of the session phase machine.
type PhaseName string

const (
	PhaseFirstJump   PhaseName = "first_jump"
	PhaseStart       PhaseName = "start"
	PhasePrecue      PhaseName = "precue"
	PhaseCue         PhaseName = "cue"
	PhaseFadeOff     PhaseName = "fadeoff"
	PhaseRest        PhaseName = "rest"
	PhaseTrialInfo   PhaseName = "trialInfo"
	PhaseSendMarkers PhaseName = "sendMarkers"
)

// Phase is one node of the phase cycle. Duration is in seconds.
type Phase struct {
	Next     PhaseName `yaml:"next" json:"next"`
	Duration float64   `yaml:"duration" json:"duration"`
}

// PhaseTable maps phase names to their definition.
type PhaseTable map[PhaseName]Phase

// DefaultPhaseTable returns a fresh copy of the standard trial cycle.
// The cue duration here is the base duration; randomization is added on entry.
func DefaultPhaseTable() PhaseTable {
	return PhaseTable{
		PhaseFirstJump:   {Next: PhaseStart, Duration: 0.1},
		PhaseStart:       {Next: PhasePrecue, Duration: 1.0},
		PhasePrecue:      {Next: PhaseCue, Duration: 1.0},
		PhaseCue:         {Next: PhaseFadeOff, Duration: 6.0},
		PhaseFadeOff:     {Next: PhaseRest, Duration: 1.0},
		PhaseRest:        {Next: PhaseTrialInfo, Duration: 2.0},
		PhaseTrialInfo:   {Next: PhaseSendMarkers, Duration: 0.5},
		PhaseSendMarkers: {Next: PhaseStart, Duration: 0.5},
	}
}

// Clone returns an independent copy of the table.
func (t PhaseTable) Clone() PhaseTable {
	out := make(PhaseTable, len(t))
	for name, phase := range t {
		out[name] = phase
	}
	return out
}

// Names returns the phase names sorted alphabetically.
func (t PhaseTable) Names() []PhaseName {
	names := make([]PhaseName, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Validate checks that the initial phase exists, that every successor exists,
// and that no duration is negative.
func (t PhaseTable) Validate(initial PhaseName) error {
	if len(t) == 0 {
		return fmt.Errorf("phase table is empty")
	}
	if _, ok := t[initial]; !ok {
		return fmt.Errorf("initial phase %q not defined", initial)
	}
	for _, name := range t.Names() {
		phase := t[name]
		if phase.Next == "" {
			return fmt.Errorf("phase %q has no successor", name)
		}
		if _, ok := t[phase.Next]; !ok {
			return fmt.Errorf("phase %q: successor %q not defined", name, phase.Next)
		}
		if phase.Duration < 0 {
			return fmt.Errorf("phase %q: negative duration %v", name, phase.Duration)
		}
	}
	return nil
}
