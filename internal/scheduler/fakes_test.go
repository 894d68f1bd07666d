package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/thebtf/hwrsync/pkg/models"
)

type fakeMessenger struct {
	mu       sync.Mutex
	commands []models.PhaseCommand
	reads    []string
	readErr  error
	sendErr  error
}

func (f *fakeMessenger) Send(_ context.Context, cmd models.PhaseCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return f.sendErr
}

func (f *fakeMessenger) ReadTrial(ctx context.Context, subjectID, sessionID string, runID, trialID int) (*models.TabletTrial, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("read without deadline")
	}
	f.reads = append(f.reads, fmt.Sprintf("%s/%s/%d/%d", subjectID, sessionID, runID, trialID))
	if f.readErr != nil {
		return nil, f.readErr
	}
	raw := fmt.Sprintf(`{"trialID":%d,"letter":"x"}`, trialID)
	return &models.TabletTrial{TrialID: trialID, Raw: []byte(raw)}, nil
}

func (f *fakeMessenger) Commands() []models.PhaseCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PhaseCommand(nil), f.commands...)
}

type fakeEmitter struct {
	mu      sync.Mutex
	markers []models.Marker
}

func (f *fakeEmitter) Emit(_ context.Context, m models.Marker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markers = append(f.markers, m)
	return nil
}

func (f *fakeEmitter) Markers() []models.Marker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Marker(nil), f.markers...)
}

func (f *fakeEmitter) stream(name string) []models.Marker {
	var out []models.Marker
	for _, m := range f.Markers() {
		if m.Stream == name {
			out = append(out, m)
		}
	}
	return out
}

// trials returns the per-trial markers of a stream, leaving out the
// session-level record emitted on stop.
func (f *fakeEmitter) trials(name string) []models.Marker {
	var out []models.Marker
	for _, m := range f.stream(name) {
		if m.TrialID != 0 {
			out = append(out, m)
		}
	}
	return out
}

type fakeDisplay struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeDisplay) SetRest() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "rest")
}

func (f *fakeDisplay) SetActive(letter string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "active:"+letter)
}
