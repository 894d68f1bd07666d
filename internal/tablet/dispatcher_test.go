package tablet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/hwrsync/internal/metrics"
	"github.com/thebtf/hwrsync/pkg/models"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    []models.PhaseCommand
	block   chan struct{}
	sendErr error
}

func (f *fakeTransport) Send(ctx context.Context, cmd models.PhaseCommand) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return f.sendErr
}

func (f *fakeTransport) ReadTrial(_ context.Context, _, _ string, _, trialID int) (*models.TabletTrial, error) {
	return &models.TabletTrial{TrialID: trialID}, nil
}

func (f *fakeTransport) Sent() []models.PhaseCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PhaseCommand(nil), f.sent...)
}

func phaseCmd(trialID int) models.PhaseCommand {
	return models.PhaseCommand{Trial: models.TrialPhaseInfo{TrialID: trialID, Phase: models.PhaseStart}}
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	ft := &fakeTransport{}
	d := NewDispatcher(ft, DispatcherOptions{})
	d.Start(context.Background())

	for i := 1; i <= 5; i++ {
		require.NoError(t, d.Send(context.Background(), phaseCmd(i)))
	}
	d.Close()

	sent := ft.Sent()
	require.Len(t, sent, 5)
	for i, cmd := range sent {
		assert.Equal(t, i+1, cmd.Trial.TrialID)
	}
	assert.Equal(t, int64(5), d.Sent())
	assert.Len(t, d.History(), 5)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	ft := &fakeTransport{block: make(chan struct{})}
	m := metrics.New()
	d := NewDispatcher(ft, DispatcherOptions{QueueSize: 2, SendTimeout: time.Minute, Metrics: m})
	d.Start(context.Background())

	// The worker takes the first command and blocks in Send.
	require.NoError(t, d.Send(context.Background(), phaseCmd(1)))
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, d.Send(context.Background(), phaseCmd(2)))
	require.NoError(t, d.Send(context.Background(), phaseCmd(3)))
	err := d.Send(context.Background(), phaseCmd(4))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "send never blocks")

	assert.Equal(t, int64(1), d.Dropped())
	assert.Equal(t, int64(1), m.GetSnapshot().DroppedCommands)

	close(ft.block)
	d.Close()

	assert.Len(t, ft.Sent(), 3)
	var dropped int
	for _, e := range d.History() {
		if e.Dropped {
			dropped++
			assert.Equal(t, 4, e.Command.Trial.TrialID)
		}
	}
	assert.Equal(t, 1, dropped)
}

func TestDispatcher_SendTimeout(t *testing.T) {
	ft := &fakeTransport{block: make(chan struct{})}
	d := NewDispatcher(ft, DispatcherOptions{SendTimeout: 10 * time.Millisecond})
	d.Start(context.Background())

	require.NoError(t, d.Send(context.Background(), phaseCmd(1)))
	d.Close()

	hist := d.History()
	require.Len(t, hist, 1)
	assert.Contains(t, hist[0].Error, context.DeadlineExceeded.Error())
	assert.Equal(t, int64(0), d.Sent())
}

func TestDispatcher_SendError(t *testing.T) {
	ft := &fakeTransport{sendErr: errors.New("adb offline")}
	d := NewDispatcher(ft, DispatcherOptions{})
	d.Start(context.Background())

	require.NoError(t, d.Send(context.Background(), phaseCmd(1)))
	d.Close()

	hist := d.History()
	require.Len(t, hist, 1)
	assert.Equal(t, "adb offline", hist[0].Error)
	assert.True(t, hist[0].SentAt.IsZero())
}

func TestDispatcher_HistoryBounded(t *testing.T) {
	ft := &fakeTransport{}
	d := NewDispatcher(ft, DispatcherOptions{HistorySize: 3, QueueSize: 16})
	d.Start(context.Background())
	for i := 1; i <= 10; i++ {
		require.NoError(t, d.Send(context.Background(), phaseCmd(i)))
	}
	d.Close()

	hist := d.History()
	require.Len(t, hist, 3)
	assert.Equal(t, 8, hist[0].Command.Trial.TrialID)
	assert.Equal(t, 10, hist[2].Command.Trial.TrialID)
}

func TestDispatcher_ClosedRejects(t *testing.T) {
	d := NewDispatcher(&fakeTransport{}, DispatcherOptions{})
	d.Start(context.Background())
	d.Close()
	d.Close()

	assert.ErrorIs(t, d.Send(context.Background(), phaseCmd(1)), ErrClosed)
}

func TestDispatcher_DeliversAfterContextCancel(t *testing.T) {
	ft := &fakeTransport{}
	d := NewDispatcher(ft, DispatcherOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	cancel()

	stop := models.PhaseCommand{Status: models.SessionStatusStopped, Trial: models.TrialPhaseInfo{TrialID: 3, Phase: models.PhaseRest}}
	require.NoError(t, d.Send(context.Background(), stop))
	d.Close()

	sent := ft.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, models.SessionStatusStopped, sent[0].Status)
	assert.Equal(t, int64(1), d.Sent())
	assert.ErrorIs(t, d.Send(context.Background(), stop), ErrClosed)
}

func TestDispatcher_ReadTrialPassthrough(t *testing.T) {
	d := NewDispatcher(&fakeTransport{}, DispatcherOptions{})
	trial, err := d.ReadTrial(context.Background(), "s", "1", 1, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, trial.TrialID)
}
