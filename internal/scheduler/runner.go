package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/hwrsync/pkg/models"
)

const (
	// DefaultTickInterval is the polling period of the Runner loop.
	DefaultTickInterval = 5 * time.Millisecond
	// MaxTickInterval bounds the polling period; coarser polling would show up
	// as phase-entry lag in the recordings.
	MaxTickInterval = 50 * time.Millisecond
)

type request struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

// Runner owns a Scheduler and polls it from a single goroutine.
// Control requests are executed on that goroutine.
type Runner struct {
	s        *Scheduler
	interval time.Duration
	requests chan request
	done     chan struct{}
}

// NewRunner wraps s. Non-positive intervals use DefaultTickInterval and
// intervals above MaxTickInterval are clamped.
func NewRunner(s *Scheduler, interval time.Duration) *Runner {
	switch {
	case interval <= 0:
		interval = DefaultTickInterval
	case interval > MaxTickInterval:
		interval = MaxTickInterval
	}
	return &Runner{
		s:        s,
		interval: interval,
		requests: make(chan request),
		done:     make(chan struct{}),
	}
}

// Interval returns the effective polling period.
func (r *Runner) Interval() time.Duration { return r.interval }

// Run starts the session if it is in standby and polls until it stops or ctx
// is cancelled. Cancellation stops the session before returning ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)

	if r.s.Status() == models.SessionStatusStandby {
		if err := r.s.Start(ctx); err != nil {
			return err
		}
	}

	ticker := r.s.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for r.s.Status() != models.SessionStatusStopped {
		select {
		case <-ctx.Done():
			r.s.Stop(context.WithoutCancel(ctx))
			return ctx.Err()
		case req := <-r.requests:
			req.fn(ctx)
			close(req.done)
		case <-ticker.C:
			r.s.Tick(ctx)
		}
	}

	log.Debug().Msg("Runner loop exited")
	return nil
}

// Done is closed when Run returns.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Status returns the latest published snapshot.
func (r *Runner) Status() *Status { return r.s.Snapshot() }

// Stop asks the loop to stop the session and waits for it to be applied.
func (r *Runner) Stop(ctx context.Context) error {
	return r.do(ctx, func(ctx context.Context) { r.s.Stop(ctx) })
}

// MoveTo asks the loop to jump to the named phase.
func (r *Runner) MoveTo(ctx context.Context, name models.PhaseName) (bool, error) {
	var moved bool
	err := r.do(ctx, func(ctx context.Context) { moved = r.s.MoveTo(ctx, name) })
	return moved, err
}

func (r *Runner) do(ctx context.Context, fn func(ctx context.Context)) error {
	req := request{fn: fn, done: make(chan struct{})}

	select {
	case r.requests <- req:
	case <-r.done:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
