package marker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/hwrsync/pkg/models"
)

// ErrQueueFull is returned by Queue.Emit when the marker was dropped.
var ErrQueueFull = errors.New("marker queue full")

// Queue delivers markers to an Emitter from a background goroutine so that
// Emit never blocks the caller. Markers keep their order.
type Queue struct {
	next    Emitter
	ch      chan models.Marker
	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once
	quit    chan struct{}
}

// NewQueue wraps next with a bounded buffer of size entries.
func NewQueue(next Emitter, size int) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{
		next: next,
		ch:   make(chan models.Marker, size),
		quit: make(chan struct{}),
	}
}

// Start launches the delivery goroutine.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ctx := context.WithoutCancel(ctx)
		for {
			select {
			case m := <-q.ch:
				q.deliver(ctx, m)
			case <-q.quit:
				for {
					select {
					case m := <-q.ch:
						q.deliver(ctx, m)
					default:
						return
					}
				}
			}
		}
	}()
}

// Emit implements Emitter without blocking.
func (q *Queue) Emit(_ context.Context, m models.Marker) error {
	select {
	case q.ch <- m:
		return nil
	default:
		q.dropped.Add(1)
		log.Warn().Str("stream", m.Stream).Int("trial_id", m.TrialID).Msg("Marker queue full, dropping marker")
		return ErrQueueFull
	}
}

// Dropped returns the number of markers lost to a full buffer.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Close flushes queued markers and stops the goroutine.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.quit) })
	q.wg.Wait()
}

func (q *Queue) deliver(ctx context.Context, m models.Marker) {
	if err := q.next.Emit(ctx, m); err != nil {
		log.Warn().Err(err).Str("stream", m.Stream).Msg("Marker delivery failed")
	}
}
