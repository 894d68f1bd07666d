package tablet

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/hwrsync/internal/clock"
	"github.com/thebtf/hwrsync/internal/metrics"
	"github.com/thebtf/hwrsync/pkg/models"
)

const (
	DefaultQueueSize   = 64
	DefaultHistorySize = 200
	DefaultSendTimeout = 2 * time.Second
)

// Transport is the blocking tablet API wrapped by a Dispatcher.
type Transport interface {
	Send(ctx context.Context, cmd models.PhaseCommand) error
	ReadTrial(ctx context.Context, subjectID, sessionID string, runID, trialID int) (*models.TabletTrial, error)
}

// HistoryEntry records the fate of one command.
type HistoryEntry struct {
	Command  models.PhaseCommand `json:"command"`
	QueuedAt time.Time           `json:"queued_at"`
	SentAt   time.Time           `json:"sent_at,omitempty"`
	Dropped  bool                `json:"dropped,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	QueueSize   int
	HistorySize int
	SendTimeout time.Duration
	Clock       clock.Clock
	Metrics     *metrics.Metrics
}

type queued struct {
	cmd      models.PhaseCommand
	queuedAt time.Time
}

// Dispatcher makes tablet sends non-blocking. Commands are delivered in order
// by one worker goroutine; when the queue is full they are dropped and logged.
type Dispatcher struct {
	transport   Transport
	queue       chan queued
	sendTimeout time.Duration
	clock       clock.Clock
	metrics     *metrics.Metrics

	historyMu   sync.Mutex
	history     []HistoryEntry
	historySize int

	dropped atomic.Int64
	sent    atomic.Int64

	// mu orders Send against Close so nothing is queued after the final drain.
	mu     sync.RWMutex
	closed bool
	quit   chan struct{}
	wg     sync.WaitGroup
}

// NewDispatcher wraps transport. Call Start before sending.
func NewDispatcher(transport Transport, opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Dispatcher{
		transport:   transport,
		queue:       make(chan queued, opts.QueueSize),
		sendTimeout: opts.SendTimeout,
		clock:       opts.Clock,
		metrics:     opts.Metrics,
		historySize: opts.HistorySize,
		quit:        make(chan struct{}),
	}
}

// Start launches the delivery worker. Cancelling ctx does not stop it:
// the final stopped command is queued after the session context ends, so the
// worker runs until Close.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(context.WithoutCancel(ctx))
}

// Close stops accepting commands, delivers what is queued and waits for the
// worker to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.quit)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Send queues cmd without blocking. It returns ErrClosed after Close.
func (d *Dispatcher) Send(ctx context.Context, cmd models.PhaseCommand) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	q := queued{cmd: cmd, queuedAt: d.clock.Now()}
	select {
	case d.queue <- q:
		return nil
	default:
		d.dropped.Add(1)
		d.metrics.RecordDroppedCommand(ctx)
		d.record(HistoryEntry{Command: cmd, QueuedAt: q.queuedAt, Dropped: true, Error: ErrQueueFull.Error()})
		log.Warn().
			Str("phase", string(cmd.Trial.Phase)).
			Int("trial_id", cmd.Trial.TrialID).
			Msg("Tablet queue full, dropping command")
		return ErrQueueFull
	}
}

// ReadTrial reads synchronously; the caller bounds it with ctx.
func (d *Dispatcher) ReadTrial(ctx context.Context, subjectID, sessionID string, runID, trialID int) (*models.TabletTrial, error) {
	return d.transport.ReadTrial(ctx, subjectID, sessionID, runID, trialID)
}

// History returns the most recent commands, oldest first.
func (d *Dispatcher) History() []HistoryEntry {
	d.historyMu.Lock()
	defer d.historyMu.Unlock()
	out := make([]HistoryEntry, len(d.history))
	copy(out, d.history)
	return out
}

// Dropped returns the number of commands lost to a full queue.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Sent returns the number of commands delivered successfully.
func (d *Dispatcher) Sent() int64 { return d.sent.Load() }

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case q := <-d.queue:
			d.deliver(ctx, q)
		case <-d.quit:
			d.drain(ctx)
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case q := <-d.queue:
			d.deliver(ctx, q)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, q queued) {
	sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	entry := HistoryEntry{Command: q.cmd, QueuedAt: q.queuedAt}
	if err := d.transport.Send(sctx, q.cmd); err != nil {
		entry.Error = err.Error()
		d.metrics.RecordSendError()
		log.Warn().Err(err).Str("phase", string(q.cmd.Trial.Phase)).Msg("Tablet send failed")
	} else {
		entry.SentAt = d.clock.Now()
		d.sent.Add(1)
	}
	d.record(entry)
}

func (d *Dispatcher) record(e HistoryEntry) {
	d.historyMu.Lock()
	defer d.historyMu.Unlock()
	d.history = append(d.history, e)
	if len(d.history) > d.historySize {
		d.history = d.history[len(d.history)-d.historySize:]
	}
}
