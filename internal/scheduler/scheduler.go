// Package scheduler drives the session phase machine.
//
// A Scheduler is polled: every Tick checks the current phase deadline and
// performs at most one transition. Phase entries record laptop timestamps,
// announce the phase to the tablet and, at sendMarkers, flush the trial's
// markers. All mutation happens on the goroutine that calls Tick, which in
// production is the Runner loop.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/hwrsync/internal/clock"
	"github.com/thebtf/hwrsync/internal/metrics"
	"github.com/thebtf/hwrsync/pkg/models"
)

const defaultPullTimeout = 800 * time.Millisecond

// Messenger is the scheduler's view of the tablet.
// Send must not block; implementations queue the command.
type Messenger interface {
	Send(ctx context.Context, cmd models.PhaseCommand) error
	ReadTrial(ctx context.Context, subjectID, sessionID string, runID, trialID int) (*models.TabletTrial, error)
}

// Emitter publishes markers on the marker channel. Emit must not block.
type Emitter interface {
	Emit(ctx context.Context, m models.Marker) error
}

// Display is the participant-facing cue.
type Display interface {
	SetRest()
	SetActive(letter string)
}

// Config configures a Scheduler.
type Config struct {
	Info         models.SessionInfo
	Phases       models.PhaseTable // nil means the default cycle
	InitialPhase models.PhaseName  // empty means first_jump

	Runs            int
	Letters         []string
	RandomizePerRun bool
	Seed            *int64

	// Cue duration on entry is CueBase + U[CueTMin, CueTMax) when RandomizeCue
	// is set. A zero CueBase keeps the cue duration from the phase table.
	CueBase      float64
	CueTMin      float64
	CueTMax      float64
	RandomizeCue bool

	LaptopStream string
	TabletStream string
	PullTimeout  time.Duration

	Metrics *metrics.Metrics
}

// Status is a read-only snapshot published after every state change.
type Status struct {
	Status        models.SessionStatus `json:"status"`
	Phase         models.PhaseName     `json:"phase"`
	PhaseDuration float64              `json:"phase_duration"`
	Deadline      time.Time            `json:"deadline"`
	SessionID     string               `json:"session_id"`
	SubjectID     string               `json:"subject_id"`
	RunID         int                  `json:"run_id"`
	TrialID       int                  `json:"trial_id"`
	Letter        string               `json:"letter"`
	Runs          int                  `json:"runs"`
	TrialsPerRun  int                  `json:"trials_per_run"`
	Finished      bool                 `json:"finished"`
	Elapsed       float64              `json:"elapsed"`
	Accumulated   float64              `json:"accumulated"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// Scheduler is the session phase machine. It is not safe for concurrent
// mutation; observers use Snapshot.
type Scheduler struct {
	cfg       Config
	clock     clock.Clock
	messenger Messenger
	emitter   Emitter
	display   Display
	metrics   *metrics.Metrics
	rng       *rand.Rand

	phases    models.PhaseTable
	initial   models.PhaseName
	cueBase   float64
	runOrders [][]string

	status       models.SessionStatus
	current      models.PhaseName
	deadline     time.Time
	phaseEntered time.Time
	sessionStart time.Time
	sessionEnd   time.Time
	accumulated  time.Duration
	trial        models.Trial
	finished     bool
	markers      models.LaptopMarkers

	snapshot atomic.Pointer[Status]
}

// New validates cfg and returns a Scheduler in standby.
// Nil messenger, emitter or display are replaced with no-ops.
func New(cfg Config, clk clock.Clock, messenger Messenger, emitter Emitter, display Display) (*Scheduler, error) {
	if cfg.Phases == nil {
		cfg.Phases = models.DefaultPhaseTable()
	}
	if cfg.InitialPhase == "" {
		cfg.InitialPhase = models.PhaseFirstJump
	}
	if err := cfg.Phases.Validate(cfg.InitialPhase); err != nil {
		return nil, &ConfigurationError{Field: "phases", Reason: err.Error()}
	}
	if cfg.InitialPhase == models.PhaseSendMarkers {
		return nil, &ConfigurationError{Field: "phases", Reason: "the initial phase cannot be sendMarkers"}
	}
	if cfg.Runs < 1 {
		return nil, &ConfigurationError{Field: "runs", Reason: fmt.Sprintf("must be at least 1, got %d", cfg.Runs)}
	}
	if len(cfg.Letters) == 0 {
		return nil, &ConfigurationError{Field: "letters", Reason: "at least one letter is required"}
	}
	if cfg.CueTMin < 0 || cfg.CueTMin >= cfg.CueTMax {
		return nil, &ConfigurationError{
			Field:  "cue",
			Reason: fmt.Sprintf("need 0 <= tmin < tmax, got tmin=%v tmax=%v", cfg.CueTMin, cfg.CueTMax),
		}
	}
	if cfg.CueBase < 0 {
		return nil, &ConfigurationError{Field: "cue", Reason: fmt.Sprintf("negative base duration %v", cfg.CueBase)}
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = defaultPullTimeout
	}
	if cfg.LaptopStream == "" {
		cfg.LaptopStream = models.LaptopStream
	}
	if cfg.TabletStream == "" {
		cfg.TabletStream = models.TabletStream
	}
	if clk == nil {
		clk = clock.Real()
	}
	if messenger == nil {
		messenger = nopMessenger{}
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if display == nil {
		display = nopDisplay{}
	}

	seed := time.Now().UnixNano()
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}

	letters := make([]string, len(cfg.Letters))
	copy(letters, cfg.Letters)
	cfg.Letters = letters

	s := &Scheduler{
		cfg:       cfg,
		clock:     clk,
		messenger: messenger,
		emitter:   emitter,
		display:   display,
		metrics:   cfg.Metrics,
		rng:       rand.New(rand.NewSource(seed)),
		phases:    cfg.Phases.Clone(),
		initial:   cfg.InitialPhase,
		status:    models.SessionStatusStandby,
		current:   cfg.InitialPhase,
	}

	s.cueBase = s.phases[models.PhaseCue].Duration
	if cfg.CueBase > 0 {
		s.cueBase = cfg.CueBase
		if p, ok := s.phases[models.PhaseCue]; ok {
			p.Duration = cfg.CueBase
			s.phases[models.PhaseCue] = p
		}
	}

	s.runOrders = make([][]string, cfg.Runs)
	for i := range s.runOrders {
		s.runOrders[i] = s.MakeRunOrder()
	}

	s.publish(clk.Now())
	return s, nil
}

// MakeRunOrder returns the letter order of one run: a permutation of the
// configured letters when per-run randomization is on, the configured order
// otherwise.
func (s *Scheduler) MakeRunOrder() []string {
	order := make([]string, len(s.cfg.Letters))
	copy(order, s.cfg.Letters)
	if s.cfg.RandomizePerRun {
		s.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

// RunOrders returns a copy of the precomputed letter order of every run.
func (s *Scheduler) RunOrders() [][]string {
	out := make([][]string, len(s.runOrders))
	for i, order := range s.runOrders {
		out[i] = append([]string(nil), order...)
	}
	return out
}

// Start arms the first phase. It only succeeds from standby.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.status != models.SessionStatusStandby {
		return fmt.Errorf("start: %w (status %s)", ErrNotStandby, s.status)
	}
	if len(s.runOrders) == 0 || len(s.runOrders[0]) == 0 {
		return fmt.Errorf("start: %w", ErrNoTrials)
	}

	now := s.clock.Now()
	s.sessionStart = now
	s.markers = models.LaptopMarkers{
		SessionID:        s.cfg.Info.SessionID,
		SubjectID:        s.cfg.Info.SubjectID,
		SessionStartTime: clock.UnixMillis(now),
	}
	s.trial = models.Trial{Letter: s.runOrders[0][0]}
	s.markers.ResetTrial(s.trial)

	s.status = models.SessionStatusRunning
	s.current = s.initial
	s.accumulated = 0
	s.arm(s.initial, now)
	s.runEntry(ctx, s.initial, now)

	cmd := s.command(s.initial)
	startMS := s.markers.SessionStartTime
	cmd.SessionStartTime = &startMS
	s.send(ctx, cmd)
	s.publish(now)

	log.Info().
		Str("session_id", s.cfg.Info.SessionID).
		Str("subject_id", s.cfg.Info.SubjectID).
		Int("runs", len(s.runOrders)).
		Int("trials_per_run", len(s.cfg.Letters)).
		Str("phase", string(s.initial)).
		Msg("Session started")
	return nil
}

// Tick performs at most one phase transition and reports whether it did.
// Nothing happens unless the session is running and the deadline has passed.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if s.status != models.SessionStatusRunning {
		return false
	}
	now := s.clock.Now()
	if !now.After(s.deadline) {
		return false
	}

	lag := now.Sub(s.deadline)
	s.transition(ctx, s.phases[s.current].Next, now, lag)
	return true
}

// MoveTo sets the current phase and re-arms its deadline. It runs no entry
// actions: no markers, display change or tablet command, and a jump to
// sendMarkers does not flush or advance the trial. The next Tick continues
// from the named phase. Unknown names are logged and ignored.
func (s *Scheduler) MoveTo(ctx context.Context, name models.PhaseName) bool {
	if _, ok := s.phases[name]; !ok {
		log.Error().Str("phase", string(name)).Msg("Unknown phase, ignoring move")
		return false
	}

	now := s.clock.Now()
	log.Info().
		Str("from", string(s.current)).
		Str("to", string(name)).
		Str("status", string(s.status)).
		Msg("Manual phase change")
	if s.status == models.SessionStatusRunning {
		s.accumulated += now.Sub(s.phaseEntered)
		s.metrics.RecordTransition(ctx, string(name), 0)
	}
	s.current = name
	s.arm(name, now)
	s.publish(now)
	return true
}

// AdvanceTrial moves the cursor to the next trial, rolling over into the
// next run. It returns false once the last trial of the last run is done.
func (s *Scheduler) AdvanceTrial() bool {
	if s.finished {
		return false
	}

	switch {
	case s.trial.TrialIndex+1 < len(s.runOrders[s.trial.RunIndex]):
		s.trial.TrialIndex++
	case s.trial.RunIndex+1 < len(s.runOrders):
		s.trial.RunIndex++
		s.trial.TrialIndex = 0
		log.Info().Int("run_id", s.trial.RunID()).Strs("order", s.runOrders[s.trial.RunIndex]).Msg("Run started")
	default:
		s.finished = true
		return false
	}

	s.trial.Letter = s.runOrders[s.trial.RunIndex][s.trial.TrialIndex]
	s.markers.ResetTrial(s.trial)
	return true
}

// Stop ends the session from any phase. It is idempotent and never fails;
// the tablet notification is best effort.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.status == models.SessionStatusStopped {
		return
	}

	now := s.clock.Now()
	wasRunning := s.status == models.SessionStatusRunning
	s.status = models.SessionStatusStopped
	s.sessionEnd = now
	s.markers.SessionFinalTime = clock.UnixMillis(now)
	if wasRunning {
		s.accumulated += now.Sub(s.phaseEntered)
	}

	s.send(ctx, s.command(s.current))
	s.display.SetRest()
	if !s.sessionStart.IsZero() {
		s.emitSessionEnd(ctx, now)
	}
	s.publish(now)

	log.Info().
		Str("session_id", s.cfg.Info.SessionID).
		Bool("finished", s.finished).
		Float64("elapsed", s.ElapsedTime().Seconds()).
		Msg("Session stopped")
}

// Status returns the lifecycle state.
func (s *Scheduler) Status() models.SessionStatus { return s.status }

// CurrentPhase returns the phase the machine is in.
func (s *Scheduler) CurrentPhase() models.PhaseName { return s.current }

// CurrentTrial returns the trial cursor.
func (s *Scheduler) CurrentTrial() models.Trial { return s.trial }

// Finished reports whether every trial has completed.
func (s *Scheduler) Finished() bool { return s.finished }

// Deadline returns the time the current phase ends.
func (s *Scheduler) Deadline() time.Time { return s.deadline }

// PhaseDuration returns the configured duration of a phase in seconds.
func (s *Scheduler) PhaseDuration(name models.PhaseName) float64 { return s.phases[name].Duration }

// LaptopMarkers returns a copy of the in-progress laptop record.
func (s *Scheduler) LaptopMarkers() models.LaptopMarkers { return s.markers }

// ElapsedTime returns the time since Start, frozen once stopped.
func (s *Scheduler) ElapsedTime() time.Duration {
	if s.sessionStart.IsZero() {
		return 0
	}
	if s.status == models.SessionStatusStopped {
		return s.sessionEnd.Sub(s.sessionStart)
	}
	return s.clock.Now().Sub(s.sessionStart)
}

// AccumulatedTime returns the summed time spent in completed phases.
func (s *Scheduler) AccumulatedTime() time.Duration { return s.accumulated }

// Snapshot returns the last published status. Safe for concurrent use.
func (s *Scheduler) Snapshot() *Status { return s.snapshot.Load() }

func (s *Scheduler) transition(ctx context.Context, name models.PhaseName, now time.Time, lag time.Duration) {
	s.accumulated += now.Sub(s.phaseEntered)
	s.current = name
	s.arm(name, now)
	s.metrics.RecordTransition(ctx, string(name), lag)

	s.enter(ctx, name, now)
	s.publish(now)
}

// arm sets the deadline of the phase being entered, resampling the cue first.
func (s *Scheduler) arm(name models.PhaseName, now time.Time) {
	if name == models.PhaseCue && s.cfg.RandomizeCue {
		p := s.phases[name]
		p.Duration = s.cueBase + s.cfg.CueTMin + s.rng.Float64()*(s.cfg.CueTMax-s.cfg.CueTMin)
		s.phases[name] = p
	}
	s.phaseEntered = now
	s.deadline = now.Add(clock.Seconds(s.phases[name].Duration))
}

func (s *Scheduler) enter(ctx context.Context, name models.PhaseName, now time.Time) {
	if s.runEntry(ctx, name, now) {
		s.send(ctx, s.command(name))
	}
}

// runEntry runs the entry actions of a phase and reports whether the tablet
// should be told about it.
func (s *Scheduler) runEntry(ctx context.Context, name models.PhaseName, now time.Time) bool {
	ms := clock.UnixMillis(now)

	switch name {
	case models.PhaseStart:
		s.markers.TrialStartTime = ms
		s.display.SetRest()
	case models.PhasePrecue:
		s.markers.TrialPrecueTime = ms
	case models.PhaseCue:
		s.markers.TrialCueTime = ms
		s.display.SetActive(s.trial.Letter)
	case models.PhaseFadeOff:
		s.markers.TrialFadeOffTime = ms
		s.display.SetRest()
	case models.PhaseRest:
		s.markers.TrialRestTime = ms
	case models.PhaseTrialInfo:
		log.Debug().
			Int("run_id", s.trial.RunID()).
			Int("trial_id", s.trial.TrialID()).
			Str("letter", s.trial.Letter).
			Float64("cue_duration", s.phases[models.PhaseCue].Duration).
			Msg("Trial info")
	case models.PhaseSendMarkers:
		s.flushTrial(ctx, now)
		return false
	case models.PhaseFirstJump:
		return false
	}
	return true
}

// flushTrial forwards the tablet's trial document and the laptop record,
// then advances the cursor and stops after the last trial.
func (s *Scheduler) flushTrial(ctx context.Context, now time.Time) {
	ts := clock.UnixSeconds(now)
	runID, trialID := s.trial.RunID(), s.trial.TrialID()

	readCtx, cancel := context.WithTimeout(ctx, s.cfg.PullTimeout)
	doc, err := s.messenger.ReadTrial(readCtx, s.cfg.Info.SubjectID, s.cfg.Info.SessionID, runID, trialID)
	cancel()
	switch {
	case err != nil:
		log.Warn().Err(err).Int("run_id", runID).Int("trial_id", trialID).Msg("Tablet trial unavailable, skipping tablet marker")
	case doc == nil || len(doc.Raw) == 0:
		log.Warn().Int("run_id", runID).Int("trial_id", trialID).Msg("Tablet trial empty, skipping tablet marker")
	default:
		s.emit(ctx, models.Marker{Stream: s.cfg.TabletStream, Payload: doc.Raw, Timestamp: ts, RunID: runID, TrialID: trialID})
	}

	payload, err := json.Marshal(s.markers)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode laptop markers")
	} else {
		s.emit(ctx, models.Marker{Stream: s.cfg.LaptopStream, Payload: payload, Timestamp: ts, RunID: runID, TrialID: trialID})
	}

	if !s.AdvanceTrial() {
		log.Info().Int("runs", len(s.runOrders)).Msg("All trials completed")
		s.Stop(ctx)
	}
}

func (s *Scheduler) emitSessionEnd(ctx context.Context, now time.Time) {
	payload, err := json.Marshal(models.SessionEnd{
		SessionID:        s.cfg.Info.SessionID,
		SubjectID:        s.cfg.Info.SubjectID,
		SessionStartTime: s.markers.SessionStartTime,
		SessionFinalTime: s.markers.SessionFinalTime,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode session end")
		return
	}
	s.emit(ctx, models.Marker{Stream: s.cfg.LaptopStream, Payload: payload, Timestamp: clock.UnixSeconds(now)})
}

func (s *Scheduler) command(phase models.PhaseName) models.PhaseCommand {
	return models.PhaseCommand{
		Status:    s.status,
		SessionID: s.cfg.Info.SessionID,
		RunID:     s.trial.RunID(),
		SubjectID: s.cfg.Info.SubjectID,
		Trial: models.TrialPhaseInfo{
			TrialID:  s.trial.TrialID(),
			Phase:    phase,
			Letter:   s.trial.Letter,
			Duration: s.phases[phase].Duration,
		},
	}
}

func (s *Scheduler) send(ctx context.Context, cmd models.PhaseCommand) {
	if err := s.messenger.Send(ctx, cmd); err != nil {
		log.Warn().Err(err).Str("phase", string(cmd.Trial.Phase)).Msg("Tablet command not sent")
	}
}

func (s *Scheduler) emit(ctx context.Context, m models.Marker) {
	if err := s.emitter.Emit(ctx, m); err != nil {
		log.Warn().Err(err).Str("stream", m.Stream).Msg("Marker not emitted")
		return
	}
	s.metrics.RecordMarker(ctx, m.Stream)
}

func (s *Scheduler) publish(now time.Time) {
	st := &Status{
		Status:        s.status,
		Phase:         s.current,
		PhaseDuration: s.phases[s.current].Duration,
		Deadline:      s.deadline,
		SessionID:     s.cfg.Info.SessionID,
		SubjectID:     s.cfg.Info.SubjectID,
		RunID:         s.trial.RunID(),
		TrialID:       s.trial.TrialID(),
		Letter:        s.trial.Letter,
		Runs:          len(s.runOrders),
		TrialsPerRun:  len(s.cfg.Letters),
		Finished:      s.finished,
		Elapsed:       s.ElapsedTime().Seconds(),
		Accumulated:   s.accumulated.Seconds(),
		UpdatedAt:     now,
	}
	s.snapshot.Store(st)
}

type nopMessenger struct{}

func (nopMessenger) Send(context.Context, models.PhaseCommand) error { return nil }

func (nopMessenger) ReadTrial(context.Context, string, string, int, int) (*models.TabletTrial, error) {
	return nil, fmt.Errorf("no tablet configured")
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, models.Marker) error { return nil }

type nopDisplay struct{}

func (nopDisplay) SetRest()         {}
func (nopDisplay) SetActive(string) {}
