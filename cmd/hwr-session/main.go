// Package main runs a live handwriting session: it drives the phase
// scheduler, commands the tablet and serves the worker API until the session
// finishes or is interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/hwrsync/internal/clock"
	"github.com/thebtf/hwrsync/internal/config"
	gormdb "github.com/thebtf/hwrsync/internal/db/gorm"
	"github.com/thebtf/hwrsync/internal/marker"
	"github.com/thebtf/hwrsync/internal/metrics"
	"github.com/thebtf/hwrsync/internal/protocol"
	"github.com/thebtf/hwrsync/internal/scheduler"
	"github.com/thebtf/hwrsync/internal/tablet"
	"github.com/thebtf/hwrsync/internal/worker"
	"github.com/thebtf/hwrsync/pkg/models"
)

// Version is set at build time via ldflags.
var Version = "dev"

// source identifies this host on the marker channel.
const source = "laptop"

func main() {
	subject := flag.String("subject", "", "Subject id (overrides HWR_SUBJECT_ID)")
	session := flag.String("session", "", "Session id (overrides HWR_SESSION_ID)")
	kind := flag.String("kind", "", "Session kind: baseline, training, executed, imagined")
	protocolPath := flag.String("protocol", "", "Phase protocol YAML (overrides HWR_PROTOCOL)")
	comments := flag.String("comments", "", "Free-form session comments")
	dryRun := flag.Bool("dry-run", false, "Log tablet commands instead of sending them over adb")
	noStore := flag.Bool("no-store", false, "Do not persist the session")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directories")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *subject != "" {
		cfg.SubjectID = *subject
	}
	if *session != "" {
		cfg.SessionID = *session
	}
	if *kind != "" {
		if err := cfg.ApplyKind(*kind); err != nil {
			log.Fatal().Err(err).Msg("Invalid session kind")
		}
	}
	if *protocolPath != "" {
		cfg.ProtocolPath = *protocolPath
	}

	proto, err := protocol.Load(cfg.ProtocolPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.ProtocolPath).Msg("Failed to load phase protocol")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Interrupted, stopping session")
		cancel()
	}()

	m := metrics.New()
	clk := clock.Real()

	var transport tablet.Transport = tablet.NewADB(tablet.Options{
		Path:     cfg.ADBPath,
		Serial:   cfg.ADBSerial,
		Action:   cfg.TabletAction,
		DocsRoot: cfg.TabletDocsRoot,
	})
	if *dryRun {
		transport = dryRunTransport{}
	}
	dispatcher := tablet.NewDispatcher(transport, tablet.DispatcherOptions{
		QueueSize:   cfg.QueueSize,
		HistorySize: cfg.HistorySize,
		SendTimeout: cfg.SendTimeout(),
		Clock:       clk,
		Metrics:     m,
	})

	broadcaster := marker.NewBroadcaster(source)
	sinks := marker.Fanout{broadcaster}
	if cfg.RedisURL != "" {
		pub := marker.NewRedisPublisher(cfg.RedisURL, source)
		defer pub.Close()
		sinks = append(sinks, pub)
		log.Info().Str("prefix", pub.Channel("")).Msg("Publishing markers to Redis")
	}

	// The recorder needs the stored session key, which needs the run orders
	// the scheduler draws; it is bound once both exist.
	var recorder marker.Emitter
	sinks = append(sinks, marker.EmitterFunc(func(ctx context.Context, mk models.Marker) error {
		if recorder == nil {
			return nil
		}
		return recorder.Emit(ctx, mk)
	}))
	queue := marker.NewQueue(sinks, cfg.QueueSize)

	info := models.SessionInfo{
		SessionID:   cfg.SessionID,
		SubjectID:   cfg.SubjectID,
		SessionName: cfg.SessionName,
		Date:        time.Now().Format("2006-01-02"),
		Comments:    *comments,
	}
	sched, err := scheduler.New(scheduler.Config{
		Info:            info,
		Phases:          proto.Phases,
		InitialPhase:    proto.Initial,
		Runs:            cfg.Runs,
		Letters:         cfg.Letters,
		RandomizePerRun: cfg.RandomizePerRun,
		Seed:            cfg.Seed,
		CueBase:         cfg.CueBaseDuration,
		CueTMin:         cfg.CueTMin,
		CueTMax:         cfg.CueTMax,
		RandomizeCue:    cfg.RandomizeCueDuration,
		LaptopStream:    cfg.LaptopStream,
		TabletStream:    cfg.TabletStream,
		PullTimeout:     cfg.PullTimeout(),
		Metrics:         m,
	}, clk, dispatcher, queue, broadcaster)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid session configuration")
	}

	var (
		sessions   *gormdb.SessionStore
		sessionKey string
	)
	if !*noStore {
		store, err := gormdb.NewStore(gormdb.Config{
			Driver:   cfg.DBDriver,
			Path:     cfg.DBPath,
			DSN:      cfg.PostgresDSN,
			LogLevel: logger.Silent,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open session store")
		}
		defer store.Close()

		sessions = gormdb.NewSessionStore(store)
		rec, err := sessions.CreateSession(ctx, info, cfg.SessionKind, sched.RunOrders())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to record session")
		}
		sessionKey = rec.Key

		markers := gormdb.NewMarkerStore(store)
		markers.SetStreams(cfg.LaptopStream, cfg.TabletStream)
		recorder = marker.NewRecorder(markers, sessionKey, source)
		log.Info().Str("key", sessionKey).Msg("Session recorded")
	}

	dispatcher.Start(ctx)
	defer dispatcher.Close()
	queue.Start(ctx)
	defer queue.Close()

	runner := scheduler.NewRunner(sched, cfg.TickInterval())

	opts := worker.Options{
		Version:     Version,
		Controller:  runner,
		Broadcaster: broadcaster,
		Tablet:      dispatcher,
		Metrics:     m,
		RunOrders:   sched.RunOrders(),
	}
	if sessions != nil {
		opts.Sessions = sessions
	}
	svc := worker.NewService(opts)

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go func() {
		addr := fmt.Sprintf("127.0.0.1:%d", cfg.WorkerPort)
		if err := svc.ListenAndServe(workerCtx, addr); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("Worker stopped")
		}
	}()

	log.Info().
		Str("subject", info.SubjectID).
		Str("session", info.SessionID).
		Str("kind", cfg.SessionKind).
		Int("runs", cfg.Runs).
		Str("letters", strings.Join(cfg.Letters, ",")).
		Msg("Starting session")

	if sessions != nil {
		if err := sessions.SetStatus(ctx, sessionKey, models.SessionStatusRunning); err != nil {
			log.Warn().Err(err).Msg("Failed to mark session running")
		}
	}

	runErr := runner.Run(ctx)

	// Deliver the stopped command and the last markers before exiting.
	dispatcher.Close()
	queue.Close()

	if sessions != nil {
		if err := sessions.SetStatus(context.WithoutCancel(ctx), sessionKey, models.SessionStatusStopped); err != nil {
			log.Warn().Err(err).Msg("Failed to mark session stopped")
		}
	}

	st := runner.Status()
	log.Info().
		Bool("finished", st.Finished).
		Float64("elapsed", st.Elapsed).
		Int64("dropped_commands", dispatcher.Dropped()).
		Int64("dropped_markers", queue.Dropped()).
		Msg("Session ended")
	fmt.Fprintln(os.Stderr, m.GetSnapshot().String())

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error().Err(runErr).Msg("Session aborted")
		os.Exit(1)
	}
}

// dryRunTransport logs commands and reports every trial as missing.
type dryRunTransport struct{}

func (dryRunTransport) Send(_ context.Context, cmd models.PhaseCommand) error {
	log.Info().
		Str("status", string(cmd.Status)).
		Int("run", cmd.RunID).
		Int("trial", cmd.Trial.TrialID).
		Str("phase", string(cmd.Trial.Phase)).
		Str("letter", cmd.Trial.Letter).
		Msg("Tablet command (dry run)")
	return nil
}

func (dryRunTransport) ReadTrial(_ context.Context, _, _ string, _, _ int) (*models.TabletTrial, error) {
	return nil, tablet.ErrTrialNotFound
}
