// Package main prints the synchronization report of recorded sessions.
//
//	hwr-analyze [flags] recording.xdf...
//	hwr-analyze --session-key KEY
//	hwr-analyze --watch DIR
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/hwrsync/internal/analysis"
	"github.com/thebtf/hwrsync/internal/config"
	gormdb "github.com/thebtf/hwrsync/internal/db/gorm"
	"github.com/thebtf/hwrsync/internal/recording"
	"github.com/thebtf/hwrsync/internal/watcher"
)

type options struct {
	triggers     string
	sampleRate   float64
	triggerNames map[int]string
	laptopLine   string
	tabletLine   string
	sessionLine  string
	byTrial      bool
	syncClocks   bool
	asJSON       bool
	laptopStream string
	tabletStream string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.Default()
	}

	triggers := flag.String("triggers", "", "Amplifier trigger table (CSV)")
	sampleRate := flag.Float64("sample-rate", cfg.TriggerSampleRate, "Amplifier sampling rate in Hz")
	names := flag.String("trigger-names", "1="+recording.DefaultTriggerName, "Trigger type names, id=name,...")
	laptopLine := flag.String("laptop-trigger", "", "Trigger name driven by the laptop")
	tabletLine := flag.String("tablet-trigger", "", "Trigger name driven by the tablet")
	sessionLine := flag.String("session-trigger", "", "Trigger name pulsed on session start")
	byTrial := flag.Bool("by-trial", true, "Align series by run/trial id instead of position")
	syncClocks := flag.Bool("sync-clocks", false, "Apply XDF clock offsets")
	sessionKey := flag.String("session-key", "", "Analyze a stored session instead of a file")
	watchDir := flag.String("watch", "", "Analyze every recording that appears in this directory")
	asJSON := flag.Bool("json", false, "Print the report as JSON")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	triggerNames, err := parseTriggerNames(*names)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid --trigger-names")
	}
	opts := options{
		triggers:     *triggers,
		sampleRate:   *sampleRate,
		triggerNames: triggerNames,
		laptopLine:   *laptopLine,
		tabletLine:   *tabletLine,
		sessionLine:  *sessionLine,
		byTrial:      *byTrial,
		syncClocks:   *syncClocks,
		asJSON:       *asJSON,
		laptopStream: cfg.LaptopStream,
		tabletStream: cfg.TabletStream,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	switch {
	case *sessionKey != "":
		if err := analyzeStored(ctx, cfg, *sessionKey, opts); err != nil {
			log.Fatal().Err(err).Str("key", *sessionKey).Msg("Analysis failed")
		}
	case *watchDir != "":
		w, err := watcher.New(*watchDir, []string{".xdf"}, func(path string) {
			if err := analyzeFile(ctx, path, opts); err != nil {
				log.Error().Err(err).Str("path", path).Msg("Analysis failed")
			}
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create watcher")
		}
		if err := w.Start(); err != nil {
			log.Fatal().Err(err).Str("dir", *watchDir).Msg("Failed to watch directory")
		}
		<-ctx.Done()
		_ = w.Stop()
	case flag.NArg() > 0:
		failed := false
		for _, path := range flag.Args() {
			if err := analyzeFile(ctx, path, opts); err != nil {
				log.Error().Err(err).Str("path", path).Msg("Analysis failed")
				failed = true
			}
		}
		if failed {
			os.Exit(1)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func analyzeFile(ctx context.Context, path string, opts options) error {
	x, err := recording.OpenXDF(path, recording.XDFOptions{SyncClocks: opts.syncClocks})
	if err != nil {
		return err
	}
	aopts := recording.AnalyzeOptions{
		Source:         path,
		LaptopStream:   opts.laptopStream,
		TabletStream:   opts.tabletStream,
		ByTrial:        opts.byTrial,
		RecordingStart: x.Datetime,
	}
	if opts.triggers != "" {
		trig, err := recording.OpenTriggers(opts.triggers, opts.sampleRate)
		if err != nil {
			return err
		}
		trig.RenameMarkers(opts.triggerNames)
		aopts.Triggers = trig
		aopts.LaptopTriggerName = opts.laptopLine
		aopts.TabletTriggerName = opts.tabletLine
		aopts.SessionTriggerName = opts.sessionLine
	}
	return analyze(ctx, x, aopts, opts.asJSON)
}

func analyzeStored(ctx context.Context, cfg *config.Config, key string, opts options) error {
	store, err := gormdb.NewStore(gormdb.Config{
		Driver:   cfg.DBDriver,
		Path:     cfg.DBPath,
		DSN:      cfg.PostgresDSN,
		LogLevel: logger.Silent,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := gormdb.NewSessionStore(store).GetSession(ctx, key)
	if err != nil {
		return err
	}
	markers, err := gormdb.NewMarkerStore(store).ListMarkers(ctx, key)
	if err != nil {
		return err
	}
	log.Info().Str("subject", sess.SubjectID).Str("session", sess.SessionID).Int("markers", len(markers)).Msg("Loaded stored session")

	return analyze(ctx, recording.FromMarkers(markers), recording.AnalyzeOptions{
		Source:       sess.SubjectID + "/" + sess.SessionID + " (" + key + ")",
		LaptopStream: opts.laptopStream,
		TabletStream: opts.tabletStream,
		ByTrial:      opts.byTrial,
	}, opts.asJSON)
}

func analyze(ctx context.Context, rd recording.Reader, aopts recording.AnalyzeOptions, asJSON bool) error {
	report, err := recording.Analyze(ctx, rd, aopts)
	if err != nil {
		return err
	}
	for _, s := range report.Skipped {
		log.Warn().Str("source", aopts.Source).Msg("Skipped " + s)
	}
	return printReport(report, asJSON)
}

func printReport(report *analysis.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return report.Write(os.Stdout)
}
