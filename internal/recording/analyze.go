package recording

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/thebtf/hwrsync/internal/analysis"
	"github.com/thebtf/hwrsync/pkg/models"
)

// DefaultTriggerName is the trigger type marking trial starts on the amplifier.
const DefaultTriggerName = "trial_start"

// AnalyzeOptions selects what Analyze compares.
type AnalyzeOptions struct {
	Source       string
	LaptopStream string
	TabletStream string
	ByTrial      bool

	// Triggers, when set, adds laptop and tablet versus amplifier comparisons.
	// TriggerName is the line both devices are compared against unless the
	// laptop and tablet drive lines of their own.
	Triggers          *Triggers
	TriggerName       string
	LaptopTriggerName string
	TabletTriggerName string
	// SessionTriggerName is the line pulsed once when the session starts.
	SessionTriggerName string

	// RecordingStart is the recording's own start time, compared to the
	// trigger table's start when both are known.
	RecordingStart time.Time
}

// Analyze builds the synchronization report of a recording. Comparisons that
// cannot be computed are listed in Report.Skipped rather than failing the run.
func Analyze(ctx context.Context, rd Reader, opts AnalyzeOptions) (*analysis.Report, error) {
	if opts.LaptopStream == "" {
		opts.LaptopStream = models.LaptopStream
	}
	if opts.TabletStream == "" {
		opts.TabletStream = models.TabletStream
	}
	if opts.TriggerName == "" {
		opts.TriggerName = DefaultTriggerName
	}
	cmpOpts := analysis.CompareOptions{ByTrial: opts.ByTrial}
	report := &analysis.Report{Source: opts.Source}

	skip := func(what string, err error) {
		report.Skipped = append(report.Skipped, fmt.Sprintf("%s: %v", what, err))
	}
	add := func(what string, c analysis.Comparison, err error) {
		if err != nil {
			skip(what, err)
			return
		}
		report.Comparisons = append(report.Comparisons, c)
	}
	field := func(stream, name string) (analysis.Series, error) {
		return rd.Field(stream, name, analysis.Milliseconds)
	}

	laptopStart, errL := field(opts.LaptopStream, "trialStartTime")
	tabletStart, errT := field(opts.TabletStream, "trialStartTime")
	if err := firstErr(errL, errT); err != nil {
		skip("trial start", err)
	} else {
		c, err := analysis.Compare("trial start laptop - tablet", laptopStart, tabletStart, cmpOpts)
		add("trial start", c, err)

		c, err = analysis.TrialStartIntervals("trial start intervals laptop - tablet", laptopStart, tabletStart, cmpOpts)
		add("trial start intervals", c, err)

		if laptopStart.Keyed() && tabletStart.Keyed() {
			var pairs []analysis.RunPair
			for _, p := range analysis.PairRuns(laptopStart, tabletStart) {
				pairs = append(pairs, analysis.RunPair{Run: p.Run, A: analysis.Diff(p.A), B: analysis.Diff(p.B)})
			}
			runs, err := analysis.AnalyzeRuns(ctx, "trial start intervals", pairs, cmpOpts)
			if err != nil {
				skip("per-run intervals", err)
			} else {
				report.Comparisons = append(report.Comparisons, runs...)
			}
		}
	}

	cueL, err1 := field(opts.LaptopStream, "trialCueTime")
	fadeL, err2 := field(opts.LaptopStream, "trialFadeOffTime")
	cueT, err3 := field(opts.TabletStream, "trialCueTime")
	fadeT, err4 := field(opts.TabletStream, "trialFadeOffTime")
	if err := firstErr(err1, err2, err3, err4); err != nil {
		skip("cue durations", err)
	} else {
		c, err := analysis.CueDurations("cue durations laptop - tablet", cueL, fadeL, cueT, fadeT, cmpOpts)
		add("cue durations", c, err)
	}

	sessL, err1 := field(opts.LaptopStream, "sessionStartTime")
	sessT, err2 := field(opts.TabletStream, "sessionStartTime")
	if err := firstErr(err1, err2); err != nil {
		skip("session start offset", err)
	} else {
		o, err := analysis.SessionStartOffset("session start laptop - tablet",
			sessL.Values[0], sessL.Unit, sessT.Values[0], sessT.Unit)
		if err != nil {
			skip("session start offset", err)
		} else {
			report.Offsets = append(report.Offsets, o)
		}
	}

	// Trial records carry sessionFinalTime as zero; only the session end
	// record has the real value.
	if finalL, err := field(opts.LaptopStream, "sessionFinalTime"); err == nil && err1 == nil {
		if final := slices.Max(finalL.Values); final > sessL.Values[0] {
			report.Offsets = append(report.Offsets, analysis.Offset{
				Name:  "session duration laptop",
				Value: final - sessL.Values[0],
				Unit:  analysis.Milliseconds,
			})
		}
	}

	if opts.Triggers != nil {
		trigLaptop := opts.Triggers.Times(orDefault(opts.LaptopTriggerName, opts.TriggerName))
		trigTablet := opts.Triggers.Times(orDefault(opts.TabletTriggerName, opts.TriggerName))
		positional := analysis.CompareOptions{}
		if errL == nil {
			c, err := analysis.TrialStartIntervals("trial start intervals laptop - trigger", laptopStart, trigLaptop, positional)
			add("laptop vs trigger", c, err)
		}
		if errT == nil {
			c, err := analysis.TrialStartIntervals("trial start intervals tablet - trigger", tabletStart, trigTablet, positional)
			add("tablet vs trigger", c, err)
		}
		if opts.LaptopTriggerName != "" && opts.TabletTriggerName != "" {
			c, err := analysis.TrialStartIntervals("trigger intervals laptop - tablet", trigLaptop, trigTablet, positional)
			add("trigger laptop vs trigger tablet", c, err)
		}
		if opts.SessionTriggerName != "" {
			sess := opts.Triggers.Times(opts.SessionTriggerName)
			if sess.Len() == 0 {
				skip("session trigger", fmt.Errorf("no %q events", opts.SessionTriggerName))
			} else if trigLaptop.Len() > 0 {
				o, err := analysis.SessionStartOffset("first trial trigger - session trigger",
					trigLaptop.Values[0], analysis.Seconds, sess.Values[0], analysis.Seconds)
				if err != nil {
					skip("session trigger", err)
				} else {
					report.Offsets = append(report.Offsets, o)
				}
			}
		}
		if !opts.RecordingStart.IsZero() && !opts.Triggers.Start.IsZero() {
			o, err := analysis.SessionStartOffset("recording start - trigger start",
				clockSeconds(opts.RecordingStart), analysis.Seconds,
				clockSeconds(opts.Triggers.Start), analysis.Seconds)
			if err != nil {
				skip("recording start offset", err)
			} else {
				report.Offsets = append(report.Offsets, o)
			}
		}
	}

	if len(report.Comparisons) == 0 && len(report.Offsets) == 0 {
		return report, fmt.Errorf("nothing to compare in %s", opts.Source)
	}
	return report, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func orDefault(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func clockSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
