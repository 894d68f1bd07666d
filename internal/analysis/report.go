package analysis

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// Offset is a single signed time difference, such as the gap between two
// devices' session start stamps.
type Offset struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`
}

// SessionStartOffset returns a - b in milliseconds.
func SessionStartOffset(name string, a float64, ua Unit, b float64, ub Unit) (Offset, error) {
	sa, err := NewSeries("a", ua, []float64{a}).Convert(Milliseconds)
	if err != nil {
		return Offset{}, err
	}
	sb, err := NewSeries("b", ub, []float64{b}).Convert(Milliseconds)
	if err != nil {
		return Offset{}, err
	}
	return Offset{Name: name, Value: sa.Values[0] - sb.Values[0], Unit: Milliseconds}, nil
}

// TrialStartIntervals compares the trial-to-trial intervals seen by two devices.
// Interval comparison cancels the fixed clock offset between them.
func TrialStartIntervals(name string, a, b Series, opts CompareOptions) (Comparison, error) {
	return Compare(name, Diff(a), Diff(b), opts)
}

// CueDurations compares the cue-to-fadeoff durations measured by two devices.
func CueDurations(name string, cueA, fadeA, cueB, fadeB Series, opts CompareOptions) (Comparison, error) {
	da, err := Durations(cueA, fadeA)
	if err != nil {
		return Comparison{}, fmt.Errorf("cue durations %s: %w", name, err)
	}
	db, err := Durations(cueB, fadeB)
	if err != nil {
		return Comparison{}, fmt.Errorf("cue durations %s: %w", name, err)
	}
	return Compare(name, da, db, opts)
}

// Report is the synchronization summary of one recording.
type Report struct {
	Source      string       `json:"source"`
	Offsets     []Offset     `json:"offsets,omitempty"`
	Comparisons []Comparison `json:"comparisons"`
	Skipped     []string     `json:"skipped,omitempty"`
}

// Write renders the report as text tables.
func (r *Report) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Recording: %s\n\n", r.Source); err != nil {
		return err
	}

	if len(r.Offsets) > 0 {
		offsets := tablewriter.NewWriter(w)
		offsets.SetHeader([]string{"offset", "value", "unit"})
		offsets.SetBorder(false)
		for _, o := range r.Offsets {
			offsets.Append([]string{o.Name, formatFloat(o.Value), string(o.Unit)})
		}
		offsets.Render()
		fmt.Fprintln(w)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"comparison", "n", "dropped", "latency", "sigma_robust", "std", "p95", "p99", "max", "iqr", "unit"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, c := range r.Comparisons {
		s := c.Stats
		table.Append([]string{
			c.Name,
			strconv.Itoa(s.N),
			strconv.Itoa(c.Dropped),
			formatFloat(s.LatencyMedian),
			formatFloat(s.JitterSigmaRobust),
			formatFloat(s.JitterStd),
			formatFloat(s.AbsResidualP95),
			formatFloat(s.AbsResidualP99),
			formatFloat(s.AbsResidualMax),
			formatFloat(s.IQR),
			string(s.Unit),
		})
	}
	table.Render()

	for _, msg := range r.Skipped {
		if _, err := fmt.Fprintf(w, "skipped: %s\n", msg); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
