package analysis

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// CompareOptions selects how two series are paired.
type CompareOptions struct {
	// ByTrial pairs values by trial key when both series are keyed.
	// Otherwise values are paired by position after truncation.
	ByTrial bool
}

// Comparison is the jitter summary of a - b.
type Comparison struct {
	Name    string `json:"name"`
	A       string `json:"a"`
	B       string `json:"b"`
	Run     int    `json:"run,omitempty"`
	Paired  int    `json:"paired"`
	Dropped int    `json:"dropped"`
	ByTrial bool   `json:"by_trial"`
	Stats   Stats  `json:"stats"`
}

// Compare converts b to a's unit, pairs the two series and computes the
// statistics of their difference.
func Compare(name string, a, b Series, opts CompareOptions) (Comparison, error) {
	if err := a.Validate(); err != nil {
		return Comparison{}, err
	}
	b, err := b.Convert(a.Unit)
	if err != nil {
		return Comparison{}, err
	}

	c := Comparison{Name: name, A: a.Name, B: b.Name}
	total := a.Len() + b.Len()

	var pa, pb Series
	if opts.ByTrial && a.Keyed() && b.Keyed() {
		pa, pb, err = AlignByTrial(a, b)
		if err != nil {
			return Comparison{}, err
		}
		c.ByTrial = true
	} else {
		truncated, _ := Truncate(a, b)
		pa, pb = truncated[0], truncated[1]
	}
	c.Paired = pa.Len()
	c.Dropped = total - 2*c.Paired

	d, err := PairwiseDifference(pa, pb)
	if err != nil {
		return Comparison{}, fmt.Errorf("compare %s: %w", name, err)
	}
	c.Stats, err = LatencyJitterStats(d)
	if err != nil {
		return Comparison{}, fmt.Errorf("compare %s: %w", name, err)
	}
	return c, nil
}

// RunPair is one run's pair of series.
type RunPair struct {
	Run  int
	A, B Series
}

// AnalyzeRuns compares every pair in parallel. Results keep the input order.
func AnalyzeRuns(ctx context.Context, name string, pairs []RunPair, opts CompareOptions) ([]Comparison, error) {
	results := make([]Comparison, len(pairs))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range pairs {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := Compare(fmt.Sprintf("%s run %d", name, p.Run), p.A, p.B, opts)
			if err != nil {
				return fmt.Errorf("run %d: %w", p.Run, err)
			}
			c.Run = p.Run
			results[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// PairRuns splits two keyed series by run and returns the runs present in both,
// ascending.
func PairRuns(a, b Series) []RunPair {
	ra, rb := a.Runs(), b.Runs()
	var pairs []RunPair
	for run, sa := range ra {
		if sb, ok := rb[run]; ok {
			pairs = append(pairs, RunPair{Run: run, A: sa, B: sb})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Run < pairs[j].Run })
	return pairs
}
