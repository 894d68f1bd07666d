package analysis

import (
	"math"
	"sort"
)

// RobustSigmaScale converts a MAD into a standard deviation estimate under
// Gaussian noise.
const RobustSigmaScale = 1.4826

// Stats summarizes a difference sequence d (device A minus device B, one
// value per trial) in the unit of d.
type Stats struct {
	N                 int       `json:"n"`
	Unit              Unit      `json:"unit"`
	LatencyMedian     float64   `json:"latency_median"`
	JitterMAD         float64   `json:"jitter_mad"`
	JitterSigmaRobust float64   `json:"jitter_sigma_robust"`
	JitterStd         float64   `json:"jitter_std"`
	AbsResidualP95    float64   `json:"abs_residual_p95"`
	AbsResidualP99    float64   `json:"abs_residual_p99"`
	AbsResidualMax    float64   `json:"abs_residual_max"`
	IQR               float64   `json:"iqr"`
	Min               float64   `json:"min"`
	Max               float64   `json:"max"`
	Residuals         []float64 `json:"residuals"`
}

// LatencyJitterStats computes the latency (median offset) and the jitter
// around it. The headline jitter is the MAD-based robust sigma; the sample
// standard deviation is reported alongside.
func LatencyJitterStats(d Series) (Stats, error) {
	if d.Len() == 0 {
		return Stats{}, alignErr("stats", "series %q is empty", d.Name)
	}
	if _, ok := d.Unit.perSecond(); !ok {
		return Stats{}, alignErr("stats", "series %q has unknown unit %q", d.Name, d.Unit)
	}
	for i, v := range d.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Stats{}, alignErr("stats", "series %q has non-finite value at %d", d.Name, i)
		}
	}

	sorted := sortedCopy(d.Values)
	median := Percentile(sorted, 50)

	residuals := make([]float64, len(d.Values))
	abs := make([]float64, len(d.Values))
	for i, v := range d.Values {
		residuals[i] = v - median
		abs[i] = math.Abs(residuals[i])
	}

	residMedian := Median(residuals)
	deviations := make([]float64, len(residuals))
	for i, r := range residuals {
		deviations[i] = math.Abs(r - residMedian)
	}
	mad := Median(deviations)

	sort.Float64s(abs)

	return Stats{
		N:                 len(d.Values),
		Unit:              d.Unit,
		LatencyMedian:     median,
		JitterMAD:         mad,
		JitterSigmaRobust: RobustSigmaScale * mad,
		JitterStd:         sampleStd(residuals),
		AbsResidualP95:    Percentile(abs, 95),
		AbsResidualP99:    Percentile(abs, 99),
		AbsResidualMax:    abs[len(abs)-1],
		IQR:               Percentile(sorted, 75) - Percentile(sorted, 25),
		Min:               sorted[0],
		Max:               sorted[len(sorted)-1],
		Residuals:         residuals,
	}, nil
}

// Median returns the median of values, or NaN when empty.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return Percentile(sortedCopy(values), 50)
}

// Percentile returns the p-th percentile (0-100) of an ascending slice using
// linear interpolation between closest ranks.
func Percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return math.NaN()
	case 1:
		return sorted[0]
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// sampleStd returns the n-1 standard deviation, 0 for fewer than two values.
func sampleStd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

func sortedCopy(values []float64) []float64 {
	out := append([]float64(nil), values...)
	sort.Float64s(out)
	return out
}
