package analysis

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyJitterStats_OutlierRobust(t *testing.T) {
	s, err := LatencyJitterStats(NewSeries("d", Milliseconds, []float64{10, 10, 10, 100}))
	require.NoError(t, err)

	assert.Equal(t, 4, s.N)
	assert.Equal(t, Milliseconds, s.Unit)
	assert.Equal(t, 10.0, s.LatencyMedian)
	assert.Equal(t, []float64{0, 0, 0, 90}, s.Residuals)
	assert.Equal(t, 0.0, s.JitterMAD)
	assert.Equal(t, 0.0, s.JitterSigmaRobust)
	assert.InDelta(t, 45.0, s.JitterStd, 1e-9)
	assert.Greater(t, s.JitterStd, 10*s.JitterSigmaRobust)
	assert.Equal(t, 90.0, s.AbsResidualMax)
	assert.InDelta(t, 76.5, s.AbsResidualP95, 1e-9)
	assert.InDelta(t, 87.3, s.AbsResidualP99, 1e-9)
	assert.InDelta(t, 22.5, s.IQR, 1e-9)
	assert.Equal(t, 10.0, s.Min)
	assert.Equal(t, 100.0, s.Max)
}

func TestLatencyJitterStats_Gaussianish(t *testing.T) {
	s, err := LatencyJitterStats(NewSeries("d", Seconds, []float64{1, 2, 3, 4, 5}))
	require.NoError(t, err)

	assert.Equal(t, 3.0, s.LatencyMedian)
	assert.Equal(t, 1.0, s.JitterMAD)
	assert.InDelta(t, 1.4826, s.JitterSigmaRobust, 1e-12)
	assert.InDelta(t, math.Sqrt(2.5), s.JitterStd, 1e-12)
	assert.Equal(t, 2.0, s.IQR)
}

func TestLatencyJitterStats_Single(t *testing.T) {
	s, err := LatencyJitterStats(NewSeries("d", Milliseconds, []float64{-4}))
	require.NoError(t, err)
	assert.Equal(t, -4.0, s.LatencyMedian)
	assert.Zero(t, s.JitterStd)
	assert.Zero(t, s.AbsResidualMax)
}

func TestLatencyJitterStats_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   Series
	}{
		{"empty", NewSeries("d", Milliseconds, nil)},
		{"unknown unit", NewSeries("d", "min", []float64{1})},
		{"nan", NewSeries("d", Seconds, []float64{1, math.NaN()})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LatencyJitterStats(tt.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrAlignment))
			var ae *AlignmentError
			assert.True(t, errors.As(err, &ae))
		})
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{25, 1.75},
		{50, 2.5},
		{75, 3.25},
		{100, 4},
		{150, 4},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Percentile(sorted, tt.p), 1e-12, "p=%v", tt.p)
	}

	assert.True(t, math.IsNaN(Percentile(nil, 50)))
	assert.Equal(t, 7.0, Percentile([]float64{7}, 99))
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
	assert.True(t, math.IsNaN(Median(nil)))

	in := []float64{3, 1, 2}
	Median(in)
	assert.Equal(t, []float64{3, 1, 2}, in, "input is not reordered")
}
