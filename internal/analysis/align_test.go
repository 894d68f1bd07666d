package analysis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func keys(run int, trials ...int) []TrialKey {
	out := make([]TrialKey, len(trials))
	for i, tr := range trials {
		out[i] = TrialKey{Run: run, Trial: tr}
	}
	return out
}

func TestTruncate_DropsTrailingOnly(t *testing.T) {
	a := NewSeries("laptop", Milliseconds, seq(12, 100, 10))
	b := NewSeries("tablet", Milliseconds, seq(11, 5, 10))

	out, n := Truncate(a, b)
	require.Len(t, out, 2)
	assert.Equal(t, 11, n)
	assert.Equal(t, a.Values[:11], out[0].Values)
	assert.Equal(t, b.Values, out[1].Values)

	// Inputs are untouched.
	assert.Len(t, a.Values, 12)
}

func TestTruncate_KeepsKeys(t *testing.T) {
	a := Series{Name: "a", Unit: Seconds, Values: []float64{1, 2, 3}, Keys: keys(1, 1, 2, 3)}
	b := NewSeries("b", Seconds, []float64{1, 2})

	out, _ := Truncate(a, b)
	assert.Equal(t, keys(1, 1, 2), out[0].Keys)
}

func TestTruncate_Empty(t *testing.T) {
	out, n := Truncate()
	assert.Nil(t, out)
	assert.Zero(t, n)
}

func TestAlignByTrial(t *testing.T) {
	a := Series{Name: "a", Unit: Milliseconds, Values: []float64{10, 20, 30, 40}, Keys: keys(1, 1, 2, 3, 4)}
	// b is missing trial 2 and has an extra trial 5, out of order.
	b := Series{Name: "b", Unit: Milliseconds, Values: []float64{4, 1, 3, 5}, Keys: keys(1, 4, 1, 3, 5)}

	pa, pb, err := AlignByTrial(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 30, 40}, pa.Values)
	assert.Equal(t, []float64{1, 3, 4}, pb.Values)
	assert.Equal(t, keys(1, 1, 3, 4), pa.Keys)
	assert.Equal(t, pa.Keys, pb.Keys)
}

func TestAlignByTrial_RequiresKeys(t *testing.T) {
	_, _, err := AlignByTrial(NewSeries("a", Seconds, []float64{1}), NewSeries("b", Seconds, []float64{1}))
	assert.ErrorIs(t, err, ErrAlignment)
}

func TestPairwiseDifference(t *testing.T) {
	a := NewSeries("laptop", Milliseconds, []float64{110, 220, 330})
	b := NewSeries("tablet", Milliseconds, []float64{100, 200, 300})

	d, err := PairwiseDifference(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30}, d.Values)
	assert.Equal(t, Milliseconds, d.Unit)
	assert.Equal(t, "laptop - tablet", d.Name)
}

func TestPairwiseDifference_Errors(t *testing.T) {
	ms := NewSeries("ms", Milliseconds, []float64{1, 2})
	s := NewSeries("s", Seconds, []float64{1, 2})
	short := NewSeries("short", Milliseconds, []float64{1})
	badKeys := Series{Name: "bad", Unit: Milliseconds, Values: []float64{1, 2}, Keys: keys(1, 1)}

	tests := []struct {
		name string
		a, b Series
		msg  string
	}{
		{"unit mismatch", ms, s, "unit mismatch"},
		{"length mismatch", ms, short, "length mismatch"},
		{"bad keys", badKeys, ms, "keys"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PairwiseDifference(tt.a, tt.b)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrAlignment))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestDiff(t *testing.T) {
	s := Series{Name: "start", Unit: Seconds, Values: []float64{0, 10, 21, 33}, Keys: keys(1, 1, 2, 3, 4)}
	d := Diff(s)
	assert.Equal(t, []float64{10, 11, 12}, d.Values)
	assert.Equal(t, keys(1, 2, 3, 4), d.Keys)

	assert.Zero(t, Diff(NewSeries("one", Seconds, []float64{1})).Len())
}

func TestDurations(t *testing.T) {
	cue := NewSeries("cue", Milliseconds, []float64{1000, 2000})
	fade := NewSeries("fadeoff", Milliseconds, []float64{7500, 8100})

	d, err := Durations(cue, fade)
	require.NoError(t, err)
	assert.Equal(t, []float64{6500, 6100}, d.Values)

	// Order of arguments does not change the sign.
	d2, err := Durations(fade, cue)
	require.NoError(t, err)
	assert.Equal(t, d.Values, d2.Values)
}

func TestConvert(t *testing.T) {
	s := NewSeries("trig", Seconds, []float64{1.5, 2})
	ms, err := s.Convert(Milliseconds)
	require.NoError(t, err)
	assert.Equal(t, []float64{1500, 2000}, ms.Values)
	assert.Equal(t, []float64{1.5, 2}, s.Values, "source unchanged")

	back, err := ms.Convert(Seconds)
	require.NoError(t, err)
	assert.Equal(t, s.Values, back.Values)

	_, err = s.Convert("h")
	assert.ErrorIs(t, err, ErrAlignment)
}

func TestRuns(t *testing.T) {
	s := Series{Name: "x", Unit: Seconds, Values: []float64{1, 2, 3, 4}, Keys: []TrialKey{{1, 1}, {1, 2}, {2, 1}, {2, 2}}}
	runs := s.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, []float64{3, 4}, runs[2].Values)
	assert.Empty(t, NewSeries("y", Seconds, []float64{1}).Runs())
}
