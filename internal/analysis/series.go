// Package analysis correlates marker timestamps recorded by independently
// clocked devices and summarizes their latency and jitter.
//
// Every Series carries its unit. Operations that combine two series refuse
// mismatched units instead of guessing.
package analysis

// Unit is the time unit of a Series.
type Unit string

const (
	Seconds      Unit = "s"
	Milliseconds Unit = "ms"
)

// perSecond returns how many of u make one second.
func (u Unit) perSecond() (float64, bool) {
	switch u {
	case Seconds:
		return 1, true
	case Milliseconds:
		return 1e3, true
	}
	return 0, false
}

// TrialKey identifies the trial a value belongs to.
type TrialKey struct {
	Run   int `json:"run"`
	Trial int `json:"trial"`
}

// Series is an ordered sequence of timestamps or durations.
// Keys is either empty or parallel to Values.
type Series struct {
	Name   string
	Unit   Unit
	Values []float64
	Keys   []TrialKey
}

// NewSeries returns an untagged series.
func NewSeries(name string, unit Unit, values []float64) Series {
	return Series{Name: name, Unit: unit, Values: values}
}

// Len returns the number of values.
func (s Series) Len() int { return len(s.Values) }

// Keyed reports whether every value carries a trial key.
func (s Series) Keyed() bool { return len(s.Keys) > 0 && len(s.Keys) == len(s.Values) }

// Validate checks the unit and the key/value parity.
func (s Series) Validate() error {
	if _, ok := s.Unit.perSecond(); !ok {
		return alignErr("validate", "series %q has unknown unit %q", s.Name, s.Unit)
	}
	if len(s.Keys) != 0 && len(s.Keys) != len(s.Values) {
		return alignErr("validate", "series %q has %d keys for %d values", s.Name, len(s.Keys), len(s.Values))
	}
	return nil
}

// Convert returns a copy of s expressed in unit to.
func (s Series) Convert(to Unit) (Series, error) {
	from, ok := s.Unit.perSecond()
	if !ok {
		return Series{}, alignErr("convert", "series %q has unknown unit %q", s.Name, s.Unit)
	}
	target, ok := to.perSecond()
	if !ok {
		return Series{}, alignErr("convert", "unknown target unit %q", to)
	}

	out := s.clone()
	out.Unit = to
	if from == target {
		return out, nil
	}
	scale := target / from
	for i := range out.Values {
		out.Values[i] *= scale
	}
	return out, nil
}

// Head returns the first n values (and keys) of s.
func (s Series) Head(n int) Series {
	if n >= len(s.Values) {
		return s.clone()
	}
	out := Series{Name: s.Name, Unit: s.Unit, Values: append([]float64(nil), s.Values[:n]...)}
	if s.Keyed() {
		out.Keys = append([]TrialKey(nil), s.Keys[:n]...)
	}
	return out
}

// Runs splits a keyed series by run, preserving order within each run.
func (s Series) Runs() map[int]Series {
	out := make(map[int]Series)
	if !s.Keyed() {
		return out
	}
	for i, k := range s.Keys {
		r := out[k.Run]
		r.Name, r.Unit = s.Name, s.Unit
		r.Values = append(r.Values, s.Values[i])
		r.Keys = append(r.Keys, k)
		out[k.Run] = r
	}
	return out
}

func (s Series) clone() Series {
	out := Series{Name: s.Name, Unit: s.Unit, Values: append([]float64(nil), s.Values...)}
	if len(s.Keys) > 0 {
		out.Keys = append([]TrialKey(nil), s.Keys...)
	}
	return out
}
