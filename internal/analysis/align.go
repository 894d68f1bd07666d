package analysis

import (
	"math"

	"github.com/rs/zerolog/log"
)

// Truncate cuts every series to the shortest length, dropping trailing values
// only. It returns the truncated copies and the common length. Any drop is
// logged at warn level.
func Truncate(series ...Series) ([]Series, int) {
	if len(series) == 0 {
		return nil, 0
	}

	n := series[0].Len()
	for _, s := range series[1:] {
		if s.Len() < n {
			n = s.Len()
		}
	}

	out := make([]Series, len(series))
	for i, s := range series {
		if dropped := s.Len() - n; dropped > 0 {
			log.Warn().
				Str("series", s.Name).
				Int("length", s.Len()).
				Int("truncated_to", n).
				Int("dropped", dropped).
				Msg("Truncating series to common length")
		}
		out[i] = s.Head(n)
	}
	return out, n
}

// AlignByTrial pairs the values of a and b that share a trial key, in a's
// order. Keys present in only one series are logged and skipped; repeated
// keys use their first occurrence.
func AlignByTrial(a, b Series) (Series, Series, error) {
	if !a.Keyed() || !b.Keyed() {
		return Series{}, Series{}, alignErr("align", "series %q and %q must both carry trial keys", a.Name, b.Name)
	}

	index := make(map[TrialKey]int, len(b.Keys))
	for i, k := range b.Keys {
		if _, dup := index[k]; !dup {
			index[k] = i
		}
	}

	outA := Series{Name: a.Name, Unit: a.Unit}
	outB := Series{Name: b.Name, Unit: b.Unit}
	seen := make(map[TrialKey]bool, len(a.Keys))
	var missing int
	for i, k := range a.Keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		j, ok := index[k]
		if !ok {
			missing++
			continue
		}
		outA.Values = append(outA.Values, a.Values[i])
		outA.Keys = append(outA.Keys, k)
		outB.Values = append(outB.Values, b.Values[j])
		outB.Keys = append(outB.Keys, k)
	}

	extra := len(index) - outB.Len()
	if missing > 0 || extra > 0 {
		log.Warn().
			Str("a", a.Name).
			Str("b", b.Name).
			Int("paired", outA.Len()).
			Int("only_in_a", missing).
			Int("only_in_b", extra).
			Msg("Unpaired trials skipped")
	}
	return outA, outB, nil
}

// PairwiseDifference returns a - b elementwise. Units and lengths must match.
func PairwiseDifference(a, b Series) (Series, error) {
	if err := sameShape("difference", a, b); err != nil {
		return Series{}, err
	}

	out := Series{Name: a.Name + " - " + b.Name, Unit: a.Unit, Values: make([]float64, a.Len())}
	for i := range a.Values {
		out.Values[i] = a.Values[i] - b.Values[i]
	}
	if a.Keyed() {
		out.Keys = append(out.Keys, a.Keys...)
	}
	return out, nil
}

// Diff returns consecutive differences of s, one shorter than s. Each value
// is keyed by the later element.
func Diff(s Series) Series {
	out := Series{Name: "diff(" + s.Name + ")", Unit: s.Unit}
	for i := 1; i < len(s.Values); i++ {
		out.Values = append(out.Values, s.Values[i]-s.Values[i-1])
	}
	if s.Keyed() && len(s.Keys) > 1 {
		out.Keys = append([]TrialKey(nil), s.Keys[1:]...)
	}
	return out
}

// Durations returns |end - start| elementwise.
func Durations(start, end Series) (Series, error) {
	if err := sameShape("durations", start, end); err != nil {
		return Series{}, err
	}

	out := Series{Name: end.Name + " - " + start.Name, Unit: start.Unit, Values: make([]float64, start.Len())}
	for i := range start.Values {
		out.Values[i] = math.Abs(end.Values[i] - start.Values[i])
	}
	if start.Keyed() {
		out.Keys = append(out.Keys, start.Keys...)
	}
	return out, nil
}

func sameShape(op string, a, b Series) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if a.Unit != b.Unit {
		return alignErr(op, "unit mismatch: %q is %s, %q is %s", a.Name, a.Unit, b.Name, b.Unit)
	}
	if a.Len() != b.Len() {
		return alignErr(op, "length mismatch: %q has %d values, %q has %d", a.Name, a.Len(), b.Name, b.Len())
	}
	return nil
}
