// Package recording loads marker recordings for offline analysis.
package recording

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/thebtf/hwrsync/internal/analysis"
	"github.com/thebtf/hwrsync/pkg/models"
)

var (
	// ErrUnknownStream is returned when a stream is not in the recording.
	ErrUnknownStream = errors.New("unknown stream")
	// ErrUnknownField is returned when no record of a stream has the field.
	ErrUnknownField = errors.New("unknown field")
)

// Record is one decoded JSON marker payload.
type Record map[string]interface{}

// Number returns r[field] as a float64.
func (r Record) Number(field string) (float64, bool) {
	switch v := r[field].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// Reader exposes a recording's markers.
type Reader interface {
	// Markers maps plain marker names to their ordered timestamps in seconds.
	Markers() map[string][]float64
	// Streams maps stream names to their ordered JSON records.
	Streams() map[string][]Record
	// Field returns the numeric field of every record of a stream.
	// The caller names the unit the field is expressed in.
	Field(stream, field string, unit analysis.Unit) (analysis.Series, error)
}

// Sample is one marker of a string stream.
type Sample struct {
	Timestamp float64
	Payload   []byte
	Record    Record
	Key       analysis.TrialKey
	Keyed     bool
}

// MarkerSet is an in-memory Reader over string marker streams.
type MarkerSet struct {
	streams map[string][]Sample
	order   []string
}

// NewMarkerSet returns an empty set.
func NewMarkerSet() *MarkerSet {
	return &MarkerSet{streams: make(map[string][]Sample)}
}

// FromMarkers builds a set from emitted markers. Non-zero RunID and TrialID
// become the trial key; otherwise keys come from the payload.
func FromMarkers(markers []models.Marker) *MarkerSet {
	set := NewMarkerSet()
	for _, m := range markers {
		set.Add(m.Stream, m.Timestamp, m.Payload)
		if m.RunID > 0 && m.TrialID > 0 {
			samples := set.streams[m.Stream]
			last := &samples[len(samples)-1]
			last.Key = analysis.TrialKey{Run: m.RunID, Trial: m.TrialID}
			last.Keyed = true
		}
	}
	set.assignKeys()
	return set
}

// Add appends a marker to stream. JSON object payloads are decoded.
func (s *MarkerSet) Add(stream string, timestamp float64, payload []byte) {
	if _, ok := s.streams[stream]; !ok {
		s.order = append(s.order, stream)
	}
	sample := Sample{Timestamp: timestamp, Payload: append([]byte(nil), payload...)}
	if rec, ok := DecodePayload(payload); ok {
		sample.Record = rec
	}
	s.streams[stream] = append(s.streams[stream], sample)
}

// StreamNames returns stream names in first-seen order.
func (s *MarkerSet) StreamNames() []string {
	return append([]string(nil), s.order...)
}

// Samples returns the raw samples of a stream.
func (s *MarkerSet) Samples(stream string) []Sample {
	return s.streams[stream]
}

// Markers implements Reader.
func (s *MarkerSet) Markers() map[string][]float64 {
	out := make(map[string][]float64)
	for _, name := range s.order {
		for _, sample := range s.streams[name] {
			if sample.Record != nil {
				continue
			}
			id := string(bytes.TrimSpace(sample.Payload))
			out[id] = append(out[id], sample.Timestamp)
		}
	}
	for id := range out {
		sort.Float64s(out[id])
	}
	return out
}

// Streams implements Reader.
func (s *MarkerSet) Streams() map[string][]Record {
	out := make(map[string][]Record)
	for _, name := range s.order {
		for _, sample := range s.streams[name] {
			if sample.Record != nil {
				out[name] = append(out[name], sample.Record)
			}
		}
	}
	return out
}

// Field implements Reader. Records without the field are skipped.
func (s *MarkerSet) Field(stream, field string, unit analysis.Unit) (analysis.Series, error) {
	samples, ok := s.streams[stream]
	if !ok {
		return analysis.Series{}, fmt.Errorf("%s: %w", stream, ErrUnknownStream)
	}

	series := analysis.Series{Name: stream + "." + field, Unit: unit}
	keyed := true
	for _, sample := range samples {
		if sample.Record == nil {
			continue
		}
		v, ok := sample.Record.Number(field)
		if !ok {
			continue
		}
		series.Values = append(series.Values, v)
		series.Keys = append(series.Keys, sample.Key)
		keyed = keyed && sample.Keyed
	}
	if series.Len() == 0 {
		return analysis.Series{}, fmt.Errorf("%s.%s: %w", stream, field, ErrUnknownField)
	}
	if !keyed {
		series.Keys = nil
	}
	return series, nil
}

// Timestamps returns the marker channel timestamps of a stream in seconds.
func (s *MarkerSet) Timestamps(stream string) (analysis.Series, error) {
	samples, ok := s.streams[stream]
	if !ok {
		return analysis.Series{}, fmt.Errorf("%s: %w", stream, ErrUnknownStream)
	}
	series := analysis.Series{Name: stream + ".timestamp", Unit: analysis.Seconds}
	keyed := len(samples) > 0
	for _, sample := range samples {
		series.Values = append(series.Values, sample.Timestamp)
		series.Keys = append(series.Keys, sample.Key)
		keyed = keyed && sample.Keyed
	}
	if !keyed {
		series.Keys = nil
	}
	return series, nil
}

// assignKeys derives trial keys for samples that have none. runID/trialID
// fields are used when present; with trialID alone the run advances whenever
// the trial id fails to increase.
func (s *MarkerSet) assignKeys() {
	for _, name := range s.order {
		samples := s.streams[name]
		run, prevTrial := 1, 0
		for i := range samples {
			sample := &samples[i]
			if sample.Keyed {
				run, prevTrial = sample.Key.Run, sample.Key.Trial
				continue
			}
			if sample.Record == nil {
				continue
			}
			trial, ok := sample.Record.Number("trialID")
			if !ok {
				continue
			}
			if r, ok := sample.Record.Number("runID"); ok {
				run = int(r)
			} else if int(trial) <= prevTrial {
				run++
			}
			prevTrial = int(trial)
			sample.Key = analysis.TrialKey{Run: run, Trial: int(trial)}
			sample.Keyed = true
		}
	}
}

// DecodePayload parses a marker payload as a JSON object. It tolerates bytes
// literal wrappers (b'...'), single-quote wrappers and JSON-encoded strings.
func DecodePayload(payload []byte) (Record, bool) {
	p := bytes.TrimSpace(payload)
	if bytes.HasPrefix(p, []byte("b'")) && bytes.HasSuffix(p, []byte("'")) && len(p) >= 3 {
		p = p[2 : len(p)-1]
	} else if len(p) >= 2 && p[0] == '\'' && p[len(p)-1] == '\'' {
		p = p[1 : len(p)-1]
	}

	var rec Record
	if len(p) > 0 && p[0] == '{' {
		if err := json.Unmarshal(p, &rec); err == nil {
			return rec, true
		}
		return nil, false
	}

	if len(p) > 0 && p[0] == '"' {
		var inner string
		if err := json.Unmarshal(p, &inner); err == nil {
			return DecodePayload([]byte(inner))
		}
	}
	return nil, false
}
