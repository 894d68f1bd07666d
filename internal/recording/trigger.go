package recording

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/thebtf/hwrsync/internal/analysis"
)

// TriggerStream is the stream name trigger events are exposed under.
const TriggerStream = "triggers"

// TriggerEvent is one hardware trigger from the amplifier.
type TriggerEvent struct {
	TypeID int
	Name   string
	Sample int64
	Time   float64
}

// Triggers is a Reader over an amplifier trigger table. The table is CSV with
// a type_id and a sample column; leading "# start: <RFC3339>" comments give the
// recording start.
type Triggers struct {
	Start      time.Time
	SampleRate float64
	Events     []TriggerEvent
}

// OpenTriggers reads the trigger table at path.
func OpenTriggers(path string, sampleRate float64) (*Triggers, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := ReadTriggers(f, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadTriggers decodes a trigger table. Type ids are shifted so the smallest
// becomes 1 and sample indices are converted to seconds.
func ReadTriggers(r io.Reader, sampleRate float64) (*Triggers, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %g", sampleRate)
	}
	t := &Triggers{SampleRate: sampleRate}

	var body bytes.Buffer
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			if v, ok := strings.CutPrefix(strings.TrimSpace(trimmed[1:]), "start:"); ok {
				start, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
				if err != nil {
					return nil, fmt.Errorf("start time: %w", err)
				}
				t.Start = start
			}
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	rows, err := csv.NewReader(&body).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return t, nil
	}

	typeCol, sampleCol := -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "type_id", "typeid", "type":
			typeCol = i
		case "sample", "time", "index":
			sampleCol = i
		}
	}
	if typeCol < 0 || sampleCol < 0 {
		return nil, fmt.Errorf("trigger table needs type_id and sample columns, got %v", rows[0])
	}

	minID := 0
	for n, row := range rows[1:] {
		id, err := strconv.Atoi(strings.TrimSpace(row[typeCol]))
		if err != nil {
			return nil, fmt.Errorf("row %d: type_id: %w", n+2, err)
		}
		sample, err := strconv.ParseInt(strings.TrimSpace(row[sampleCol]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: sample: %w", n+2, err)
		}
		if n == 0 || id < minID {
			minID = id
		}
		t.Events = append(t.Events, TriggerEvent{TypeID: id, Sample: sample})
	}

	for i := range t.Events {
		e := &t.Events[i]
		e.TypeID = e.TypeID - minID + 1
		e.Name = "trigger_" + strconv.Itoa(e.TypeID)
		e.Time = float64(e.Sample) / sampleRate
	}
	sort.SliceStable(t.Events, func(i, j int) bool { return t.Events[i].Sample < t.Events[j].Sample })
	return t, nil
}

// RenameMarkers names trigger types. Unlisted types keep their names.
func (t *Triggers) RenameMarkers(names map[int]string) {
	for i := range t.Events {
		if name, ok := names[t.Events[i].TypeID]; ok {
			t.Events[i].Name = name
		}
	}
}

// Markers implements Reader.
func (t *Triggers) Markers() map[string][]float64 {
	out := make(map[string][]float64)
	for _, e := range t.Events {
		out[e.Name] = append(out[e.Name], e.Time)
	}
	return out
}

// Streams implements Reader with one record per event under TriggerStream.
func (t *Triggers) Streams() map[string][]Record {
	records := make([]Record, 0, len(t.Events))
	for _, e := range t.Events {
		records = append(records, Record{
			"type_id": float64(e.TypeID),
			"name":    e.Name,
			"sample":  float64(e.Sample),
			"time":    e.Time,
		})
	}
	return map[string][]Record{TriggerStream: records}
}

// Field implements Reader. Event times are stored in seconds.
func (t *Triggers) Field(stream, field string, unit analysis.Unit) (analysis.Series, error) {
	if stream != TriggerStream {
		return analysis.Series{}, fmt.Errorf("%s: %w", stream, ErrUnknownStream)
	}
	series := analysis.Series{Name: stream + "." + field, Unit: unit}
	for _, rec := range t.Streams()[TriggerStream] {
		v, ok := rec.Number(field)
		if !ok {
			return analysis.Series{}, fmt.Errorf("%s.%s: %w", stream, field, ErrUnknownField)
		}
		series.Values = append(series.Values, v)
	}
	return series, nil
}

// Times returns the event times of one trigger name in seconds.
func (t *Triggers) Times(name string) analysis.Series {
	series := analysis.Series{Name: name, Unit: analysis.Seconds}
	for _, e := range t.Events {
		if e.Name == name {
			series.Values = append(series.Values, e.Time)
		}
	}
	return series
}
