// Package metrics tracks session timing statistics and mirrors them to OpenTelemetry.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName  = "github.com/thebtf/hwrsync"
	recentSize = 1000
)

// Metrics tracks scheduler and transport statistics.
// Instruments come from the global meter provider, which is a noop unless
// the host installs an SDK.
type Metrics struct {
	startTime   time.Time
	recentLags  []time.Duration
	lagsMu      sync.Mutex
	transitions atomic.Int64
	dropped     atomic.Int64
	markers     atomic.Int64
	sendErrors  atomic.Int64
	totalLag    atomic.Int64 // microseconds

	lagHist     metric.Float64Histogram
	transCount  metric.Int64Counter
	dropCount   metric.Int64Counter
	markerCount metric.Int64Counter
}

// New creates a metrics tracker bound to the global meter provider.
func New() *Metrics {
	m := &Metrics{
		startTime:  time.Now(),
		recentLags: make([]time.Duration, 0, recentSize),
	}

	meter := otel.Meter(meterName)
	// Instrument creation only fails on invalid names; the noop fallbacks keep
	// recording safe either way.
	m.lagHist, _ = meter.Float64Histogram("hwr.phase.entry_lag",
		metric.WithDescription("Delay between a phase deadline and its entry"),
		metric.WithUnit("s"))
	m.transCount, _ = meter.Int64Counter("hwr.phase.transitions",
		metric.WithDescription("Phase transitions performed by the scheduler"))
	m.dropCount, _ = meter.Int64Counter("hwr.tablet.dropped_commands",
		metric.WithDescription("Tablet commands dropped because the queue was full"))
	m.markerCount, _ = meter.Int64Counter("hwr.markers.emitted",
		metric.WithDescription("Markers handed to the marker channel"))
	return m
}

// RecordTransition records a phase entry and how late it happened.
func (m *Metrics) RecordTransition(ctx context.Context, phase string, lag time.Duration) {
	if m == nil {
		return
	}
	if lag < 0 {
		lag = 0
	}
	m.transitions.Add(1)
	m.totalLag.Add(lag.Microseconds())

	attrs := metric.WithAttributes(attribute.String("phase", phase))
	if m.transCount != nil {
		m.transCount.Add(ctx, 1, attrs)
	}
	if m.lagHist != nil {
		m.lagHist.Record(ctx, lag.Seconds(), attrs)
	}

	m.lagsMu.Lock()
	m.recentLags = append(m.recentLags, lag)
	if len(m.recentLags) > recentSize {
		m.recentLags = m.recentLags[len(m.recentLags)-recentSize:]
	}
	m.lagsMu.Unlock()
}

// RecordDroppedCommand records a tablet command lost to back-pressure.
func (m *Metrics) RecordDroppedCommand(ctx context.Context) {
	if m == nil {
		return
	}
	m.dropped.Add(1)
	if m.dropCount != nil {
		m.dropCount.Add(ctx, 1)
	}
}

// RecordSendError records a tablet command that reached the transport and failed.
func (m *Metrics) RecordSendError() {
	if m == nil {
		return
	}
	m.sendErrors.Add(1)
}

// RecordMarker records a marker emitted on the given stream.
func (m *Metrics) RecordMarker(ctx context.Context, stream string) {
	if m == nil {
		return
	}
	m.markers.Add(1)
	if m.markerCount != nil {
		m.markerCount.Add(ctx, 1, metric.WithAttributes(attribute.String("stream", stream)))
	}
}

// GetSnapshot returns the current metrics snapshot.
func (m *Metrics) GetSnapshot() Snapshot {
	m.lagsMu.Lock()
	defer m.lagsMu.Unlock()

	transitions := m.transitions.Load()
	snapshot := Snapshot{
		Transitions:     transitions,
		DroppedCommands: m.dropped.Load(),
		SendErrors:      m.sendErrors.Load(),
		MarkersEmitted:  m.markers.Load(),
		Uptime:          time.Since(m.startTime),
	}

	if transitions > 0 {
		snapshot.AvgLag = time.Duration(m.totalLag.Load()/transitions) * time.Microsecond
	}

	if len(m.recentLags) > 0 {
		sorted := make([]time.Duration, len(m.recentLags))
		copy(sorted, m.recentLags)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		snapshot.P50Lag = percentile(sorted, 0.50)
		snapshot.P95Lag = percentile(sorted, 0.95)
		snapshot.P99Lag = percentile(sorted, 0.99)
		snapshot.MaxLag = sorted[len(sorted)-1]
	}
	return snapshot
}

// Snapshot is a point-in-time view of the metrics.
type Snapshot struct {
	Transitions     int64         `json:"transitions"`
	DroppedCommands int64         `json:"dropped_commands"`
	SendErrors      int64         `json:"send_errors"`
	MarkersEmitted  int64         `json:"markers_emitted"`
	AvgLag          time.Duration `json:"avg_lag_ns"`
	P50Lag          time.Duration `json:"p50_lag_ns"`
	P95Lag          time.Duration `json:"p95_lag_ns"`
	P99Lag          time.Duration `json:"p99_lag_ns"`
	MaxLag          time.Duration `json:"max_lag_ns"`
	Uptime          time.Duration `json:"uptime_ns"`
}

// percentile returns the Nth percentile of a sorted slice (nearest rank).
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// String returns a human-readable representation of the snapshot.
func (s Snapshot) String() string {
	return fmt.Sprintf(`Session Metrics:
  Transitions: %d (lag avg: %v, p50: %v, p95: %v, p99: %v, max: %v)
  Tablet: dropped %d, send errors %d
  Markers: %d
  Runtime: %v`,
		s.Transitions, s.AvgLag, s.P50Lag, s.P95Lag, s.P99Lag, s.MaxLag,
		s.DroppedCommands, s.SendErrors,
		s.MarkersEmitted,
		s.Uptime,
	)
}
