package marker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/hwrsync/pkg/models"
)

type memEmitter struct {
	mu      sync.Mutex
	markers []models.Marker
	err     error
}

func (e *memEmitter) Emit(_ context.Context, m models.Marker) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markers = append(e.markers, m)
	return e.err
}

func (e *memEmitter) all() []models.Marker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Marker(nil), e.markers...)
}

func laptopMarker(trialID int) models.Marker {
	return models.Marker{
		Stream:    models.LaptopStream,
		Payload:   []byte(`{"trialID":1,"letter":"a"}`),
		Timestamp: 1700000000.5,
		RunID:     1,
		TrialID:   trialID,
	}
}

func TestNewEvent_EmbedsJSON(t *testing.T) {
	ev := NewEvent("src-1", laptopMarker(1))
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"source":"src-1","stream":"Laptop_Markers","timestamp":1700000000.5,
		"runID":1,"trialID":1,"payload":{"trialID":1,"letter":"a"}
	}`, string(data))

	assert.Equal(t, laptopMarker(1), ev.Marker())
}

func TestNewEvent_NonJSONPayload(t *testing.T) {
	m := models.Marker{Stream: "s", Payload: []byte("trial start")}
	ev := NewEvent("", m)
	assert.Equal(t, `"trial start"`, string(ev.Payload))
	assert.Equal(t, []byte("trial start"), ev.Marker().Payload)

	empty := NewEvent("", models.Marker{Stream: "s"})
	assert.Equal(t, "null", string(empty.Payload))
}

func TestFanout(t *testing.T) {
	a := &memEmitter{}
	b := &memEmitter{err: errors.New("sink down")}
	c := &memEmitter{}

	err := Fanout{a, nil, b, c}.Emit(context.Background(), laptopMarker(1))
	assert.ErrorContains(t, err, "sink down")
	assert.Len(t, a.all(), 1)
	assert.Len(t, c.all(), 1, "later sinks still receive the marker")

	assert.NoError(t, Fanout{a}.Emit(context.Background(), laptopMarker(2)))
}

func TestEmitterFunc(t *testing.T) {
	var got models.Marker
	f := EmitterFunc(func(_ context.Context, m models.Marker) error {
		got = m
		return nil
	})
	require.NoError(t, f.Emit(context.Background(), laptopMarker(3)))
	assert.Equal(t, 3, got.TrialID)
}

type memStore struct {
	sessionID string
	source    string
	markers   []models.Marker
}

func (s *memStore) SaveMarker(_ context.Context, sessionID, source string, m models.Marker) error {
	s.sessionID = sessionID
	s.source = source
	s.markers = append(s.markers, m)
	return nil
}

func TestRecorder(t *testing.T) {
	store := &memStore{}
	r := NewRecorder(store, "sess-1", "src-1")
	require.NoError(t, r.Emit(context.Background(), laptopMarker(1)))

	assert.Equal(t, "sess-1", store.sessionID)
	assert.Equal(t, "src-1", store.source)
	assert.Len(t, store.markers, 1)
}

func TestQueue_DeliversInOrder(t *testing.T) {
	sink := &memEmitter{}
	q := NewQueue(sink, 16)
	q.Start(context.Background())

	for i := 1; i <= 10; i++ {
		require.NoError(t, q.Emit(context.Background(), laptopMarker(i)))
	}
	q.Close()

	got := sink.all()
	require.Len(t, got, 10)
	for i, m := range got {
		assert.Equal(t, i+1, m.TrialID)
	}
}

func TestQueue_DropsWhenFull(t *testing.T) {
	sink := &memEmitter{}
	q := NewQueue(sink, 2)

	// Not started: the buffer fills and the third marker is dropped.
	require.NoError(t, q.Emit(context.Background(), laptopMarker(1)))
	require.NoError(t, q.Emit(context.Background(), laptopMarker(2)))
	assert.ErrorIs(t, q.Emit(context.Background(), laptopMarker(3)), ErrQueueFull)
	assert.Equal(t, int64(1), q.Dropped())

	q.Start(context.Background())
	q.Close()
	assert.Len(t, sink.all(), 2)
}

func TestQueue_SinkErrorsAreSwallowed(t *testing.T) {
	sink := &memEmitter{err: errors.New("boom")}
	q := NewQueue(sink, 0)
	q.Start(context.Background())
	require.NoError(t, q.Emit(context.Background(), laptopMarker(1)))
	q.Close()
	q.Close()
	assert.Len(t, sink.all(), 1)
}
