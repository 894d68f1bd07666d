package marker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/hwrsync/pkg/models"
)

// BroadcasterSuite is a test suite for Broadcaster operations.
type BroadcasterSuite struct {
	suite.Suite
	broadcaster *Broadcaster
}

func (s *BroadcasterSuite) SetupTest() {
	s.broadcaster = NewBroadcaster("laptop-1")
}

func TestBroadcasterSuite(t *testing.T) {
	suite.Run(t, new(BroadcasterSuite))
}

// mockResponseWriter implements http.ResponseWriter and http.Flusher for testing.
type mockResponseWriter struct {
	header http.Header
	body   []byte
	mu     sync.Mutex
}

func newMockResponseWriter() *mockResponseWriter {
	return &mockResponseWriter{header: make(http.Header)}
}

func (m *mockResponseWriter) Header() http.Header { return m.header }

func (m *mockResponseWriter) Write(data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body = append(m.body, data...)
	return len(data), nil
}

func (m *mockResponseWriter) WriteHeader(int) {}

func (m *mockResponseWriter) Flush() {}

func (m *mockResponseWriter) GetBody() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.body)
}

type noFlushWriter struct{ http.ResponseWriter }

func (s *BroadcasterSuite) TestAddRemoveClient() {
	w := newMockResponseWriter()
	client, err := s.broadcaster.AddClient(w, "")
	s.Require().NoError(err)
	s.NotEmpty(client.ID)
	s.Equal(1, s.broadcaster.ClientCount())

	s.broadcaster.RemoveClient(client)
	s.Equal(0, s.broadcaster.ClientCount())

	select {
	case <-client.Done:
	default:
		s.Fail("Done channel should be closed")
	}

	s.NotPanics(func() { s.broadcaster.RemoveClient(client) })
}

func (s *BroadcasterSuite) TestAddClient_RequiresFlusher() {
	_, err := s.broadcaster.AddClient(noFlushWriter{httptest.NewRecorder()}, "")
	s.Error(err)
}

// waitBody waits until w has received want occurrences of substr.
func (s *BroadcasterSuite) waitBody(w *mockResponseWriter, substr string, want int) string {
	s.Require().Eventually(func() bool {
		return strings.Count(w.GetBody(), substr) >= want
	}, time.Second, 2*time.Millisecond)
	return w.GetBody()
}

func (s *BroadcasterSuite) TestEmit_MarkerEvent() {
	w := newMockResponseWriter()
	_, err := s.broadcaster.AddClient(w, "")
	s.Require().NoError(err)

	s.Require().NoError(s.broadcaster.Emit(context.Background(), laptopMarker(4)))

	body := s.waitBody(w, "event: marker", 1)
	s.True(strings.HasPrefix(body, "event: marker\ndata: "))
	s.Contains(body, `"trialID":4`)
	s.Contains(body, `"source":"laptop-1"`)
	s.Contains(body, `"payload":{"trialID":1,"letter":"a"}`)
}

func (s *BroadcasterSuite) TestEmit_StreamFilter() {
	laptop := newMockResponseWriter()
	tablet := newMockResponseWriter()
	all := newMockResponseWriter()
	_, _ = s.broadcaster.AddClient(laptop, models.LaptopStream)
	_, _ = s.broadcaster.AddClient(tablet, models.TabletStream)
	_, _ = s.broadcaster.AddClient(all, "")

	s.Require().NoError(s.broadcaster.Emit(context.Background(), laptopMarker(1)))

	s.waitBody(laptop, "Laptop_Markers", 1)
	s.waitBody(all, "Laptop_Markers", 1)

	// Non-marker events ignore the filter.
	s.broadcaster.SetActive("a")
	body := s.waitBody(tablet, "event: cue", 1)
	s.Contains(body, `"letter":"a"`)
	s.NotContains(body, "Laptop_Markers")
}

func (s *BroadcasterSuite) TestCueEvents() {
	w := newMockResponseWriter()
	_, _ = s.broadcaster.AddClient(w, "")

	s.broadcaster.SetRest()
	s.broadcaster.SetActive("e")

	body := s.waitBody(w, "event: cue", 2)
	s.Contains(body, `"state":"rest"`)
	s.Contains(body, `"state":"active"`)
}

func (s *BroadcasterSuite) TestBroadcastNoClients() {
	s.NotPanics(func() { s.broadcaster.Broadcast(EventStatus, map[string]string{"a": "b"}) })
}

type failingWriter struct{ *mockResponseWriter }

func (f failingWriter) Write([]byte) (int, error) { return 0, http.ErrHandlerTimeout }

func (s *BroadcasterSuite) TestDeadClientRemoved() {
	_, err := s.broadcaster.AddClient(failingWriter{newMockResponseWriter()}, "")
	s.Require().NoError(err)
	s.broadcaster.Broadcast(EventStatus, "x")
	s.Eventually(func() bool { return s.broadcaster.ClientCount() == 0 }, time.Second, 2*time.Millisecond)
}

// stalledWriter blocks every Write until release is closed.
type stalledWriter struct {
	*mockResponseWriter
	release chan struct{}
}

func (w stalledWriter) Write(data []byte) (int, error) {
	<-w.release
	return len(data), nil
}

func (s *BroadcasterSuite) TestStalledClientDoesNotBlockCue() {
	release := make(chan struct{})
	defer close(release)
	stalled, err := s.broadcaster.AddClient(stalledWriter{newMockResponseWriter(), release}, "")
	s.Require().NoError(err)
	healthy := newMockResponseWriter()
	_, err = s.broadcaster.AddClient(healthy, "")
	s.Require().NoError(err)

	start := time.Now()
	for i := 0; i < 2*ClientBuffer; i++ {
		s.broadcaster.SetActive("a")
		s.broadcaster.SetRest()
	}
	s.Less(time.Since(start), 50*time.Millisecond)

	s.waitBody(healthy, `"state":"rest"`, 1)
	s.Positive(stalled.Dropped())
}

func TestWriteTimeout(t *testing.T) {
	assert.Equal(t, 2*time.Second, WriteTimeout)
}

func TestHandleSSE(t *testing.T) {
	b := NewBroadcaster("laptop-1")
	srv := httptest.NewServer(http.HandlerFunc(b.HandleSSE))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?stream=Laptop_Markers", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := make([]byte, 256)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "event: connected")

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return b.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestConcurrentBroadcast(t *testing.T) {
	b := NewBroadcaster("")
	writers := make([]*mockResponseWriter, 5)
	for i := range writers {
		writers[i] = newMockResponseWriter()
		_, err := b.AddClient(writers[i], "")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.Emit(context.Background(), laptopMarker(i))
		}(i)
	}
	wg.Wait()

	for _, w := range writers {
		assert.Eventually(t, func() bool {
			return strings.Count(w.GetBody(), "event: marker") == 50
		}, time.Second, 2*time.Millisecond)
	}
}
