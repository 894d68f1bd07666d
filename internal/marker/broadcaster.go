package marker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/hwrsync/pkg/models"
)

const (
	// WriteTimeout bounds a write to one SSE client.
	WriteTimeout = 2 * time.Second
	// ClientBuffer is the number of events queued per client before new ones
	// are dropped for that client.
	ClientBuffer = 64

	EventMarker    = "marker"
	EventCue       = "cue"
	EventStatus    = "status"
	EventConnected = "connected"
)

// Client is a connected SSE subscriber. An empty Stream receives everything.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string
	Stream  string

	send      chan []byte
	dropped   atomic.Int64
	closeOnce sync.Once
}

// Dropped returns the number of events discarded because the client lagged.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

func (c *Client) close() {
	if c.Done == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.Done) })
}

// Broadcaster fans markers and session events out to SSE clients.
type Broadcaster struct {
	clients map[string]*Client
	mu      sync.RWMutex
	source  string
}

// NewBroadcaster returns a Broadcaster stamping events with source.
func NewBroadcaster(source string) *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
		source:  source,
	}
}

// AddClient registers w. stream filters marker events; empty means all.
func (b *Broadcaster) AddClient(w http.ResponseWriter, stream string) (*Client, error) {
	client, err := newClient(w, stream)
	if err != nil {
		return nil, err
	}
	b.register(client)
	return client, nil
}

func newClient(w http.ResponseWriter, stream string) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &Client{
		ID:      uuid.NewString(),
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
		Stream:  stream,
		send:    make(chan []byte, ClientBuffer),
	}, nil
}

func (b *Broadcaster) register(client *Client) {
	b.mu.Lock()
	b.clients[client.ID] = client
	count := len(b.clients)
	b.mu.Unlock()

	go b.writeLoop(client)
	log.Debug().Str("clientId", client.ID).Str("stream", client.Stream).Int("totalClients", count).Msg("SSE client connected")
}

// RemoveClient unregisters client and closes its Done channel.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	count := len(b.clients)
	b.mu.Unlock()

	client.close()
	log.Debug().Str("clientId", client.ID).Int("totalClients", count).Msg("SSE client disconnected")
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Emit implements Emitter by broadcasting a marker event.
func (b *Broadcaster) Emit(_ context.Context, m models.Marker) error {
	b.broadcast(EventMarker, m.Stream, NewEvent(b.source, m))
	return nil
}

// Broadcast sends a named event to every client.
func (b *Broadcaster) Broadcast(event string, data interface{}) {
	b.broadcast(event, "", data)
}

// SetRest publishes the resting cue state.
func (b *Broadcaster) SetRest() {
	b.Broadcast(EventCue, map[string]string{"state": "rest"})
}

// SetActive publishes the cue state showing letter.
func (b *Broadcaster) SetActive(letter string) {
	b.Broadcast(EventCue, map[string]string{"state": "active", "letter": letter})
}

func (b *Broadcaster) broadcast(event, stream string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to marshal SSE data")
		return
	}
	message := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, jsonData))

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		if stream != "" && client.Stream != "" && client.Stream != stream {
			continue
		}
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	// Never blocks: each client drains its own buffer.
	for _, client := range clients {
		select {
		case client.send <- message:
		case <-client.Done:
		default:
			if client.dropped.Add(1) == 1 {
				log.Warn().Str("clientId", client.ID).Str("event", event).Msg("SSE client lagging, dropping events")
			}
		}
	}
}

// writeLoop delivers queued events to one client until it disconnects or a
// write fails or exceeds WriteTimeout.
func (b *Broadcaster) writeLoop(client *Client) {
	for {
		select {
		case <-client.Done:
			return
		case message := <-client.send:
			if err := writeWithTimeout(client, message); err != nil {
				log.Debug().Str("clientId", client.ID).Err(err).Msg("SSE write failed, removing client")
				b.RemoveClient(client)
				return
			}
		}
	}
}

var errWriteTimeout = errors.New("sse write timed out")

func writeWithTimeout(client *Client, message []byte) error {
	done := make(chan error, 1)
	go func() {
		_, err := client.Writer.Write(message)
		if err == nil {
			client.Flusher.Flush()
		}
		done <- err
	}()

	timer := time.NewTimer(WriteTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return errWriteTimeout
	case <-client.Done:
		return nil
	}
}

// HandleSSE serves an event stream until the request ends.
// The optional "stream" query parameter limits marker events to one stream.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client, err := newClient(w, r.URL.Query().Get("stream"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, "event: %s\ndata: {\"clientId\":%q,\"source\":%q}\n\n", EventConnected, client.ID, b.source)
	client.Flusher.Flush()

	b.register(client)
	defer b.RemoveClient(client)

	select {
	case <-r.Context().Done():
	case <-client.Done:
	}
}
