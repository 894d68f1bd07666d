// Package worker serves the HTTP control and status API of a live session.
package worker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	gormdb "github.com/thebtf/hwrsync/internal/db/gorm"
	"github.com/thebtf/hwrsync/internal/marker"
	"github.com/thebtf/hwrsync/internal/metrics"
	"github.com/thebtf/hwrsync/internal/scheduler"
	"github.com/thebtf/hwrsync/internal/tablet"
	"github.com/thebtf/hwrsync/pkg/models"
)

// StatusFeedInterval is how often status changes are pushed to SSE clients.
const StatusFeedInterval = 250 * time.Millisecond

// Controller drives the running session. *scheduler.Runner satisfies it.
type Controller interface {
	Status() *scheduler.Status
	Stop(ctx context.Context) error
	MoveTo(ctx context.Context, name models.PhaseName) (bool, error)
}

// CommandHistory exposes sent tablet commands. *tablet.Dispatcher satisfies it.
type CommandHistory interface {
	History() []tablet.HistoryEntry
	Dropped() int64
	Sent() int64
}

// SessionLister lists stored sessions. *gorm.SessionStore satisfies it.
type SessionLister interface {
	ListSessions(ctx context.Context, limit int) ([]gormdb.SessionRecord, error)
}

// Options wires the service. Only Controller is required.
type Options struct {
	Version     string
	Controller  Controller
	Broadcaster *marker.Broadcaster
	Tablet      CommandHistory
	Metrics     *metrics.Metrics
	Sessions    SessionLister
	RunOrders   [][]string
}

// Service is the worker HTTP service.
type Service struct {
	version     string
	controller  Controller
	broadcaster *marker.Broadcaster
	tablet      CommandHistory
	metrics     *metrics.Metrics
	sessions    SessionLister
	runOrders   [][]string
	router      chi.Router
	server      *http.Server
	ready       atomic.Bool
	startTime   time.Time
}

// NewService builds the service and its routes. It is not ready until
// SetReady(true).
func NewService(opts Options) *Service {
	s := &Service{
		version:     opts.Version,
		controller:  opts.Controller,
		broadcaster: opts.Broadcaster,
		tablet:      opts.Tablet,
		metrics:     opts.Metrics,
		sessions:    opts.Sessions,
		runOrders:   opts.RunOrders,
		router:      chi.NewRouter(),
		startTime:   time.Now(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Service) Handler() http.Handler { return s.router }

// SetReady toggles the health endpoint.
func (s *Service) SetReady(ready bool) { s.ready.Store(ready) }

func (s *Service) setupRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/", serveIndex)
	r.Head("/", serveIndex)
	r.Get("/assets/*", serveAssets)
	r.Head("/assets/*", serveAssets)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/version", s.handleVersion)

		r.Get("/session", s.handleSessionStatus)
		r.Get("/session/runs", s.handleRunOrders)
		r.Post("/session/stop", s.handleStop)
		r.Post("/session/phase/{name}", s.handleMoveTo)

		r.Get("/sessions", s.handleListSessions)
		r.Get("/markers/stream", s.handleMarkerStream)
		r.Get("/tablet/history", s.handleTabletHistory)
		r.Get("/metrics", s.handleMetrics)
	})
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Service) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()

	if s.broadcaster != nil {
		go s.statusFeed(ctx, StatusFeedInterval)
	}

	s.SetReady(true)
	log.Info().Str("addr", ln.Addr().String()).Msg("Worker listening")

	select {
	case err := <-errCh:
		s.SetReady(false)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Worker shutdown incomplete")
		return s.server.Close()
	}
	return nil
}

// statusFeed broadcasts the session status whenever its snapshot changes.
func (s *Service) statusFeed(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *scheduler.Status
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.controller.Status()
			if st == nil || st == last {
				continue
			}
			last = st
			s.broadcaster.Broadcast(marker.EventStatus, st)
		}
	}
}
