package worker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	gormdb "github.com/thebtf/hwrsync/internal/db/gorm"
	"github.com/thebtf/hwrsync/internal/scheduler"
	"github.com/thebtf/hwrsync/pkg/models"
)

// controlTimeout bounds how long a control request waits for the runner loop.
const controlTimeout = 2 * time.Second

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	encoded, err := json.Marshal(value)
	if err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(encoded, '\n'))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Service) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	st := s.controller.Status()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "no session")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Service) handleRunOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": s.runOrders})
}

func (s *Service) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()

	err := s.controller.Stop(ctx)
	if err != nil && !errors.Is(err, scheduler.ErrRunnerStopped) {
		log.Error().Err(err).Msg("Stop request failed")
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Service) handleMoveTo(w http.ResponseWriter, r *http.Request) {
	name := models.PhaseName(chi.URLParam(r, "name"))

	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()

	moved, err := s.controller.MoveTo(ctx, name)
	switch {
	case errors.Is(err, scheduler.ErrRunnerStopped):
		writeError(w, http.StatusConflict, "session stopped")
	case err != nil:
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case !moved:
		writeError(w, http.StatusBadRequest, "cannot move to phase "+string(name))
	default:
		writeJSON(w, http.StatusOK, s.controller.Status())
	}
}

func (s *Service) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusNotFound, "session store disabled")
		return
	}
	limit := gormdb.ParseLimitParam(r, 20)
	recs, err := s.sessions.ListSessions(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("List sessions failed")
		writeError(w, http.StatusInternalServerError, "list sessions failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": recs})
}

func (s *Service) handleMarkerStream(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		writeError(w, http.StatusNotFound, "marker stream disabled")
		return
	}
	s.broadcaster.HandleSSE(w, r)
}

func (s *Service) handleTabletHistory(w http.ResponseWriter, r *http.Request) {
	if s.tablet == nil {
		writeError(w, http.StatusNotFound, "tablet disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sent":    s.tablet.Sent(),
		"dropped": s.tablet.Dropped(),
		"history": s.tablet.History(),
	})
}

func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.GetSnapshot())
}
