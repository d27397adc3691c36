package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/rickgao/sportzy/internal/connection"
	"github.com/rickgao/sportzy/internal/journal"
	"github.com/rickgao/sportzy/internal/store"
	"github.com/rickgao/sportzy/internal/version"
)

// connectionStats is satisfied by *connection.Manager.
type connectionStats interface {
	Stats() connection.Stats
}

// journalStats is satisfied by *journal.Journal.
type journalStats interface {
	Stats() journal.Stats
	Pending() int
}

// debugServer serves health, metrics and read-only views of the store.
type debugServer struct {
	store       *store.Store
	connection  connectionStats
	journal     journalStats // nil when the journal is disabled
	metrics     http.Handler
	metricsPath string
}

func (s *debugServer) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, s.metricsPath, s.metrics)
	}
	r.Route("/debug", func(r chi.Router) {
		r.Get("/matches", s.matches)
		r.Get("/commentary/{id}", s.commentary)
	})
	return r
}

func (s *debugServer) health(w http.ResponseWriter, r *http.Request) {
	stats := s.connection.Stats()

	health := struct {
		Status     string         `json:"status"`
		Version    version.Info   `json:"version"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Version:    version.Get(),
		Components: make(map[string]any),
	}

	health.Components["realtime"] = map[string]any{
		"state":         stats.State.String(),
		"attempts":      stats.Attempts,
		"queued":        stats.Queued,
		"subscriptions": stats.Subscriptions,
	}
	if stats.State != connection.StateConnected {
		health.Status = "degraded"
	}

	snap := s.store.Snapshot()
	health.Components["store"] = map[string]any{
		"matches":   len(snap.Matches),
		"live":      snap.LiveCount,
		"connected": snap.Connected,
		"ws_error":  snap.WSError,
	}

	if s.journal != nil {
		js := s.journal.Stats()
		health.Components["journal"] = map[string]any{
			"pending": s.journal.Pending(),
			"inserts": js.Inserts,
			"errors":  js.Errors,
		}
	}

	writeJSON(w, http.StatusOK, health)
}

func (s *debugServer) matches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *debugServer) commentary(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid match id"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"matchId":    id,
		"subscribed": s.store.IsSubscribed(id),
		"loading":    s.store.IsLoadingCommentary(id),
		"items":      s.store.CommentaryFor(id),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
