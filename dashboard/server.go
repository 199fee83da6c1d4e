package dashboard

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"outlet-watcher/internal/types"
	"outlet-watcher/sink"
)

// Server exposes the persisted crawl state as a small JSON API for browsing
// variants, their observation history, and the alert ledger.
type Server struct {
	store  *sink.Store
	logger types.Logger
}

// NewServer creates a dashboard server over the given store.
func NewServer(store *sink.Store, logger types.Logger) *Server {
	return &Server{store: store, logger: logger}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/variants", s.handleVariants)
		r.Get("/variants/{hashKey}/observations", s.handleObservations)
		r.Get("/alerts", s.handleAlerts)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeInternalServerError(w, err, r.URL.Path)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleVariants(w http.ResponseWriter, r *http.Request) {
	variants, err := s.store.Variants(queryLimit(r))
	if err != nil {
		s.logger.Errorf("Failed to list variants: %v", err)
		writeInternalServerError(w, err, r.URL.Path)
		return
	}
	if variants == nil {
		variants = []sink.VariantRecord{}
	}
	writeJSON(w, variants)
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	hashKey := chi.URLParam(r, "hashKey")
	observations, err := s.store.Observations(hashKey, queryLimit(r))
	if err != nil {
		s.logger.Errorf("Failed to list observations for %s: %v", hashKey, err)
		writeInternalServerError(w, err, r.URL.Path)
		return
	}
	if len(observations) == 0 {
		writeNotFound(w, "No observations for hash key "+hashKey, r.URL.Path)
		return
	}
	writeJSON(w, observations)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.Alerts(queryLimit(r))
	if err != nil {
		s.logger.Errorf("Failed to list alerts: %v", err)
		writeInternalServerError(w, err, r.URL.Path)
		return
	}
	if alerts == nil {
		alerts = []sink.AlertRecord{}
	}
	writeJSON(w, alerts)
}

func queryLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
