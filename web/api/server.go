// Package api serves feature plans, run history and live run events over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hochfrequenz/gba/internal/domain"
	"github.com/hochfrequenz/gba/internal/metrics"
	"github.com/hochfrequenz/gba/internal/runstore"
)

// PlanStore reads feature plans
type PlanStore interface {
	List() ([]string, error)
	Load(slug string) (*domain.Plan, error)
}

// RunHistory lists recorded runs
type RunHistory interface {
	ListRuns(opts runstore.ListOptions) ([]*runstore.Run, error)
	Events(runID string) ([]runstore.EventRecord, error)
}

// Server is the HTTP API server
type Server struct {
	plans    PlanStore
	runs     RunHistory
	metrics  *metrics.Metrics
	hub      *Hub
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer creates a new API server. runs and m may be nil, which disables
// their routes.
func NewServer(plans PlanStore, runs RunHistory, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		plans:   plans,
		runs:    runs,
		metrics: m,
		hub:     NewHub(),
		mux:     http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.Named("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/features", s.listFeaturesHandler())
	s.mux.HandleFunc("GET /api/features/{slug}", s.getFeatureHandler())
	s.mux.HandleFunc("GET /api/events", s.sseHandler())
	s.mux.HandleFunc("GET /api/ws", s.wsHandler())
	if s.runs != nil {
		s.mux.HandleFunc("GET /api/runs", s.listRunsHandler())
		s.mux.HandleFunc("GET /api/runs/{id}/events", s.runEventsHandler())
	}
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Hub returns the event hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Serve listens on addr until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("event server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Publish broadcasts an event of slug to all connected clients
func (s *Server) Publish(slug string, e domain.Event) {
	s.hub.Broadcast(RunEvent{Type: e.EventType(), Slug: slug, Data: e})
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
