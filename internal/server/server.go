package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dcava30/Talenti-MVP-sub000/internal/core/domain"
	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/resilience"
	"github.com/dcava30/Talenti-MVP-sub000/internal/session"
)

// SessionService is the control-plane surface the HTTP layer drives.
type SessionService interface {
	StartInterview(ctx context.Context, interviewID string) (*session.Manager, error)
	Get(interviewID string) (*session.Manager, bool)
	Route(ctx context.Context, ev domain.ProviderEvent)
	Snapshots() []domain.SessionSnapshot
	BreakerSnapshots() []resilience.BreakerSnapshot
}

// Config holds HTTP server settings.
type Config struct {
	Port        int
	WebhookPath string
}

// Server exposes the webhook endpoint, the candidate WebSocket channel,
// interview commands, health and metrics.
type Server struct {
	svc      SessionService
	commands *resilience.Limiter
	webhook  *resilience.Limiter
	server   *http.Server
	log      *slog.Logger
}

// NewServer wires the HTTP surface.
func NewServer(cfg Config, svc SessionService, commands, webhook *resilience.Limiter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{
		svc:      svc,
		commands: commands,
		webhook:  webhook,
		log:      log,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: mux,
		},
	}

	mux.HandleFunc("POST "+cfg.WebhookPath, s.withLimit(webhook, s.handleWebhook))
	mux.HandleFunc("GET /ws/interview/{id}", s.handleWebSocket)
	mux.HandleFunc("POST /interviews/{id}/start", s.withLimit(commands, s.handleStart))
	mux.HandleFunc("POST /interviews/{id}/end", s.withLimit(commands, s.handleEnd))
	mux.HandleFunc("POST /interviews/{id}/respond", s.withLimit(commands, s.handleRespond))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, err := s.svc.StartInterview(r.Context(), id)
	if err != nil {
		s.log.Warn("Start interview rejected", "interview", id, "error", err)
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	m.Start()
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": m.ID(), "status": "starting"})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, ok := s.svc.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active session"})
		return
	}
	m.End()
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id, "status": "ending"})
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, ok := s.svc.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active session"})
		return
	}
	m.RequestResponse()
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id, "status": "responding"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	for _, b := range s.svc.BreakerSnapshots() {
		if b.State == "open" {
			status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, map[string]string{"status": status})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":     s.svc.Snapshots(),
		"dependencies": s.svc.BreakerSnapshots(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
