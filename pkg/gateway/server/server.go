// Package server assembles the gateway: routes, middleware chain, and the
// shared state that graceful shutdown needs.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/voxprep/voxprep/pkg/core/graph"
	"github.com/voxprep/voxprep/pkg/gateway/config"
	"github.com/voxprep/voxprep/pkg/gateway/handlers"
	"github.com/voxprep/voxprep/pkg/gateway/lifecycle"
	"github.com/voxprep/voxprep/pkg/gateway/live/session"
	"github.com/voxprep/voxprep/pkg/gateway/live/sessions"
	"github.com/voxprep/voxprep/pkg/gateway/metrics"
	"github.com/voxprep/voxprep/pkg/gateway/mw"
	"github.com/voxprep/voxprep/pkg/gateway/ratelimit"
	"github.com/voxprep/voxprep/pkg/gateway/store"
)

// Dependencies carries what main wires up before the server can serve
// interviews. Nil Store disables persistence; nil STT/TTS disable the voice
// capabilities and sessions fall back to text answers.
type Dependencies struct {
	Graph   *graph.Graph
	Store   store.Store
	STT     session.CaptureProvider
	TTS     session.SpeechProvider
	Metrics *metrics.Metrics
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Dependencies

	limiter   *ratelimit.Limiter
	lifecycle *lifecycle.Lifecycle
	tracker   *sessions.Tracker
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
		limiter: ratelimit.New(ratelimit.Config{
			StartsPerMinute:       cfg.SessionStartsPerMinute,
			Burst:                 cfg.SessionStartBurst,
			MaxConcurrentSessions: cfg.MaxConcurrentSessions,
		}),
		lifecycle: &lifecycle.Lifecycle{},
		tracker:   sessions.NewTracker(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Graph:     s.deps.Graph,
		Lifecycle: s.lifecycle,
	})
	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", s.deps.Metrics.Handler())
	}

	s.mux.Handle("/v1/interview", handlers.InterviewHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Graph:     s.deps.Graph,
		Store:     s.deps.Store,
		STT:       s.deps.STT,
		TTS:       s.deps.TTS,
		Limiter:   s.limiter,
		Lifecycle: s.lifecycle,
		Sessions:  s.tracker,
		Metrics:   s.deps.Metrics,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips readiness and makes /v1/interview refuse new sessions.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// WarnSessionsDraining tells every live interview the gateway is going away.
func (s *Server) WarnSessionsDraining() {
	n := s.tracker.WarnAll("draining", "gateway is shutting down; the interview will end shortly")
	if n > 0 {
		s.logger.Info("warned live sessions", "sessions", n)
	}
}

// WaitSessions blocks until live interviews have finished or ctx expires.
func (s *Server) WaitSessions(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

// CancelSessions force-finishes whatever is still running.
func (s *Server) CancelSessions() {
	if n := s.tracker.CancelAll(); n > 0 {
		s.logger.Warn("canceled live sessions", "sessions", n)
	}
}
