// Package server exposes the validation pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/agents"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/notify"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/pipeline"
)

// Starter launches a session in the background.
type Starter interface {
	Start(ctx context.Context, in agents.Input, opts pipeline.RunOptions) (string, error)
}

// StatusSource builds status-poll views.
type StatusSource interface {
	Status(ctx context.Context, id string) (*model.StatusView, error)
}

// ReportStore reads stored reports.
type ReportStore interface {
	GetReport(ctx context.Context, sessionID string) (*model.Report, error)
	Ping(ctx context.Context) error
}

// EventSource streams progress events for a session.
type EventSource interface {
	Subscribe(sessionID string) (<-chan notify.Event, func())
}

// Config holds the HTTP listener settings.
type Config struct {
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Pipeline Starter
	Sessions StatusSource
	Reports  ReportStore
	Events   EventSource
}

// Server is the HTTP API.
type Server struct {
	deps      Deps
	cfg       Config
	validate  *validator.Validate
	keepalive time.Duration
}

// New creates a Server.
func New(deps Deps, cfg Config) *Server {
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return &Server{
		deps:      deps,
		cfg:       cfg,
		validate:  validator.New(),
		keepalive: 15 * time.Second,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/v1/validations", func(r chi.Router) {
		r.Post("/", s.handleTrigger)
		r.Get("/{id}", s.handleStatus)
		r.Get("/{id}/events", s.handleEvents)
		r.Get("/{id}/report", s.handleReport)
	})
	return r
}

// ListenAndServe serves until ctx is done, then shuts the listener down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server: listening", zap.Int("port", s.cfg.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "server: listen")
	case <-ctx.Done():
	}

	zap.L().Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
