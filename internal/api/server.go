package api

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chicors "github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/metrics"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/progress"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/verify"
)

const (
	defaultMaxBodyBytes   = 1 << 20
	defaultRequestTimeout = 30 * time.Second
	defaultHeartbeat      = 15 * time.Second
	defaultEventBuffer    = 64
)

// Runner controls verification runs.
type Runner interface {
	Start(ctx context.Context, text string) (int, error)
	Stop()
	Snapshot() verify.Snapshot
}

// Subscriber hands out live event feeds.
type Subscriber interface {
	Subscribe(buffer int) (<-chan progress.Event, func())
}

// Config tunes the HTTP surface.
type Config struct {
	// APIKey, when set, is required on every control and data route.
	APIKey         string
	CORSOrigins    []string
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	// Heartbeat is the idle interval between keep-alive comments on /events.
	Heartbeat   time.Duration
	EventBuffer int
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = defaultHeartbeat
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	return c
}

// Server wires HTTP handlers to the runner and the event feed.
type Server struct {
	router   chi.Router
	runner   Runner
	events   Subscriber
	validate *validator.Validate
	cfg      Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Runner, events Subscriber, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:   runner,
		events:   events,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(chicors.Handler(chicors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	}))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())

	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	r.Handle("/*", http.FileServer(http.FS(static)))

	r.Group(func(r chi.Router) {
		if s.cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(s.cfg.APIKey))
		}
		// Streams must not sit behind http.TimeoutHandler: it buffers writes.
		r.Get("/events", s.streamEvents)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(s.cfg.RequestTimeout))
			r.Post("/start", s.start)
			r.Post("/stop", s.stop)
			r.Get("/status", s.status)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
