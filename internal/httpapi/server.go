// Package httpapi is the operational HTTP surface: health, readiness,
// status, model lifecycle actions and metrics. It does not serve inference.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"mlserve/internal/logging"
	"mlserve/internal/manager"
	"mlserve/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.ModelInfo
	Status() types.StatusResponse
	Ready() bool
	ModelStatus(name string) (types.Status, error)
	LoadModel(ctx context.Context, name string) (manager.Handle, error)
	UnloadModel(ctx context.Context, name string) error
}

// CORSOptions configures the optional CORS middleware.
type CORSOptions struct {
	Enabled bool
	Origins []string
}

// Options configures NewMux. Zero values disable the optional parts.
type Options struct {
	Logger *zerolog.Logger
	// RequestLogLevel is the default per-request log level: off, error,
	// info or debug.
	RequestLogLevel string
	Metrics         *HTTPMetrics
	// MetricsHandler is served at /metrics when set.
	MetricsHandler http.Handler
	CORS           CORSOptions
	// BreakerState reports the remote circuit breaker state for /status.
	BreakerState func() string
	// ActionTimeout bounds load and unload requests.
	ActionTimeout time.Duration
}

type server struct {
	svc  Service
	opts Options
	log  zerolog.Logger
}

func NewMux(svc Service, opts Options) http.Handler {
	s := &server{svc: svc, opts: opts, log: logging.OrNop(opts.Logger).With().Str("component", "http").Logger()}

	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if opts.CORS.Enabled {
		origins := opts.CORS.Origins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Log-Level", "X-Request-Id"},
			MaxAge:         300,
		}))
	}
	r.Use(RequestLogger(s.log, parseLevel(opts.RequestLogLevel)))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})
	r.Get("/status", s.handleStatus)
	r.Get("/models", s.handleModels)
	r.Post("/models/{name}/load", s.handleLoad)
	r.Post("/models/{name}/unload", s.handleUnload)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}
	return r
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Status()
	if s.opts.BreakerState != nil {
		st.RemoteBreaker = s.opts.BreakerState()
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: s.svc.ListModels()})
}

func (s *server) handleLoad(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx, cancel := s.actionContext(r)
	defer cancel()
	if _, err := s.svc.LoadModel(ctx, name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeModelStatus(w, r, name)
}

func (s *server) handleUnload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx, cancel := s.actionContext(r)
	defer cancel()
	if err := s.svc.UnloadModel(ctx, name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeModelStatus(w, r, name)
}

func (s *server) actionContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.opts.ActionTimeout > 0 {
		return context.WithTimeout(r.Context(), s.opts.ActionTimeout)
	}
	return context.WithCancel(r.Context())
}

func (s *server) writeModelStatus(w http.ResponseWriter, r *http.Request, name string) {
	st, err := s.svc.ModelStatus(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ModelActionResponse{Name: name, Status: st})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
