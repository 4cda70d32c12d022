// Package app wires the mlserve subsystems into a running process.
//
// New builds every subsystem in a fixed order:
//
//  1. logger
//  2. metrics (prometheus, otel or none) and the scrape registry
//  3. result cache (redis, memory or none)
//  4. remote inference client, when remote.url is set
//  5. hardware prober
//  6. model registry
//  7. loaders (native, worker, remote)
//  8. model manager
//  9. HTTP ops surface
//
// Start serves HTTP and then runs Manager.Initialize, so /readyz reports
// "loading" while preloads run. Shutdown tears down in reverse order: HTTP
// server, manager (unloads every model), cache connection, meter provider.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"mlserve/internal/cache"
	"mlserve/internal/config"
	"mlserve/internal/hardware"
	"mlserve/internal/httpapi"
	"mlserve/internal/logging"
	"mlserve/internal/manager"
	"mlserve/internal/metrics"
	"mlserve/internal/registry"
	"mlserve/internal/remote"
	"mlserve/internal/resilience"
)

const (
	mb                = 1 << 20
	readHeaderTimeout = 10 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg config.Config
	log zerolog.Logger

	logOut   io.Writer
	promReg  *prometheus.Registry
	recorder metrics.Recorder
	cache    *cache.Cache
	remote   *remote.Client
	prober   manager.HardwareProber
	models   *registry.Registry
	loaders  *manager.Loaders
	manager  *manager.Manager
	handler  http.Handler
	server   *http.Server
	listener net.Listener
	serveErr chan error

	// closers run in reverse during Shutdown.
	closers  []func(context.Context) error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogOutput sends logs to w instead of stderr.
func WithLogOutput(w io.Writer) Option { return func(a *App) { a.logOut = w } }

// WithProber replaces the host hardware prober.
func WithProber(p manager.HardwareProber) Option { return func(a *App) { a.prober = p } }

// WithLoaders replaces the loaders built from config.
func WithLoaders(l manager.Loaders) Option { return func(a *App) { a.loaders = &l } }

// New wires every subsystem from cfg. cfg must already be defaulted and
// validated. On error, anything already opened is closed.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, logOut: os.Stderr, serveErr: make(chan error, 1)}
	for _, o := range opts {
		o(a)
	}
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"logger", a.initLogger},
		{"metrics", a.initMetrics},
		{"cache", a.initCache},
		{"remote", a.initRemote},
		{"hardware", a.initProber},
		{"registry", a.initRegistry},
		{"loaders", a.initLoaders},
		{"manager", a.initManager},
		{"http", a.initHTTP},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			_ = a.runClosers(context.Background())
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}
	return a, nil
}

func (a *App) initLogger(context.Context) error {
	a.log = logging.New(a.cfg.LogLevel, a.cfg.LogFormat, a.logOut)
	return nil
}

func (a *App) initMetrics(context.Context) error {
	a.promReg = prometheus.NewRegistry()
	a.promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	switch a.cfg.Metrics.Backend {
	case "prometheus":
		p, err := metrics.NewPrometheus(a.promReg)
		if err != nil {
			return err
		}
		a.recorder = p
	case "otel":
		mp, err := metrics.NewPrometheusBridge(a.promReg)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, mp.Shutdown)
		o, err := metrics.NewOTel(mp)
		if err != nil {
			return err
		}
		a.recorder = o
	case "none":
		a.recorder = metrics.Nop{}
	default:
		return fmt.Errorf("unknown metrics backend %q", a.cfg.Metrics.Backend)
	}
	return nil
}

func (a *App) initCache(ctx context.Context) error {
	var backend cache.Backend
	switch a.cfg.Cache.Backend {
	case "redis":
		rb, err := cache.DialRedis(ctx, a.cfg.Cache.RedisURL)
		if rb == nil {
			return err
		}
		if err != nil {
			// The cache soft-fails, so an unreachable server only costs hits.
			a.log.Warn().Err(err).Msg("redis unavailable, continuing without cached results")
		}
		a.closers = append(a.closers, func(context.Context) error { return rb.Close() })
		backend = rb
	case "memory":
		backend = cache.NewMemoryBackend(a.cfg.Cache.MaxEntries)
	case "none":
	default:
		return fmt.Errorf("unknown cache backend %q", a.cfg.Cache.Backend)
	}
	a.cache = cache.New(backend, cache.Options{
		OpTimeout: time.Duration(a.cfg.Cache.OpTimeoutMS) * time.Millisecond,
		Logger:    &a.log,
	})
	return nil
}

func (a *App) initRemote(context.Context) error {
	rc := a.cfg.Remote
	if rc.URL == "" {
		return nil
	}
	backend := remote.NewKServeBackend(remote.KServeConfig{
		BaseURL:          rc.URL,
		InputName:        rc.InputName,
		TextOutput:       rc.TextOutput,
		ConfidenceOutput: rc.ConfidenceOutput,
	})
	a.remote = remote.New(remote.Config{
		Backend:        backend,
		Cache:          a.cache,
		Metrics:        a.recorder,
		MaxConcurrency: rc.MaxConcurrency,
		CallTimeout:    time.Duration(rc.TimeoutSeconds) * time.Second,
		CacheTTL:       time.Duration(rc.CacheTTLSeconds) * time.Second,
		Breaker: resilience.Config{
			Name:         "remote",
			MaxFailures:  rc.FailMax,
			ResetTimeout: time.Duration(rc.ResetTimeoutSeconds) * time.Second,
		},
		Logger: &a.log,
	})
	a.log.Info().Str("url", rc.URL).Int("max_concurrency", rc.MaxConcurrency).Msg("remote inference enabled")
	return nil
}

func (a *App) initProber(context.Context) error {
	if a.prober == nil {
		a.prober = hardware.NewProber()
	}
	return nil
}

func (a *App) initRegistry(context.Context) error {
	r, err := registry.Build(a.cfg.Models)
	if err != nil {
		return err
	}
	a.models = r
	return nil
}

func (a *App) initLoaders(context.Context) error {
	if a.loaders != nil {
		return nil
	}
	pub := manager.NewLogPublisher(a.log.With().Str("component", "events").Logger())
	wc := a.cfg.Worker
	l := manager.Loaders{
		Native: manager.NativeLoaders(a.cfg.Native.WhisperLanguage, a.cfg.Native.LlamaContextSize, a.cfg.Native.LlamaThreads),
		Worker: manager.NewWorkerLoader(manager.WorkerConfig{
			Bin:            wc.Bin,
			Host:           wc.Host,
			PortStart:      wc.PortStart,
			PortEnd:        wc.PortEnd,
			ExtraArgs:      wc.ExtraArgs,
			RequestTimeout: time.Duration(wc.RequestTimeoutSeconds) * time.Second,
			Publisher:      pub,
			Logger:         &a.log,
		}),
	}
	if a.remote != nil {
		l.Remote = manager.NewRemoteLoader(a.remote)
	}
	a.loaders = &l
	return nil
}

func (a *App) initManager(context.Context) error {
	a.manager = manager.New(manager.ManagerConfig{
		Registry:           a.models,
		Loaders:            *a.loaders,
		Prober:             a.prober,
		Cache:              a.cache,
		Metrics:            a.recorder,
		Publisher:          manager.NewLogPublisher(a.log.With().Str("component", "events").Logger()),
		Logger:             &a.log,
		MaxCPUMemory:       uint64(a.cfg.MaxCPUMemoryMB) * mb,
		MaxGPUMemory:       uint64(a.cfg.MaxGPUMemoryMB) * mb,
		EvictIdle:          a.cfg.EvictIdle,
		DrainTimeout:       time.Duration(a.cfg.DrainTimeoutSeconds) * time.Second,
		PreloadConcurrency: a.cfg.PreloadConcurrency,
	})
	a.closers = append(a.closers, a.manager.Cleanup)
	return nil
}

func (a *App) initHTTP(context.Context) error {
	hm, err := httpapi.NewHTTPMetrics(a.promReg)
	if err != nil {
		return err
	}
	opts := httpapi.Options{
		Logger:          &a.log,
		RequestLogLevel: a.cfg.LogLevel,
		Metrics:         hm,
		MetricsHandler:  promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}),
		CORS:            httpapi.CORSOptions{Enabled: a.cfg.CORS.Enabled, Origins: a.cfg.CORS.Origins},
		ActionTimeout:   a.actionTimeout(),
	}
	if a.remote != nil {
		opts.BreakerState = func() string { return a.remote.BreakerState().String() }
	}
	a.handler = httpapi.NewMux(a.manager, opts)
	a.server = &http.Server{Handler: a.handler, ReadHeaderTimeout: readHeaderTimeout}
	a.closers = append(a.closers, a.server.Shutdown)
	return nil
}

// actionTimeout bounds a load or unload request: the slowest load plus a
// full drain.
func (a *App) actionTimeout() time.Duration {
	var longest time.Duration
	for _, d := range a.models.All() {
		if d.LoadTimeout > longest {
			longest = d.LoadTimeout
		}
	}
	return longest + time.Duration(a.cfg.DrainTimeoutSeconds)*time.Second
}

// Start listens on cfg.Addr, serves the ops surface and then initializes
// the manager. Preload failures are logged by the manager, not returned.
func (a *App) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Addr, err)
	}
	a.listener = ln
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serveErr <- err
		}
		close(a.serveErr)
	}()
	a.log.Info().Str("addr", ln.Addr().String()).Int("models", a.models.Len()).Msg("mlserve listening")
	return a.manager.Initialize(ctx)
}

// Wait blocks until ctx is done or the HTTP server fails.
func (a *App) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-a.serveErr:
		return err
	}
}

// Shutdown tears down all subsystems in reverse-init order. Closers keep
// running after a failure; the errors are joined.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.log.Info().Int("closers", len(a.closers)).Msg("shutting down")
		err = a.runClosers(ctx)
		a.log.Info().Msg("shutdown complete")
	})
	return err
}

func (a *App) runClosers(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Warn().Err(err).Int("index", i).Msg("closer error")
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Addr returns the bound listen address once Start has run.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Handler returns the ops HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Manager returns the model manager.
func (a *App) Manager() *manager.Manager { return a.manager }

// Remote returns the remote inference client, or nil when not configured.
func (a *App) Remote() *remote.Client { return a.remote }
