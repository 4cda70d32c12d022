package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mlserve/internal/cache"
	"mlserve/internal/hardware"
	"mlserve/internal/logging"
	"mlserve/internal/metrics"
	"mlserve/pkg/types"
)

type Manager struct {
	mu     sync.RWMutex
	models map[string]*modelState
	names  []string

	loaders   Loaders
	prober    HardwareProber
	cache     *cache.Cache
	metrics   metrics.Recorder
	publisher EventPublisher
	log       zerolog.Logger

	maxCPUMemory       uint64
	maxGPUMemory       uint64
	evictIdle          bool
	drainTimeout       time.Duration
	preloadConcurrency int

	// Guarded by mu.
	hw          hardware.Info
	hwProbed    bool
	initialized bool
	closed      bool
	loads       uint64
	unloads     uint64
	evictions   uint64

	initMu    sync.Mutex
	startTime time.Time
}

// New constructs a Manager with one NOT_LOADED state per registry entry.
// Nothing is probed or loaded until Initialize or the first request.
func New(cfg ManagerConfig) *Manager {
	m := &Manager{
		models:             make(map[string]*modelState),
		loaders:            cfg.Loaders,
		prober:             cfg.Prober,
		cache:              cfg.Cache,
		metrics:            metrics.Safe(cfg.Metrics, cfg.Logger),
		publisher:          publisherOrNop(cfg.Publisher),
		log:                logging.OrNop(cfg.Logger).With().Str("component", "manager").Logger(),
		maxCPUMemory:       cfg.MaxCPUMemory,
		maxGPUMemory:       cfg.MaxGPUMemory,
		evictIdle:          cfg.EvictIdle,
		drainTimeout:       cfg.DrainTimeout,
		preloadConcurrency: cfg.PreloadConcurrency,
		startTime:          time.Now(),
	}
	if m.drainTimeout <= 0 {
		m.drainTimeout = defaultDrainTimeout
	}
	if m.preloadConcurrency <= 0 {
		m.preloadConcurrency = defaultPreloadConcurrency
	}
	if m.prober == nil {
		m.prober = hardware.NewProber()
	}
	if cfg.Registry != nil {
		for _, d := range cfg.Registry.All() {
			m.models[d.Name] = &modelState{desc: d, status: types.StatusNotLoaded}
			m.names = append(m.names, d.Name)
		}
	}
	return m
}

// Initialize probes hardware once and preloads every enabled model flagged
// Preload, concurrently. A failed preload leaves that model in ERROR and is
// only logged. Calling Initialize again is a no-op; concurrent callers block
// until the first call finishes.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	m.mu.RLock()
	done := m.initialized
	m.mu.RUnlock()
	if done {
		return nil
	}

	m.probeHardware(ctx)

	var preload []string
	for _, name := range m.names {
		d := m.models[name].desc
		if d.Enabled && d.Preload {
			preload = append(preload, name)
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.preloadConcurrency)
	for _, name := range preload {
		g.Go(func() error {
			if _, err := m.LoadModel(gctx, name); err != nil {
				m.log.Error().Err(err).Str("model", name).Str("kind", string(KindOf(err))).Msg("preload failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	m.log.Info().Int("models", len(m.names)).Int("preloaded", len(preload)).Msg("model manager initialized")
	return nil
}

// probeHardware caches the probe result. A probe cut short by ctx is not
// cached, so the next caller probes again.
func (m *Manager) probeHardware(ctx context.Context) hardware.Info {
	info, err := m.prober.Probe(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("hardware probe incomplete")
	}
	if ctx.Err() != nil {
		return info
	}
	m.mu.Lock()
	m.hw = info
	m.hwProbed = true
	m.mu.Unlock()
	gpus := make([]string, 0, len(info.GPUs))
	for _, g := range info.GPUs {
		gpus = append(gpus, g.Name)
	}
	m.log.Info().Int("logical_cpus", info.LogicalCPUs).Uint64("memory_bytes", info.TotalMemory).Strs("gpus", gpus).Msg("hardware probed")
	return info
}

// hardwareInfo returns the cached probe, probing lazily when Initialize has
// not run.
func (m *Manager) hardwareInfo(ctx context.Context) hardware.Info {
	m.mu.RLock()
	info, ok := m.hw, m.hwProbed
	m.mu.RUnlock()
	if ok {
		return info
	}
	return m.probeHardware(ctx)
}

// Ready reports whether Initialize has completed and Cleanup has not begun.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized && !m.closed
}

// Descriptor returns the descriptor registered under name.
func (m *Manager) Descriptor(name string) (types.ModelDescriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.models[name]
	if !ok {
		return types.ModelDescriptor{}, false
	}
	return st.desc, true
}

// ModelStatus returns the current lifecycle status of name.
func (m *Manager) ModelStatus(name string) (types.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.models[name]
	if !ok {
		return "", &UnknownModelError{Name: name}
	}
	return st.status, nil
}
