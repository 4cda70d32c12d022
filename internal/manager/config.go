package manager

import (
	"time"

	"github.com/rs/zerolog"

	"mlserve/internal/cache"
	"mlserve/internal/metrics"
	"mlserve/internal/registry"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultDrainTimeout       = 30 * time.Second
	defaultPreloadConcurrency = 4
	defaultLoadTimeout        = 60 * time.Second
	drainPollInterval         = 10 * time.Millisecond
)

// ManagerConfig encapsulates all collaborators and tunables for New.
type ManagerConfig struct {
	Registry  *registry.Registry
	Loaders   Loaders
	Prober    HardwareProber
	Cache     *cache.Cache
	Metrics   metrics.Recorder
	Publisher EventPublisher
	Logger    *zerolog.Logger

	// Process-wide memory caps in bytes. Zero means only the probed
	// device memory bounds admission.
	MaxCPUMemory uint64
	MaxGPUMemory uint64
	// EvictIdle unloads least-recently-used idle models to make room.
	EvictIdle bool

	DrainTimeout       time.Duration
	PreloadConcurrency int
}
