package types

import "time"

// ModelType identifies the family of a model and therefore which loader
// materializes it.
type ModelType string

const (
	ModelTypeSpeechToText    ModelType = "speech-to-text"
	ModelTypeMotionDiffusion ModelType = "motion-diffusion"
	ModelTypeMotionVAE       ModelType = "motion-vae"
	ModelTypeTextGeneration  ModelType = "text-generation"
)

// KnownModelTypes lists every type a loader exists for.
var KnownModelTypes = []ModelType{
	ModelTypeSpeechToText,
	ModelTypeMotionDiffusion,
	ModelTypeMotionVAE,
	ModelTypeTextGeneration,
}

// Valid reports whether t is one of KnownModelTypes.
func (t ModelType) Valid() bool {
	for _, k := range KnownModelTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Runtime selects where a model executes.
type Runtime string

const (
	// RuntimeNative runs the model in-process through CGO bindings.
	RuntimeNative Runtime = "native"
	// RuntimeWorker runs the model in a managed child process.
	RuntimeWorker Runtime = "worker"
	// RuntimeRemote delegates inference to a remote model server.
	RuntimeRemote Runtime = "remote"
)

// Valid reports whether r is a known runtime.
func (r Runtime) Valid() bool {
	switch r {
	case RuntimeNative, RuntimeWorker, RuntimeRemote:
		return true
	}
	return false
}

// DefaultRuntime returns the runtime used when a descriptor leaves it empty.
func DefaultRuntime(t ModelType) Runtime {
	switch t {
	case ModelTypeMotionDiffusion, ModelTypeMotionVAE:
		return RuntimeWorker
	default:
		return RuntimeNative
	}
}

// ModelDescriptor is the static, immutable description of one model.
type ModelDescriptor struct {
	Name    string    `json:"name"`
	Type    ModelType `json:"type"`
	Version string    `json:"version,omitempty"`
	Path    string    `json:"path"`
	// Device preference: auto, cpu, cuda, cuda:N or gpu:N.
	Device      string  `json:"device"`
	Runtime     Runtime `json:"runtime"`
	RemoteModel string  `json:"remote_model,omitempty"`
	Enabled     bool    `json:"enabled"`
	Preload     bool    `json:"preload"`
	// MemoryBudget in bytes. Zero means estimate from the weights on disk.
	MemoryBudget uint64        `json:"memory_budget"`
	CacheResults bool          `json:"cache_results"`
	CacheTTL     time.Duration `json:"cache_ttl"`
	LoadTimeout  time.Duration `json:"load_timeout"`
}

// RemoteName is the model name used against a remote backend.
func (d ModelDescriptor) RemoteName() string {
	if d.RemoteModel != "" {
		return d.RemoteModel
	}
	return d.Name
}

// Status is the lifecycle status of a model's runtime state.
type Status string

const (
	StatusNotLoaded Status = "NOT_LOADED"
	StatusLoading   Status = "LOADING"
	StatusReady     Status = "READY"
	StatusError     Status = "ERROR"
	StatusUnloading Status = "UNLOADING"
)

// Params are caller-supplied prediction parameters.
type Params map[string]any

// String returns the value for key if it is a string.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key].(string)
	return v, ok
}

// Int returns the value for key as an int. JSON numbers decode as float64,
// so both are accepted.
func (p Params) Int(key string) (int, bool) {
	switch v := p[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Float returns the value for key as a float64.
func (p Params) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Result is the output of a single prediction.
type Result struct {
	Text        string         `json:"text,omitempty"`
	Confidence  float64        `json:"confidence,omitempty"`
	Artifact    []byte         `json:"artifact,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}
