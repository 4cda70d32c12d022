package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"mlserve/pkg/types"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	// Process-level memory caps. Zero means only the probed free memory
	// limits admission.
	MaxCPUMemoryMB int  `json:"max_cpu_memory_mb" yaml:"max_cpu_memory_mb" toml:"max_cpu_memory_mb"`
	MaxGPUMemoryMB int  `json:"max_gpu_memory_mb" yaml:"max_gpu_memory_mb" toml:"max_gpu_memory_mb"`
	EvictIdle      bool `json:"evict_idle" yaml:"evict_idle" toml:"evict_idle"`

	DrainTimeoutSeconds int `json:"drain_timeout_seconds" yaml:"drain_timeout_seconds" toml:"drain_timeout_seconds"`
	PreloadConcurrency  int `json:"preload_concurrency" yaml:"preload_concurrency" toml:"preload_concurrency"`

	CORS    CORSConfig    `json:"cors" yaml:"cors" toml:"cors"`
	Worker  WorkerConfig  `json:"worker" yaml:"worker" toml:"worker"`
	Native  NativeConfig  `json:"native" yaml:"native" toml:"native"`
	Cache   CacheConfig   `json:"cache" yaml:"cache" toml:"cache"`
	Remote  RemoteConfig  `json:"remote" yaml:"remote" toml:"remote"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics" toml:"metrics"`

	Models []ModelConfig `json:"models" yaml:"models" toml:"models"`
}

// CORSConfig enables CORS on the ops HTTP surface.
type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
}

// WorkerConfig configures the child process runtime used by worker models.
type WorkerConfig struct {
	Bin                   string   `json:"bin" yaml:"bin" toml:"bin"`
	Host                  string   `json:"host" yaml:"host" toml:"host"`
	PortStart             int      `json:"port_start" yaml:"port_start" toml:"port_start"`
	PortEnd               int      `json:"port_end" yaml:"port_end" toml:"port_end"`
	ExtraArgs             []string `json:"extra_args" yaml:"extra_args" toml:"extra_args"`
	RequestTimeoutSeconds int      `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
}

// NativeConfig tunes the in-process CGO runtimes.
type NativeConfig struct {
	LlamaContextSize int    `json:"llama_context_size" yaml:"llama_context_size" toml:"llama_context_size"`
	LlamaThreads     int    `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`
	WhisperLanguage  string `json:"whisper_language" yaml:"whisper_language" toml:"whisper_language"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	// Backend is one of redis, memory or none.
	Backend     string `json:"backend" yaml:"backend" toml:"backend"`
	RedisURL    string `json:"redis_url" yaml:"redis_url" toml:"redis_url"`
	MaxEntries  int    `json:"max_entries" yaml:"max_entries" toml:"max_entries"`
	OpTimeoutMS int    `json:"op_timeout_ms" yaml:"op_timeout_ms" toml:"op_timeout_ms"`
}

// RemoteConfig configures the remote inference client. An empty URL
// disables it.
type RemoteConfig struct {
	URL                 string `json:"url" yaml:"url" toml:"url"`
	MaxConcurrency      int    `json:"max_concurrency" yaml:"max_concurrency" toml:"max_concurrency"`
	FailMax             int    `json:"fail_max" yaml:"fail_max" toml:"fail_max"`
	ResetTimeoutSeconds int    `json:"reset_timeout_seconds" yaml:"reset_timeout_seconds" toml:"reset_timeout_seconds"`
	TimeoutSeconds      int    `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
	CacheTTLSeconds     int    `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds" toml:"cache_ttl_seconds"`
	InputName           string `json:"input_name" yaml:"input_name" toml:"input_name"`
	TextOutput          string `json:"text_output" yaml:"text_output" toml:"text_output"`
	ConfidenceOutput    string `json:"confidence_output" yaml:"confidence_output" toml:"confidence_output"`
}

// MetricsConfig selects the metrics backend: prometheus, otel or none.
type MetricsConfig struct {
	Backend string `json:"backend" yaml:"backend" toml:"backend"`
}

// ModelConfig is the on-disk form of a model descriptor. Pointer fields
// distinguish "unset" from an explicit false.
type ModelConfig struct {
	Name             string `json:"name" yaml:"name" toml:"name"`
	Type             string `json:"type" yaml:"type" toml:"type"`
	Version          string `json:"version" yaml:"version" toml:"version"`
	Path             string `json:"path" yaml:"path" toml:"path"`
	Device           string `json:"device" yaml:"device" toml:"device"`
	Runtime          string `json:"runtime" yaml:"runtime" toml:"runtime"`
	RemoteModel      string `json:"remote_model" yaml:"remote_model" toml:"remote_model"`
	Enabled          *bool  `json:"enabled" yaml:"enabled" toml:"enabled"`
	Preload          bool   `json:"preload" yaml:"preload" toml:"preload"`
	MaxMemoryMB      int    `json:"max_memory_mb" yaml:"max_memory_mb" toml:"max_memory_mb"`
	TimeoutSeconds   int    `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
	CachePredictions *bool  `json:"cache_predictions" yaml:"cache_predictions" toml:"cache_predictions"`
	CacheTTLSeconds  int    `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds" toml:"cache_ttl_seconds"`
}

const (
	defaultAddr                = ":8080"
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultDrainTimeoutSeconds = 30
	defaultPreloadConcurrency  = 4
	defaultCacheBackend        = "memory"
	defaultCacheOpTimeoutMS    = 250
	defaultRemoteConcurrency   = 8
	defaultRemoteFailMax       = 5
	defaultRemoteResetSeconds  = 30
	defaultRemoteTimeout       = 30
	defaultRemoteCacheTTL      = 1800
	defaultRemoteInputName     = "audio_input"
	defaultRemoteTextOutput    = "transcription"
	defaultRemoteConfOutput    = "confidence"
	defaultMetricsBackend      = "prometheus"
	defaultWorkerHost          = "127.0.0.1"
	defaultWorkerRequestSecs   = 120
	defaultLlamaContextSize    = 2048
	defaultWhisperLanguage     = "auto"

	defaultModelDevice       = "auto"
	defaultModelMaxMemoryMB  = 2048
	defaultModelTimeoutSecs  = 60
	defaultModelCacheTTLSecs = 300
)

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = defaultLogFormat
	}
	if c.DrainTimeoutSeconds == 0 {
		c.DrainTimeoutSeconds = defaultDrainTimeoutSeconds
	}
	if c.PreloadConcurrency == 0 {
		c.PreloadConcurrency = defaultPreloadConcurrency
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = defaultCacheBackend
	}
	if c.Cache.OpTimeoutMS == 0 {
		c.Cache.OpTimeoutMS = defaultCacheOpTimeoutMS
	}
	r := &c.Remote
	if r.MaxConcurrency == 0 {
		r.MaxConcurrency = defaultRemoteConcurrency
	}
	if r.FailMax == 0 {
		r.FailMax = defaultRemoteFailMax
	}
	if r.ResetTimeoutSeconds == 0 {
		r.ResetTimeoutSeconds = defaultRemoteResetSeconds
	}
	if r.TimeoutSeconds == 0 {
		r.TimeoutSeconds = defaultRemoteTimeout
	}
	if r.CacheTTLSeconds == 0 {
		r.CacheTTLSeconds = defaultRemoteCacheTTL
	}
	if r.InputName == "" {
		r.InputName = defaultRemoteInputName
	}
	if r.TextOutput == "" {
		r.TextOutput = defaultRemoteTextOutput
	}
	if r.ConfidenceOutput == "" {
		r.ConfidenceOutput = defaultRemoteConfOutput
	}
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = defaultMetricsBackend
	}
	if c.Worker.Host == "" {
		c.Worker.Host = defaultWorkerHost
	}
	if c.Worker.RequestTimeoutSeconds == 0 {
		c.Worker.RequestTimeoutSeconds = defaultWorkerRequestSecs
	}
	if c.Native.LlamaContextSize == 0 {
		c.Native.LlamaContextSize = defaultLlamaContextSize
	}
	if c.Native.WhisperLanguage == "" {
		c.Native.WhisperLanguage = defaultWhisperLanguage
	}
	for i := range c.Models {
		c.Models[i].applyDefaults()
	}
}

func (m *ModelConfig) applyDefaults() {
	if m.Device == "" {
		m.Device = defaultModelDevice
	}
	if m.Runtime == "" {
		m.Runtime = string(types.DefaultRuntime(types.ModelType(m.Type)))
	}
	if m.Enabled == nil {
		m.Enabled = boolPtr(true)
	}
	if m.MaxMemoryMB == 0 {
		m.MaxMemoryMB = defaultModelMaxMemoryMB
	}
	if m.TimeoutSeconds == 0 {
		m.TimeoutSeconds = defaultModelTimeoutSecs
	}
	if m.CachePredictions == nil {
		m.CachePredictions = boolPtr(true)
	}
	if m.CacheTTLSeconds == 0 {
		m.CacheTTLSeconds = defaultModelCacheTTLSecs
	}
}

func boolPtr(b bool) *bool { return &b }

// ApplyEnv overrides selected fields from MLSERVE_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MLSERVE_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("MLSERVE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("MLSERVE_REDIS_URL"); v != "" {
		c.Cache.RedisURL = v
		c.Cache.Backend = "redis"
	}
	if v := os.Getenv("MLSERVE_REMOTE_URL"); v != "" {
		c.Remote.URL = v
	}
	if v := os.Getenv("MLSERVE_REMOTE_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Remote.MaxConcurrency = n
		}
	}
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Cache.Backend {
	case "memory", "none":
	case "redis":
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("cache: redis backend requires redis_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache: unknown backend %q", c.Cache.Backend))
	}
	switch c.Metrics.Backend {
	case "prometheus", "otel", "none":
	default:
		errs = append(errs, fmt.Errorf("metrics: unknown backend %q", c.Metrics.Backend))
	}
	if c.MaxCPUMemoryMB < 0 || c.MaxGPUMemoryMB < 0 {
		errs = append(errs, errors.New("memory caps must not be negative"))
	}
	if c.Remote.MaxConcurrency < 0 || c.Remote.FailMax < 0 {
		errs = append(errs, errors.New("remote: max_concurrency and fail_max must not be negative"))
	}
	if c.Worker.PortStart > 0 && c.Worker.PortEnd < c.Worker.PortStart {
		errs = append(errs, fmt.Errorf("worker: port range %d-%d is empty", c.Worker.PortStart, c.Worker.PortEnd))
	}

	seen := make(map[string]struct{}, len(c.Models))
	for i, m := range c.Models {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("models[%d]: name is required", i))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("models[%d]: duplicate name %q", i, name))
		}
		seen[name] = struct{}{}
		if !types.ModelType(m.Type).Valid() {
			errs = append(errs, fmt.Errorf("model %q: unknown type %q", name, m.Type))
		}
		rt := types.Runtime(m.Runtime)
		if m.Runtime != "" && !rt.Valid() {
			errs = append(errs, fmt.Errorf("model %q: unknown runtime %q", name, m.Runtime))
		}
		if rt == types.RuntimeRemote && c.Remote.URL == "" {
			errs = append(errs, fmt.Errorf("model %q: remote runtime requires remote.url", name))
		}
		if rt == types.RuntimeWorker && c.Worker.Bin == "" {
			errs = append(errs, fmt.Errorf("model %q: worker runtime requires worker.bin", name))
		}
		if rt != types.RuntimeRemote && m.Path == "" {
			errs = append(errs, fmt.Errorf("model %q: path is required", name))
		}
		if m.MaxMemoryMB < 0 || m.TimeoutSeconds < 0 || m.CacheTTLSeconds < 0 {
			errs = append(errs, fmt.Errorf("model %q: numeric limits must not be negative", name))
		}
	}
	return errors.Join(errs...)
}
