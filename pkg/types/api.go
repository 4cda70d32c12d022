package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: model not found: whisper
	Error string `json:"error" example:"model not found: whisper"`
	// Machine-readable error kind.
	// example: unknown_model
	Kind string `json:"kind,omitempty" example:"unknown_model"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}

// ModelInfo summarizes a configured model for GET /models.
type ModelInfo struct {
	// example: whisper
	Name string `json:"name" example:"whisper"`
	// example: speech-to-text
	Type ModelType `json:"type" example:"speech-to-text"`
	// example: base.en
	Version string `json:"version,omitempty" example:"base.en"`
	// example: native
	Runtime Runtime `json:"runtime" example:"native"`
	// example: auto
	Device  string `json:"device" example:"auto"`
	Enabled bool   `json:"enabled" example:"true"`
	Preload bool   `json:"preload" example:"false"`
	// example: READY
	Status Status `json:"status" example:"READY"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ModelActionResponse is returned by the load and unload endpoints.
type ModelActionResponse struct {
	// example: whisper
	Name string `json:"name" example:"whisper"`
	// example: READY
	Status Status `json:"status" example:"READY"`
}

// ModelStatus summarizes one runtime state for /status.
type ModelStatus struct {
	// example: whisper
	Name string `json:"name" example:"whisper"`
	// example: speech-to-text
	Type ModelType `json:"type" example:"speech-to-text"`
	// Current lifecycle status.
	// example: READY
	Status Status `json:"status" example:"READY"`
	// Device the model was placed on when loaded.
	// example: cuda:0
	Device string `json:"device,omitempty" example:"cuda:0"`
	// Measured memory usage in bytes.
	// example: 147964211
	MemoryBytes uint64 `json:"memory_bytes" example:"147964211"`
	// Duration of the last successful load in milliseconds.
	// example: 1840
	LoadMillis int64 `json:"load_ms" example:"1840"`
	// Last time this model served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix,omitempty" example:"1700000000"`
	// Number of predictions currently running.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Last load or unload error, if any.
	LastError string `json:"last_error,omitempty"`
}

// GPUStatus describes one accelerator.
type GPUStatus struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	TotalMemory uint64 `json:"total_memory"`
	FreeMemory  uint64 `json:"free_memory"`
}

// HardwareStatus summarizes the last hardware probe.
type HardwareStatus struct {
	LogicalCPUs     int         `json:"logical_cpus"`
	PhysicalCPUs    int         `json:"physical_cpus"`
	TotalMemory     uint64      `json:"total_memory"`
	AvailableMemory uint64      `json:"available_memory"`
	GPUs            []GPUStatus `json:"gpus,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Models   []ModelStatus  `json:"models"`
	Hardware HardwareStatus `json:"hardware"`
	// Bytes reserved by loading and loaded models.
	// example: 2147483648
	ReservedBytes uint64 `json:"reserved_bytes" example:"2147483648"`
	// State of the remote inference circuit breaker, when configured.
	// example: closed
	RemoteBreaker string `json:"remote_breaker,omitempty" example:"closed"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// example: 4
	UnloadsTotal uint64 `json:"unloads_total" example:"4"`
	// example: 1
	EvictionsTotal uint64 `json:"evictions_total" example:"1"`
	// Overall manager state: initializing, ready or closed.
	// example: ready
	State string `json:"state" example:"ready"`
}
