package manager

// Event names published by the manager.
const (
	EventLoadStart   = "load_start"
	EventLoadReady   = "load_ready"
	EventLoadError   = "load_error"
	EventUnloadStart = "unload_start"
	EventUnloadDone  = "unload_done"
	EventEvict       = "evict"
	EventWorkerStart = "worker_start"
	EventWorkerReady = "worker_ready"
	EventWorkerExit  = "worker_exit"
	EventWorkerStop  = "worker_stop"
)

// Event represents a manager lifecycle event.
// Minimal and stable: name + model name and optional fields via key/values.
type Event struct {
	Name   string
	Model  string
	Fields map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

func publisherOrNop(p EventPublisher) EventPublisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}
