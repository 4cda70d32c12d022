// Package metrics is the metrics collaborator for model lifecycle, inference
// and cache events. Implementations exist for Prometheus and OpenTelemetry;
// Safe wraps any of them so a misbehaving recorder cannot fail the caller.
package metrics

import (
	"time"

	"github.com/rs/zerolog"

	"mlserve/internal/logging"
)

// Outcome label values.
const (
	OutcomeSuccess            = "success"
	OutcomeError              = "error"
	OutcomeTimeout            = "timeout"
	OutcomeInsufficientMemory = "insufficient_memory"
	OutcomeCircuitOpen        = "circuit_open"
	OutcomeCanceled           = "canceled"
)

// Recorder receives model lifecycle, inference and cache events.
type Recorder interface {
	RecordModelLoad(model, outcome string, d time.Duration)
	RecordModelUnload(model, outcome string)
	RecordInference(model, outcome string, d time.Duration)
	RecordCacheHit(model string)
	RecordCacheMiss(model string)
	SetModelMemory(model string, bytes uint64)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordModelLoad(string, string, time.Duration) {}
func (Nop) RecordModelUnload(string, string)              {}
func (Nop) RecordInference(string, string, time.Duration) {}
func (Nop) RecordCacheHit(string)                         {}
func (Nop) RecordCacheMiss(string)                        {}
func (Nop) SetModelMemory(string, uint64)                 {}

type safe struct {
	next Recorder
	log  zerolog.Logger
}

// Safe returns a Recorder that recovers and logs panics from r. A nil r
// yields Nop.
func Safe(r Recorder, log *zerolog.Logger) Recorder {
	if r == nil {
		return Nop{}
	}
	if s, ok := r.(*safe); ok {
		return s
	}
	return &safe{next: r, log: logging.OrNop(log)}
}

func (s *safe) guard(op, model string) {
	if rec := recover(); rec != nil {
		s.log.Warn().Str("op", op).Str("model", model).Interface("panic", rec).Msg("metrics recorder failed")
	}
}

func (s *safe) RecordModelLoad(model, outcome string, d time.Duration) {
	defer s.guard("record_model_load", model)
	s.next.RecordModelLoad(model, outcome, d)
}

func (s *safe) RecordModelUnload(model, outcome string) {
	defer s.guard("record_model_unload", model)
	s.next.RecordModelUnload(model, outcome)
}

func (s *safe) RecordInference(model, outcome string, d time.Duration) {
	defer s.guard("record_inference", model)
	s.next.RecordInference(model, outcome, d)
}

func (s *safe) RecordCacheHit(model string) {
	defer s.guard("record_cache_hit", model)
	s.next.RecordCacheHit(model)
}

func (s *safe) RecordCacheMiss(model string) {
	defer s.guard("record_cache_miss", model)
	s.next.RecordCacheMiss(model)
}

func (s *safe) SetModelMemory(model string, bytes uint64) {
	defer s.guard("set_model_memory", model)
	s.next.SetModelMemory(model, bytes)
}
