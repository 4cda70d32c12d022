package manager

import (
	"time"

	"mlserve/internal/hardware"
	"mlserve/pkg/types"
)

// modelState is the mutable runtime state of one descriptor. All fields are
// guarded by Manager.mu. handle is non-nil iff status is READY or UNLOADING.
type modelState struct {
	desc   types.ModelDescriptor
	status types.Status
	handle Handle
	device hardware.Device

	// reserved is the admitted byte count, held while LOADING or READY.
	reserved uint64
	memUsage uint64
	loadDur  time.Duration
	lastUsed time.Time
	lastErr  error
	inflight int

	// settled is closed when the current LOADING or UNLOADING transition
	// finishes. Waiters re-check status afterwards.
	settled chan struct{}
	// attempt is the most recent load. While LOADING, attempt.done is settled.
	attempt *loadAttempt
}

// loadAttempt carries the outcome of one LOADING transition to every caller
// that started or waited on it. h and err are set before done is closed.
type loadAttempt struct {
	done chan struct{}
	h    Handle
	err  error
}

func (s *modelState) busy() bool {
	return s.status == types.StatusLoading || s.status == types.StatusUnloading
}

// holdsMemory reports whether the state counts against device memory.
func (s *modelState) holdsMemory() bool {
	switch s.status {
	case types.StatusLoading, types.StatusReady, types.StatusUnloading:
		return true
	}
	return false
}
