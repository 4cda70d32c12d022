package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mlserve/internal/metrics"
	"mlserve/pkg/types"
)

// UnloadModel releases a READY model and returns it to NOT_LOADED.
//   - NOT_LOADED and ERROR are no-ops.
//   - A LOADING model is waited for first, then unloaded.
//   - In-flight predictions get up to the drain timeout to finish.
//   - A failed Handle.Cleanup leaves the model in ERROR with the handle
//     released.
func (m *Manager) UnloadModel(ctx context.Context, name string) error {
	for {
		m.mu.Lock()
		st, ok := m.models[name]
		if !ok {
			m.mu.Unlock()
			return &UnknownModelError{Name: name}
		}
		switch st.status {
		case types.StatusNotLoaded, types.StatusError:
			m.mu.Unlock()
			return nil
		case types.StatusLoading, types.StatusUnloading:
			settled := st.settled
			m.mu.Unlock()
			select {
			case <-settled:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		h := m.beginUnloadLocked(st)
		m.mu.Unlock()
		return m.finishUnload(ctx, st, h)
	}
}

// beginUnloadLocked moves a READY state to UNLOADING. New predictions are
// refused from here on.
func (m *Manager) beginUnloadLocked(st *modelState) Handle {
	st.status = types.StatusUnloading
	st.settled = make(chan struct{})
	return st.handle
}

// finishUnload drains, releases the handle and settles st.
func (m *Manager) finishUnload(ctx context.Context, st *modelState, h Handle) error {
	name := st.desc.Name
	m.publisher.Publish(Event{Name: EventUnloadStart, Model: name, Fields: map[string]any{}})
	m.drain(ctx, st)

	var err error
	if h != nil {
		err = h.Cleanup()
	}

	m.mu.Lock()
	st.handle = nil
	st.reserved = 0
	st.memUsage = 0
	if err != nil {
		st.status = types.StatusError
		st.lastErr = fmt.Errorf("cleanup: %w", err)
	} else {
		st.status = types.StatusNotLoaded
		st.lastErr = nil
	}
	m.unloads++
	settled := st.settled
	m.mu.Unlock()
	defer close(settled)

	m.metrics.SetModelMemory(name, 0)
	if err != nil {
		m.metrics.RecordModelUnload(name, metrics.OutcomeError)
		m.publisher.Publish(Event{Name: EventUnloadDone, Model: name, Fields: map[string]any{"error": err.Error()}})
		m.log.Error().Err(err).Str("event", EventUnloadDone).Str("model", name).Msg("model cleanup failed")
		return fmt.Errorf("unload %s: %w", name, err)
	}
	m.metrics.RecordModelUnload(name, metrics.OutcomeSuccess)
	m.publisher.Publish(Event{Name: EventUnloadDone, Model: name, Fields: map[string]any{}})
	m.log.Info().Str("event", EventUnloadDone).Str("model", name).Msg("model unloaded")
	return nil
}

// drain waits for in-flight predictions on st, bounded by the drain timeout
// and ctx.
func (m *Manager) drain(ctx context.Context, st *modelState) {
	deadline := time.Now().Add(m.drainTimeout)
	for {
		m.mu.RLock()
		inflight := st.inflight
		m.mu.RUnlock()
		if inflight == 0 {
			return
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			m.log.Warn().Str("model", st.desc.Name).Int("inflight", inflight).Msg("drain timeout; unloading with predictions in flight")
			return
		}
		time.Sleep(drainPollInterval)
	}
}

// Cleanup shuts the manager down: new loads fail with ErrManagerClosed,
// in-flight loads are waited for and every READY model is unloaded. It
// returns the joined cleanup failures.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	var errs []error
	for _, name := range m.names {
		if err := m.UnloadModel(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	m.log.Info().Int("errors", len(errs)).Msg("model manager closed")
	return errors.Join(errs...)
}
