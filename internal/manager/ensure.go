package manager

import (
	"context"
	"errors"
	"time"

	"mlserve/internal/common/fsutil"
	"mlserve/internal/hardware"
	"mlserve/internal/metrics"
	"mlserve/pkg/types"
)

// GetModel returns the handle for name, loading it on first use. A model in
// ERROR is not reloaded: its recorded failure is returned as a load error
// until LoadModel succeeds.
func (m *Manager) GetModel(ctx context.Context, name string) (Handle, error) {
	return m.ensure(ctx, name, false)
}

// LoadModel loads name if it is not READY and returns its handle. It is the
// only way out of ERROR. Concurrent callers for one model share a single
// load and observe its outcome.
func (m *Manager) LoadModel(ctx context.Context, name string) (Handle, error) {
	return m.ensure(ctx, name, true)
}

func (m *Manager) ensure(ctx context.Context, name string, retry bool) (Handle, error) {
	for {
		m.mu.RLock()
		st, ok := m.models[name]
		if !ok {
			m.mu.RUnlock()
			return nil, &UnknownModelError{Name: name}
		}
		if !st.desc.Enabled {
			m.mu.RUnlock()
			return nil, &ModelDisabledError{Name: name}
		}
		if st.status == types.StatusError && !retry {
			err := asLoadError(name, st.lastErr)
			m.mu.RUnlock()
			return nil, err
		}
		m.mu.RUnlock()

		// Upgrade to write lock to re-check and mutate.
		m.mu.Lock()
		switch st.status {
		case types.StatusReady:
			st.lastUsed = time.Now()
			h := st.handle
			m.mu.Unlock()
			return h, nil
		case types.StatusLoading:
			att := st.attempt
			m.mu.Unlock()
			return m.awaitLoad(ctx, st, att)
		case types.StatusUnloading:
			settled := st.settled
			m.mu.Unlock()
			select {
			case <-settled:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		case types.StatusError:
			if !retry {
				err := asLoadError(name, st.lastErr)
				m.mu.Unlock()
				return nil, err
			}
		}
		if m.closed {
			m.mu.Unlock()
			return nil, ErrManagerClosed
		}
		// NOT_LOADED, or ERROR with an explicit retry: this caller starts
		// the load.
		st.status = types.StatusLoading
		st.lastErr = nil
		st.settled = make(chan struct{})
		att := &loadAttempt{done: st.settled}
		st.attempt = att
		m.mu.Unlock()

		go m.load(context.WithoutCancel(ctx), st, att)
		return m.awaitLoad(ctx, st, att)
	}
}

// awaitLoad returns the outcome of att. The state may already have moved on,
// for example to NOT_LOADED after an unload, by the time the caller wakes;
// it still gets the outcome of the load it joined and never starts another.
func (m *Manager) awaitLoad(ctx context.Context, st *modelState, att *loadAttempt) (Handle, error) {
	select {
	case <-att.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if att.err != nil {
		return nil, att.err
	}
	m.mu.Lock()
	if st.attempt == att && st.status == types.StatusReady {
		st.lastUsed = time.Now()
	}
	m.mu.Unlock()
	return att.h, nil
}

// load runs one LOADING transition to completion. It always settles att,
// after metrics and events for the transition are emitted.
func (m *Manager) load(ctx context.Context, st *modelState, att *loadAttempt) {
	desc := st.desc
	name := desc.Name
	start := time.Now()
	m.publisher.Publish(Event{Name: EventLoadStart, Model: name, Fields: map[string]any{"runtime": string(desc.Runtime)}})
	m.log.Info().Str("event", EventLoadStart).Str("model", name).Str("type", string(desc.Type)).Str("runtime", string(desc.Runtime)).Msg("loading model")

	h, dev, err := m.admitAndLoad(ctx, st)
	dur := time.Since(start)
	if err != nil {
		m.failLoad(st, att, err, dur)
		return
	}

	mem := h.MemoryUsage()
	m.mu.Lock()
	st.status = types.StatusReady
	st.handle = h
	st.device = dev
	st.memUsage = mem
	if mem > st.reserved {
		st.reserved = mem
	}
	st.loadDur = dur
	st.lastUsed = time.Now()
	st.lastErr = nil
	att.h = h
	m.loads++
	m.mu.Unlock()

	m.metrics.RecordModelLoad(name, metrics.OutcomeSuccess, dur)
	m.metrics.SetModelMemory(name, mem)
	m.publisher.Publish(Event{Name: EventLoadReady, Model: name, Fields: map[string]any{"device": dev.String(), "memory_bytes": mem, "duration_ms": dur.Milliseconds()}})
	m.log.Info().Str("event", EventLoadReady).Str("model", name).Str("device", dev.String()).Uint64("memory_bytes", mem).Dur("elapsed", dur).Msg("model ready")
	close(att.done)
}

func (m *Manager) failLoad(st *modelState, att *loadAttempt, err error, dur time.Duration) {
	name := st.desc.Name
	err = asLoadError(name, err)
	m.mu.Lock()
	st.status = types.StatusError
	st.handle = nil
	st.reserved = 0
	st.memUsage = 0
	st.lastErr = err
	att.err = err
	m.mu.Unlock()
	defer close(att.done)

	outcome := metrics.OutcomeError
	switch {
	case IsLoadTimeout(err):
		outcome = metrics.OutcomeTimeout
	case IsInsufficientMemory(err):
		outcome = metrics.OutcomeInsufficientMemory
	}
	m.metrics.RecordModelLoad(name, outcome, dur)
	m.publisher.Publish(Event{Name: EventLoadError, Model: name, Fields: map[string]any{"error": err.Error(), "kind": string(KindOf(err))}})
	m.log.Error().Err(err).Str("event", EventLoadError).Str("model", name).Str("kind", string(KindOf(err))).Dur("elapsed", dur).Msg("model load failed")
}

type loadResult struct {
	h   Handle
	err error
}

// admitAndLoad resolves the device, reserves memory and runs the loader.
// The load timeout covers every step, including the hardware probe and any
// eviction, so a hung probe still ends in a ModelLoadTimeoutError.
func (m *Manager) admitAndLoad(ctx context.Context, st *modelState) (Handle, hardware.Device, error) {
	desc := st.desc
	timeout := desc.LoadTimeout
	if timeout <= 0 {
		timeout = defaultLoadTimeout
	}
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	timedOut := func(err error) error {
		if errors.Is(loadCtx.Err(), context.DeadlineExceeded) {
			return &ModelLoadTimeoutError{Name: desc.Name, Timeout: timeout}
		}
		return err
	}

	loader, err := m.loaders.For(desc)
	if err != nil {
		return nil, hardware.Device{}, err
	}

	dev := hardware.Remote
	if desc.Runtime != types.RuntimeRemote {
		pref, err := hardware.ParseDevice(desc.Device)
		if err != nil {
			return nil, hardware.Device{}, err
		}
		info := m.hardwareInfo(loadCtx)
		if err := loadCtx.Err(); err != nil {
			return nil, hardware.Device{}, timedOut(err)
		}
		if dev, err = hardware.Select(pref, info); err != nil {
			return nil, hardware.Device{}, err
		}
		required := desc.MemoryBudget
		if required == 0 {
			if required, err = fsutil.PathSize(desc.Path); err != nil {
				return nil, dev, err
			}
		}
		if err := m.admit(loadCtx, st, dev, required); err != nil {
			return nil, dev, timedOut(err)
		}
	}
	if err := loadCtx.Err(); err != nil {
		return nil, dev, timedOut(err)
	}

	ch := make(chan loadResult, 1)
	go func() {
		h, err := loader.Load(loadCtx, LoadRequest{Descriptor: desc, Device: dev})
		ch <- loadResult{h, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) && loadCtx.Err() != nil {
				return nil, dev, &ModelLoadTimeoutError{Name: desc.Name, Timeout: timeout}
			}
			return nil, dev, r.err
		}
		return r.h, dev, nil
	case <-loadCtx.Done():
		go m.cleanupLate(desc.Name, ch)
		return nil, dev, &ModelLoadTimeoutError{Name: desc.Name, Timeout: timeout}
	}
}

// cleanupLate releases a handle delivered after its load timed out.
func (m *Manager) cleanupLate(name string, ch <-chan loadResult) {
	r := <-ch
	if r.h == nil {
		return
	}
	if err := r.h.Cleanup(); err != nil {
		m.log.Warn().Err(err).Str("model", name).Msg("cleanup of late handle failed")
		return
	}
	m.log.Info().Str("model", name).Msg("late handle released after load timeout")
}
