package manager

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"mlserve/internal/cache"
	"mlserve/internal/metrics"
	"mlserve/internal/remote"
	"mlserve/pkg/types"
)

// Predict runs name on input, loading the model if needed. With result
// caching enabled an identical (input, params) pair is served from the
// cache without invoking the model. Remote failures are returned as-is;
// every other model failure is an *InferenceError. The model stays READY
// either way. Remote-runtime results are cached by the remote client under
// its own key, so the prediction cache is not consulted for them.
func (m *Manager) Predict(ctx context.Context, name string, input []byte, params types.Params) (types.Result, error) {
	if _, err := m.GetModel(ctx, name); err != nil {
		return types.Result{}, err
	}
	desc, _ := m.Descriptor(name)

	var key string
	if desc.CacheResults && desc.Runtime != types.RuntimeRemote && m.cache != nil {
		k, err := cache.Key(cache.PrefixPrediction, name, input, params)
		if err != nil {
			m.log.Warn().Err(err).Str("model", name).Msg("prediction cache key unavailable; bypassing cache")
		} else {
			key = k
			if raw, ok := m.cache.Get(ctx, key); ok {
				var res types.Result
				if err := json.Unmarshal(raw, &res); err == nil {
					m.metrics.RecordCacheHit(name)
					return res, nil
				}
				m.log.Warn().Str("model", name).Str("key", key).Msg("undecodable cache entry ignored")
			}
			m.metrics.RecordCacheMiss(name)
		}
	}

	h, release, err := m.acquire(ctx, name)
	if err != nil {
		return types.Result{}, err
	}
	start := time.Now()
	res, err := h.Predict(ctx, input, params)
	release()
	dur := time.Since(start)

	// The remote client records its own inference metrics.
	record := desc.Runtime != types.RuntimeRemote
	if err != nil {
		if remote.IsRemoteInference(err) || remote.IsCircuitOpen(err) {
			return types.Result{}, err
		}
		if record {
			outcome := metrics.OutcomeError
			if errors.Is(err, context.DeadlineExceeded) {
				outcome = metrics.OutcomeTimeout
			}
			m.metrics.RecordInference(name, outcome, dur)
		}
		m.log.Warn().Err(err).Str("model", name).Dur("elapsed", dur).Msg("inference failed")
		return types.Result{}, &InferenceError{Name: name, Err: err}
	}
	if record {
		m.metrics.RecordInference(name, metrics.OutcomeSuccess, dur)
	}

	if key != "" {
		if raw, err := json.Marshal(res); err == nil {
			m.cache.Set(ctx, key, raw, desc.CacheTTL)
		}
	}
	return res, nil
}

// acquire takes an in-flight slot on a READY model. If the model left READY
// between GetModel and here it is ensured again.
func (m *Manager) acquire(ctx context.Context, name string) (Handle, func(), error) {
	for {
		m.mu.Lock()
		st := m.models[name]
		if st.status == types.StatusReady {
			st.inflight++
			st.lastUsed = time.Now()
			h := st.handle
			m.mu.Unlock()
			return h, func() {
				m.mu.Lock()
				st.inflight--
				m.mu.Unlock()
			}, nil
		}
		m.mu.Unlock()
		if _, err := m.GetModel(ctx, name); err != nil {
			return nil, nil, err
		}
	}
}
