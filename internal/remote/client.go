// Package remote delegates inference to an out-of-process model server.
//
// Client.Infer consults the result cache first. On a miss it waits for one
// of MaxConcurrency slots and calls the backend through a circuit breaker.
// Callers block for a slot rather than being dropped.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"mlserve/internal/cache"
	"mlserve/internal/logging"
	"mlserve/internal/metrics"
	"mlserve/internal/resilience"
	"mlserve/pkg/types"
)

const (
	defaultMaxConcurrency = 8
	defaultCallTimeout    = 30 * time.Second
	defaultCacheTTL       = 30 * time.Minute
)

// Request is one inference call against the backend.
type Request struct {
	Model   string
	Version string
	Input   []byte
	Params  types.Params
}

// Backend is a remote model server.
type Backend interface {
	Infer(ctx context.Context, req Request) (types.Result, error)
	Ready(ctx context.Context, model string) error
}

// Config configures a Client.
type Config struct {
	Backend        Backend
	Cache          *cache.Cache
	Metrics        metrics.Recorder
	MaxConcurrency int
	CallTimeout    time.Duration
	CacheTTL       time.Duration
	Breaker        resilience.Config
	Logger         *zerolog.Logger
}

// Client is safe for concurrent use.
type Client struct {
	backend     Backend
	cache       *cache.Cache
	metrics     metrics.Recorder
	sem         *semaphore.Weighted
	breaker     *resilience.CircuitBreaker
	callTimeout time.Duration
	cacheTTL    time.Duration
	log         zerolog.Logger
}

// New builds a Client. Zero-valued limits take the defaults: 8 slots, 30s
// per call, 30m cache TTL.
func New(cfg Config) *Client {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "remote"
	}
	if cfg.Breaker.Logger == nil {
		cfg.Breaker.Logger = cfg.Logger
	}
	return &Client{
		backend:     cfg.Backend,
		cache:       cfg.Cache,
		metrics:     metrics.Safe(cfg.Metrics, cfg.Logger),
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		breaker:     resilience.New(cfg.Breaker),
		callTimeout: cfg.CallTimeout,
		cacheTTL:    cfg.CacheTTL,
		log:         logging.OrNop(cfg.Logger),
	}
}

// Infer runs model on input. Failures are *RemoteInferenceError, or
// *CircuitOpenError when the breaker rejected the call.
func (c *Client) Infer(ctx context.Context, model string, input []byte, params types.Params) (types.Result, error) {
	return c.InferVersion(ctx, model, "", input, params)
}

// InferVersion is Infer against a specific model version.
func (c *Client) InferVersion(ctx context.Context, model, version string, input []byte, params types.Params) (types.Result, error) {
	key, keyErr := cache.Key(cache.PrefixRemote, model, input, params)
	if keyErr != nil {
		c.log.Warn().Err(keyErr).Str("model", model).Msg("remote cache key unavailable; bypassing cache")
	} else if raw, ok := c.cache.Get(ctx, key); ok {
		var res types.Result
		if err := json.Unmarshal(raw, &res); err == nil {
			c.metrics.RecordCacheHit(model)
			return res, nil
		}
		c.log.Warn().Str("model", model).Str("key", key).Msg("undecodable remote cache entry ignored")
	}
	if keyErr == nil {
		c.metrics.RecordCacheMiss(model)
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.metrics.RecordInference(model, metrics.OutcomeCanceled, 0)
		return types.Result{}, &RemoteInferenceError{Model: model, Err: err}
	}
	defer c.sem.Release(1)

	start := time.Now()
	var res types.Result
	err := c.breaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
		var callErr error
		res, callErr = c.backend.Infer(callCtx, Request{Model: model, Version: version, Input: input, Params: params})
		return callErr
	})
	dur := time.Since(start)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.metrics.RecordInference(model, metrics.OutcomeCircuitOpen, 0)
		return types.Result{}, &CircuitOpenError{Model: model, RetryAfter: c.breaker.RetryAfter()}
	}
	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = metrics.OutcomeTimeout
		}
		c.metrics.RecordInference(model, outcome, dur)
		c.log.Warn().Err(err).Str("model", model).Dur("elapsed", dur).Msg("remote inference failed")
		return types.Result{}, &RemoteInferenceError{Model: model, Err: err}
	}
	c.metrics.RecordInference(model, metrics.OutcomeSuccess, dur)

	if keyErr == nil {
		if raw, err := json.Marshal(res); err == nil {
			c.cache.Set(ctx, key, raw, c.cacheTTL)
		}
	}
	return res, nil
}

// Ready checks that the backend serves model. It bypasses the breaker and
// the slot limit.
func (c *Client) Ready(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	if err := c.backend.Ready(ctx, model); err != nil {
		return &RemoteInferenceError{Model: model, Err: err}
	}
	return nil
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() resilience.State { return c.breaker.State() }
