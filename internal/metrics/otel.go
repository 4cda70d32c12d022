package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// meterName is the instrumentation scope for all mlserve instruments.
const meterName = "mlserve"

// OTel records through the OpenTelemetry metrics API.
type OTel struct {
	loads        metric.Int64Counter
	loadDuration metric.Float64Histogram
	unloads      metric.Int64Counter
	inferences   metric.Int64Counter
	inferLatency metric.Float64Histogram
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
	memory       metric.Int64Gauge
}

// NewOTel creates instruments from mp.
func NewOTel(mp metric.MeterProvider) (*OTel, error) {
	m := mp.Meter(meterName)
	o := &OTel{}
	var err error
	if o.loads, err = m.Int64Counter("mlserve.model.loads",
		metric.WithDescription("Model load attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if o.loadDuration, err = m.Float64Histogram("mlserve.model.load.duration",
		metric.WithDescription("Duration of model loads."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(loadBuckets...),
	); err != nil {
		return nil, err
	}
	if o.unloads, err = m.Int64Counter("mlserve.model.unloads",
		metric.WithDescription("Model unloads by outcome."),
	); err != nil {
		return nil, err
	}
	if o.inferences, err = m.Int64Counter("mlserve.inference.requests",
		metric.WithDescription("Inference requests by outcome."),
	); err != nil {
		return nil, err
	}
	if o.inferLatency, err = m.Float64Histogram("mlserve.inference.duration",
		metric.WithDescription("Duration of inference requests."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if o.cacheHits, err = m.Int64Counter("mlserve.cache.hits",
		metric.WithDescription("Result cache hits."),
	); err != nil {
		return nil, err
	}
	if o.cacheMisses, err = m.Int64Counter("mlserve.cache.misses",
		metric.WithDescription("Result cache misses."),
	); err != nil {
		return nil, err
	}
	if o.memory, err = m.Int64Gauge("mlserve.model.memory",
		metric.WithDescription("Measured memory usage of loaded models."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	return o, nil
}

func attrs(model, outcome string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("model", model), attribute.String("outcome", outcome))
}

func (o *OTel) RecordModelLoad(model, outcome string, d time.Duration) {
	ctx := context.Background()
	o.loads.Add(ctx, 1, attrs(model, outcome))
	o.loadDuration.Record(ctx, d.Seconds(), attrs(model, outcome))
}

func (o *OTel) RecordModelUnload(model, outcome string) {
	o.unloads.Add(context.Background(), 1, attrs(model, outcome))
}

func (o *OTel) RecordInference(model, outcome string, d time.Duration) {
	ctx := context.Background()
	o.inferences.Add(ctx, 1, attrs(model, outcome))
	o.inferLatency.Record(ctx, d.Seconds(), attrs(model, outcome))
}

func (o *OTel) RecordCacheHit(model string) {
	o.cacheHits.Add(context.Background(), 1, metric.WithAttributes(attribute.String("model", model)))
}

func (o *OTel) RecordCacheMiss(model string) {
	o.cacheMisses.Add(context.Background(), 1, metric.WithAttributes(attribute.String("model", model)))
}

func (o *OTel) SetModelMemory(model string, bytes uint64) {
	o.memory.Record(context.Background(), int64(bytes), metric.WithAttributes(attribute.String("model", model)))
}

// NewPrometheusBridge returns a MeterProvider whose instruments are exposed
// through reg, so OTel-recorded metrics are scraped from the same /metrics
// endpoint. Call Shutdown on the provider at exit.
func NewPrometheusBridge(reg prometheus.Registerer) (*sdkmetric.MeterProvider, error) {
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp)), nil
}
