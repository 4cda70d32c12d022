package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mlserve"

// loadBuckets spans sub-second cache hits to multi-minute model loads.
var loadBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// Prometheus records to client_golang collectors.
type Prometheus struct {
	loads        *prometheus.CounterVec
	loadDuration *prometheus.HistogramVec
	unloads      *prometheus.CounterVec
	inferences   *prometheus.CounterVec
	inferLatency *prometheus.HistogramVec
	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec
	memory       *prometheus.GaugeVec
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "model", Name: "loads_total",
			Help: "Model load attempts by outcome",
		}, []string{"model", "outcome"}),
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "model", Name: "load_duration_seconds",
			Help: "Duration of model loads in seconds", Buckets: loadBuckets,
		}, []string{"model", "outcome"}),
		unloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "model", Name: "unloads_total",
			Help: "Model unloads by outcome",
		}, []string{"model", "outcome"}),
		inferences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "inference", Name: "requests_total",
			Help: "Inference requests by outcome",
		}, []string{"model", "outcome"}),
		inferLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "inference", Name: "duration_seconds",
			Help: "Duration of inference requests in seconds", Buckets: prometheus.DefBuckets,
		}, []string{"model", "outcome"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Result cache hits",
		}, []string{"model"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Result cache misses",
		}, []string{"model"}),
		memory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "model", Name: "memory_bytes",
			Help: "Measured memory usage of loaded models",
		}, []string{"model"}),
	}
	for _, c := range []prometheus.Collector{p.loads, p.loadDuration, p.unloads, p.inferences, p.inferLatency, p.cacheHits, p.cacheMisses, p.memory} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) RecordModelLoad(model, outcome string, d time.Duration) {
	p.loads.WithLabelValues(model, outcome).Inc()
	p.loadDuration.WithLabelValues(model, outcome).Observe(d.Seconds())
}

func (p *Prometheus) RecordModelUnload(model, outcome string) {
	p.unloads.WithLabelValues(model, outcome).Inc()
}

func (p *Prometheus) RecordInference(model, outcome string, d time.Duration) {
	p.inferences.WithLabelValues(model, outcome).Inc()
	p.inferLatency.WithLabelValues(model, outcome).Observe(d.Seconds())
}

func (p *Prometheus) RecordCacheHit(model string)  { p.cacheHits.WithLabelValues(model).Inc() }
func (p *Prometheus) RecordCacheMiss(model string) { p.cacheMisses.WithLabelValues(model).Inc() }

func (p *Prometheus) SetModelMemory(model string, bytes uint64) {
	p.memory.WithLabelValues(model).Set(float64(bytes))
}
