package metrics

import (
	"github.com/leighmacdonald/pfp/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

func result(success bool) string {
	if success {
		return "success"
	}

	return "failure"
}

// NoopRecorder is used when metrics are disabled. All methods are safe to call and do nothing.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) RecordCacheLookup(_ model.Platform, _ bool) {}

func (n *NoopRecorder) RecordFetch(_ model.Platform, _ bool) {}

func (n *NoopRecorder) RecordCoalesced(_ model.Platform) {}

func (n *NoopRecorder) RecordNormalize(_ bool, _ float64) {}

func (n *NoopRecorder) RecordUpload(_ bool) {}

func (n *NoopRecorder) SetResident(_ int) {}

type PrometheusRecorder struct {
	cacheLookupsTotal *prometheus.CounterVec
	fetchesTotal      *prometheus.CounterVec
	coalescedTotal    *prometheus.CounterVec
	normalizeTotal    *prometheus.CounterVec
	normalizeSeconds  prometheus.Histogram
	uploadsTotal      *prometheus.CounterVec
	residentAvatars   prometheus.Gauge
}

// NewPrometheusRecorder registers against the default registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	return NewPrometheusRecorderWithRegistry(prometheus.DefaultRegisterer)
}

func NewPrometheusRecorderWithRegistry(reg prometheus.Registerer) *PrometheusRecorder {
	cacheLookupsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pfp_cache_lookups_total",
		Help: "Avatar cache lookups by platform and result",
	}, []string{"platform", "result"})

	fetchesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pfp_fetches_total",
		Help: "Avatar backend fetches by platform and result",
	}, []string{"platform", "result"})

	coalescedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pfp_fetches_coalesced_total",
		Help: "Requests dropped because a fetch for the same key was already in flight",
	}, []string{"platform"})

	normalizeTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pfp_normalize_total",
		Help: "Image normalization attempts",
	}, []string{"result"})

	normalizeSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pfp_normalize_duration_seconds",
		Help:    "Time spent decoding, correcting and encoding avatars",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	uploadsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pfp_uploads_total",
		Help: "Local avatar uploads",
	}, []string{"result"})

	residentAvatars := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pfp_resident_avatars",
		Help: "Avatars currently held in the cache",
	})

	reg.MustRegister(
		cacheLookupsTotal,
		fetchesTotal,
		coalescedTotal,
		normalizeTotal,
		normalizeSeconds,
		uploadsTotal,
		residentAvatars,
	)

	return &PrometheusRecorder{
		cacheLookupsTotal: cacheLookupsTotal,
		fetchesTotal:      fetchesTotal,
		coalescedTotal:    coalescedTotal,
		normalizeTotal:    normalizeTotal,
		normalizeSeconds:  normalizeSeconds,
		uploadsTotal:      uploadsTotal,
		residentAvatars:   residentAvatars,
	}
}

func (p *PrometheusRecorder) RecordCacheLookup(platform model.Platform, hit bool) {
	lookup := "miss"
	if hit {
		lookup = "hit"
	}

	p.cacheLookupsTotal.WithLabelValues(platform.String(), lookup).Inc()
}

func (p *PrometheusRecorder) RecordFetch(platform model.Platform, success bool) {
	p.fetchesTotal.WithLabelValues(platform.String(), result(success)).Inc()
}

func (p *PrometheusRecorder) RecordCoalesced(platform model.Platform) {
	p.coalescedTotal.WithLabelValues(platform.String()).Inc()
}

func (p *PrometheusRecorder) RecordNormalize(success bool, seconds float64) {
	p.normalizeTotal.WithLabelValues(result(success)).Inc()
	p.normalizeSeconds.Observe(seconds)
}

func (p *PrometheusRecorder) RecordUpload(success bool) {
	p.uploadsTotal.WithLabelValues(result(success)).Inc()
}

func (p *PrometheusRecorder) SetResident(count int) {
	p.residentAvatars.Set(float64(count))
}
