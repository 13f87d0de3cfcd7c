// Package metrics instruments the cache tiers and the network fetch path.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	LabelTier    = "tier"
	LabelResult  = "result"
	LabelSuccess = "success"

	TierMemory  = "memory"
	TierStore   = "store"
	TierNetwork = "network"

	ResultHit  = "hit"
	ResultMiss = "miss"
)

// Metrics owns its registry so several caches can live in one process.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	lookups       *prometheus.CounterVec
	storeWrites   *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	rateLimited   prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagecache",
			Name:      "lookups_total",
			Help:      "Cache lookups by tier and result.",
		}, []string{LabelTier, LabelResult}),
		storeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagecache",
			Name:      "store_writes_total",
			Help:      "Writes into a cache tier by outcome.",
		}, []string{LabelTier, LabelSuccess}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imagecache",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of network image loads, in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{LabelSuccess}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imagecache",
			Name:      "rate_limited_total",
			Help:      "Image requests rejected by the rate limiter.",
		}),
	}
	m.registry.MustRegister(m.lookups, m.storeWrites, m.fetchDuration, m.rateLimited)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Lookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := ResultMiss
	if hit {
		result = ResultHit
	}
	m.lookups.WithLabelValues(tier, result).Inc()
}

func (m *Metrics) StoreWrite(tier string, err error) {
	if m == nil {
		return
	}
	m.storeWrites.WithLabelValues(tier, strconv.FormatBool(err == nil)).Inc()
}

func (m *Metrics) ObserveFetch(begin time.Time, err error) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(strconv.FormatBool(err == nil)).Observe(time.Since(begin).Seconds())
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
