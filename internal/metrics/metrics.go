package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Resolution outcomes.
const (
	OutcomeFresh  = "fresh"
	OutcomeCached = "cached"
	OutcomeFailed = "failed"
)

var (
	Resolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_resolutions_total",
		Help: "Completed product resolutions by outcome",
	}, []string{"outcome"})

	FetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_fetch_duration_seconds",
		Help:    "Latency of product list fetches",
		Buckets: prometheus.ExponentialBuckets(0.005, 2.0, 14),
	})

	CacheWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_cache_writes_total",
		Help: "Cache entry writes by result",
	}, []string{"result"})

	Offline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_offline",
		Help: "1 when the last connectivity check failed",
	})

	Products = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_products",
		Help: "Number of products currently served",
	})
)

func init() {
	prometheus.MustRegister(Resolutions)
	prometheus.MustRegister(FetchDuration)
	prometheus.MustRegister(CacheWrites)
	prometheus.MustRegister(Offline)
	prometheus.MustRegister(Products)
}

func IncResolution(outcome string) {
	Resolutions.WithLabelValues(outcome).Inc()
}

func ObserveFetch(d time.Duration) {
	FetchDuration.Observe(d.Seconds())
}

func IncCacheWrite(ok bool) {
	if ok {
		CacheWrites.WithLabelValues("ok").Inc()
		return
	}
	CacheWrites.WithLabelValues("error").Inc()
}

func SetOffline(offline bool) {
	if offline {
		Offline.Set(1)
		return
	}
	Offline.Set(0)
}

func SetProducts(n int) {
	Products.Set(float64(n))
}
