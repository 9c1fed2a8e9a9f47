package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tweag/asset-hashserve/assetserve"
)

const outcomeServed = "served"

// Metrics bundles the prometheus collectors of the server.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	RequestDurationSec *prometheus.HistogramVec
	AssetRequestsTotal *prometheus.CounterVec
	AssetBytesTotal    prometheus.Counter
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asset_hashserve_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		RequestDurationSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asset_hashserve_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		AssetRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asset_hashserve_asset_requests_total",
			Help: "Asset requests by outcome and rejection reason.",
		}, []string{"outcome", "reason"}),
		AssetBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asset_hashserve_asset_bytes_total",
			Help: "Total number of asset body bytes served.",
		}),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDurationSec,
		m.AssetRequestsTotal,
		m.AssetBytesTotal,
	)

	return m
}

// ObserveAssets returns a hook for assetserve.WithObserver.
func (m *Metrics) ObserveAssets() assetserve.Observer {
	return func(outcome assetserve.Outcome) {
		if outcome.Rejection == nil {
			m.AssetRequestsTotal.WithLabelValues(outcomeServed, "").Inc()
			m.AssetBytesTotal.Add(float64(outcome.Size))
			return
		}
		m.AssetRequestsTotal.WithLabelValues(outcome.Rejection.Kind.String(), string(outcome.Rejection.Reason)).Inc()
	}
}

// RegisterAssetCount exports the number of assets currently served.
func (m *Metrics) RegisterAssetCount(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "asset_hashserve_assets",
		Help: "Number of assets in the registry.",
	}, func() float64 {
		return float64(count())
	}))
}

// Handler serves the metrics in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		wrapped := newStatusRecorder(w)

		next.ServeHTTP(wrapped, r)

		status := strconv.Itoa(wrapped.statusCode)
		route := routeOf(r)
		m.RequestsTotal.WithLabelValues(route, r.Method, status).Inc()
		m.RequestDurationSec.WithLabelValues(route, r.Method, status).Observe(time.Since(startedAt).Seconds())
	})
}

// routeOf uses the matched mux pattern to keep label cardinality bounded.
func routeOf(r *http.Request) string {
	if r.Pattern == "" {
		return "other"
	}
	return r.Pattern
}
