package httpx

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// routerMetrics holds the collectors the router reports to /metrics.
type routerMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	inflight  *prometheus.GaugeVec
	throttled *prometheus.CounterVec
	callbacks *prometheus.CounterVec
}

func newRouterMetrics(reg prometheus.Registerer) *routerMetrics {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: "buildor", Subsystem: "api", Name: name, Help: help}
	}
	return &routerMetrics{
		requests: registerOrReuse(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("http_requests_total", "HTTP requests by route and status")),
			[]string{"method", "route", "status"})),
		latency: registerOrReuse(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "buildor",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP handler latency",
			Buckets:   latencyBuckets,
		}, []string{"method", "route", "status"})),
		inflight: registerOrReuse(reg, prometheus.NewGaugeVec(
			prometheus.GaugeOpts(opts("http_requests_in_flight", "Requests currently being served")),
			[]string{"route"})),
		throttled: registerOrReuse(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("rate_limited_total", "Requests rejected by the rate limiter")),
			[]string{"route", "key"})),
		callbacks: registerOrReuse(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("builder_callbacks_total", "Builder callbacks by result")),
			[]string{"result"})),
	}
}

// registerOrReuse registers c, returning the collector already registered under
// the same descriptor when there is one.
func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *routerMetrics) begin(route string) func(method string, status int, elapsed time.Duration) {
	m.inflight.WithLabelValues(route).Inc()
	return func(method string, status int, elapsed time.Duration) {
		m.inflight.WithLabelValues(route).Dec()
		code := strconv.Itoa(status)
		m.requests.WithLabelValues(method, route, code).Inc()
		m.latency.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
	}
}

func (m *routerMetrics) rateLimited(route, key string) {
	m.throttled.WithLabelValues(route, key).Inc()
}

func (m *routerMetrics) callback(result string) {
	m.callbacks.WithLabelValues(result).Inc()
}
