package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records engine outcomes and HTTP traffic on its own registry, so
// several instances (one per test) never collide on the global one.
// Implements rewards.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	contributions *prometheus.CounterVec
	pointsAwarded *prometheus.CounterVec
	pointsCapped  *prometheus.CounterVec
	distributed   prometheus.Counter
	claims        *prometheus.CounterVec
	period        prometheus.Gauge
	reserve       prometheus.Gauge
	pool          prometheus.Gauge
	failures      *prometheus.CounterVec

	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// NewMetrics creates the collectors under the given namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "rewards"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		contributions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contributions_total",
			Help:      "Count of recorded contributions by type.",
		}, []string{"type"}),
		pointsAwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_awarded_total",
			Help:      "Points awarded after caps, by type.",
		}, []string{"type"}),
		pointsCapped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_capped_total",
			Help:      "Points withheld by a cap, by type and cap.",
		}, []string{"type", "cap"}),
		distributed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_distributed_total",
			Help:      "Tokens released to contributors.",
		}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Successful claims, split by whether tokens were released.",
		}, []string{"outcome"}),
		period: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_period",
			Help:      "Active period number.",
		}),
		reserve: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reserve_balance",
			Help:      "Tokens held in reserve.",
		}),
		pool: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "period_pool",
			Help:      "Distributable pool of the active period.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Failed engine operations by operation and error kind.",
		}, []string{"op", "kind"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests processed by the API.",
		}, []string{"route", "method", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	m.registry.MustRegister(
		m.contributions, m.pointsAwarded, m.pointsCapped,
		m.distributed, m.claims, m.period, m.reserve, m.pool, m.failures,
		m.requests, m.durations,
	)
	return m
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveContribution(contributionType string, base, awarded uint64, cappedBy string) {
	if m == nil {
		return
	}
	if contributionType == "" {
		contributionType = "unknown"
	}
	m.contributions.WithLabelValues(contributionType).Inc()
	m.pointsAwarded.WithLabelValues(contributionType).Add(float64(awarded))
	if cappedBy != "" && base > awarded {
		m.pointsCapped.WithLabelValues(contributionType, cappedBy).Add(float64(base - awarded))
	}
}

func (m *Metrics) ObserveDistribution(tokens uint64) {
	if m == nil {
		return
	}
	if tokens == 0 {
		m.claims.WithLabelValues("nothing_owed").Inc()
		return
	}
	m.claims.WithLabelValues("released").Inc()
	m.distributed.Add(float64(tokens))
}

func (m *Metrics) ObservePeriod(period uint64) {
	if m == nil {
		return
	}
	m.period.Set(float64(period))
}

func (m *Metrics) ObserveReserve(balance, pool uint64) {
	if m == nil {
		return
	}
	m.reserve.Set(float64(balance))
	m.pool.Set(float64(pool))
}

func (m *Metrics) ObserveFailure(op, kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(op, kind).Inc()
}

// Middleware counts requests by chi route pattern and times them.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.durations.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
