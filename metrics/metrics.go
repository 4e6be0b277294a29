// Package metrics records aggregation metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace prefixes every metric.
	Namespace = "newsagg"
)

// Recorder receives measurements from the HTTP client, the session store
// and the driver.
type Recorder interface {
	ObserveRequest(domain string, status int, elapsed time.Duration, err error)
	ObserveLogin(domain string, elapsed time.Duration, err error)
	// ObserveSource records one source's outcome. failure is empty on
	// success, else the failure kind.
	ObserveSource(source string, articles, skipped int, elapsed time.Duration, failure string)
	ObserveRun(elapsed time.Duration, articles, duplicates, failures int)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) ObserveRequest(string, int, time.Duration, error) {}
func (Nop) ObserveLogin(string, time.Duration, error) {}
func (Nop) ObserveSource(string, int, int, time.Duration, string) {}
func (Nop) ObserveRun(time.Duration, int, int, int) {}

// Prometheus records into Prometheus collectors.
type Prometheus struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	logins          *prometheus.CounterVec
	loginDuration   *prometheus.HistogramVec

	sourceFetches   *prometheus.CounterVec
	sourceArticles  *prometheus.CounterVec
	sourceSkipped   *prometheus.CounterVec
	sourceDuration  *prometheus.HistogramVec
	runs            prometheus.Counter
	runDuration     prometheus.Histogram
	runArticles     prometheus.Gauge
	runDuplicates   prometheus.Gauge
	runFailures     prometheus.Gauge
	lastRunFinished prometheus.Gauge
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus creates the collectors and registers them on reg. A nil reg
// means the default registerer.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Prometheus{}

	m.initHTTPMetrics(factory)
	m.initSourceMetrics(factory)
	m.initRunMetrics(factory)

	return m
}

func (m *Prometheus) initHTTPMetrics(factory promauto.Factory) {
	m.requests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by domain and status code (\"error\" for transport failures)",
		},
		[]string{"domain", "status"},
	)

	m.requestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"domain"},
	)

	m.logins = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Login attempts by domain and result",
		},
		[]string{"domain", "result"},
	)

	m.loginDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "login_duration_seconds",
			Help:      "Login duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"domain"},
	)
}

func (m *Prometheus) initSourceMetrics(factory promauto.Factory) {
	m.sourceFetches = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "source",
			Name:      "fetches_total",
			Help:      "Source fetches by source and result (ok or failure kind)",
		},
		[]string{"source", "result"},
	)

	m.sourceArticles = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "source",
			Name:      "articles_total",
			Help:      "Articles produced by source",
		},
		[]string{"source"},
	)

	m.sourceSkipped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "source",
			Name:      "skipped_items_total",
			Help:      "Entries skipped by source",
		},
		[]string{"source"},
	)

	m.sourceDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "source",
			Name:      "fetch_duration_seconds",
			Help:      "Source fetch duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
		},
		[]string{"source"},
	)
}

func (m *Prometheus) initRunMetrics(factory promauto.Factory) {
	m.runs = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "run",
		Name:      "total",
		Help:      "Completed aggregation runs",
	})

	m.runDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "run",
		Name:      "duration_seconds",
		Help:      "Aggregation run duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~8.5min
	})

	m.runArticles = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "run",
		Name:      "articles",
		Help:      "Articles in the last run after deduplication",
	})

	m.runDuplicates = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "run",
		Name:      "duplicates",
		Help:      "Articles folded into another in the last run",
	})

	m.runFailures = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "run",
		Name:      "failed_sources",
		Help:      "Sources that failed in the last run",
	})

	m.lastRunFinished = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "run",
		Name:      "last_finished_timestamp_seconds",
		Help:      "Unix time the last run finished",
	})
}

func (m *Prometheus) ObserveRequest(domain string, status int, elapsed time.Duration, err error) {
	code := "error"
	if err == nil {
		code = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(domain, code).Inc()
	m.requestDuration.WithLabelValues(domain).Observe(elapsed.Seconds())
}

func (m *Prometheus) ObserveLogin(domain string, elapsed time.Duration, err error) {
	m.logins.WithLabelValues(domain, result(err == nil, "failed")).Inc()
	m.loginDuration.WithLabelValues(domain).Observe(elapsed.Seconds())
}

func (m *Prometheus) ObserveSource(source string, articles, skipped int, elapsed time.Duration, failure string) {
	m.sourceFetches.WithLabelValues(source, result(failure == "", failure)).Inc()
	m.sourceArticles.WithLabelValues(source).Add(float64(articles))
	m.sourceSkipped.WithLabelValues(source).Add(float64(skipped))
	m.sourceDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

func (m *Prometheus) ObserveRun(elapsed time.Duration, articles, duplicates, failures int) {
	m.runs.Inc()
	m.runDuration.Observe(elapsed.Seconds())
	m.runArticles.Set(float64(articles))
	m.runDuplicates.Set(float64(duplicates))
	m.runFailures.Set(float64(failures))
	m.lastRunFinished.SetToCurrentTime()
}

func result(ok bool, failure string) string {
	if ok {
		return "ok"
	}
	return failure
}
