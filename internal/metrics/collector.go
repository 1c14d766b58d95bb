// Package metrics exposes engine and HTTP measurements to Prometheus.
package metrics

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/liamcoop/rulecheck/internal/logger"
)

// Options configures a Collector.
type Options struct {
	Enabled   bool
	Namespace string
}

// Collector records engine runs and HTTP requests on its own registry. A
// disabled collector accepts every call and records nothing.
//
// Metrics (with the default namespace):
//   - rulecheck_engine_runs_total
//   - rulecheck_engine_run_duration_seconds
//   - rulecheck_engine_records_evaluated_total
//   - rulecheck_engine_outcomes_total{result}
//   - rulecheck_engine_compile_failures_total{reason}
//   - rulecheck_engine_faults_total
//   - rulecheck_http_requests_total{route,method,status}
//   - rulecheck_http_request_duration_seconds{route}
//   - rulecheck_log_errors_total, rulecheck_log_warnings_total
//   - rulecheck_program_cache_entries
type Collector struct {
	enabled  bool
	registry *prometheus.Registry

	runs            prometheus.Counter
	runDuration     prometheus.Histogram
	records         prometheus.Counter
	outcomes        *prometheus.CounterVec
	compileFailures *prometheus.CounterVec
	faults          prometheus.Counter

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	cacheLen atomic.Pointer[func() int]
}

// NewCollector creates a collector. When opts.Enabled is false nothing is
// registered.
func NewCollector(opts Options) *Collector {
	c := &Collector{enabled: opts.Enabled, registry: prometheus.NewRegistry()}
	if !c.enabled {
		return c
	}
	ns := opts.Namespace
	if ns == "" {
		ns = "rulecheck"
	}

	c.runs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "engine", Name: "runs_total",
		Help: "Total number of completed validation runs",
	})
	c.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "engine", Name: "run_duration_seconds",
		Help:    "Duration of validation runs",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})
	c.records = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "engine", Name: "records_evaluated_total",
		Help: "Total number of records evaluated",
	})
	c.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "engine", Name: "outcomes_total",
		Help: "Total number of rule outcomes by result",
	}, []string{"result"})
	c.compileFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "engine", Name: "compile_failures_total",
		Help: "Total number of rules that failed to compile, by reason",
	}, []string{"reason"})
	c.faults = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "engine", Name: "faults_total",
		Help: "Total number of runs aborted by an engine fault",
	})
	c.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "http", Name: "requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"route", "method", "status"})
	c.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "http", Name: "request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	c.registry.MustRegister(
		c.runs, c.runDuration, c.records, c.outcomes, c.compileFailures, c.faults,
		c.requests, c.requestDuration,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "log", Name: "errors_total",
			Help: "Total number of errors logged, before sampling",
		}, func() float64 { return float64(logger.TotalErrors.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "log", Name: "warnings_total",
			Help: "Total number of warnings logged, before sampling",
		}, func() float64 { return float64(logger.TotalWarnings.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: ns, Name: "program_cache_entries",
			Help: "Number of compiled programs in the cache",
		}, func() float64 {
			if f := c.cacheLen.Load(); f != nil {
				return float64((*f)())
			}
			return 0
		}),
	)
	return c
}

// Enabled reports whether metrics are recorded.
func (c *Collector) Enabled() bool { return c.enabled }

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// WatchCache reports the size of a program cache on every scrape.
func (c *Collector) WatchCache(size func() int) { c.cacheLen.Store(&size) }

// RecordRun implements rules.Recorder.
func (c *Collector) RecordRun(rules, records int, duration time.Duration) {
	if !c.enabled {
		return
	}
	c.runs.Inc()
	c.runDuration.Observe(duration.Seconds())
	c.records.Add(float64(records))
}

// RecordOutcomes implements rules.Recorder.
func (c *Collector) RecordOutcomes(pass, fail, indeterminate int) {
	if !c.enabled {
		return
	}
	c.outcomes.WithLabelValues("pass").Add(float64(pass))
	c.outcomes.WithLabelValues("fail").Add(float64(fail))
	c.outcomes.WithLabelValues("indeterminate").Add(float64(indeterminate))
}

// RecordCompileFailure implements rules.Recorder.
func (c *Collector) RecordCompileFailure(reason string) {
	if !c.enabled {
		return
	}
	c.compileFailures.WithLabelValues(reason).Inc()
}

// RecordFault implements rules.Recorder.
func (c *Collector) RecordFault() {
	if !c.enabled {
		return
	}
	c.faults.Inc()
}

// RecordRequest records one served HTTP request. route is the route
// pattern, never the raw path, to bound label cardinality.
func (c *Collector) RecordRequest(route, method string, status int, duration time.Duration) {
	if !c.enabled {
		return
	}
	c.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
