package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "routeplane"

// Collector tracks control-plane and data-plane metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	compilesTotal       *prometheus.CounterVec
	compileDuration     prometheus.Histogram
	tableVersion        prometheus.Gauge
	tableRules          prometheus.Gauge
	resourceErrors      *prometheus.GaugeVec
	attachmentDecisions *prometheus.CounterVec
	requestDecisions    *prometheus.CounterVec
	mirrorRequests      *prometheus.CounterVec
}

// DefaultBuckets are histogram buckets in seconds for compile durations.
var DefaultBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5}

// NewCollector creates a collector with a private registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		compilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compiler",
			Name:      "compiles_total",
			Help:      "Compilation passes by result (published, skipped, discarded, failed).",
		}, []string{"result"}),
		compileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "compiler",
			Name:      "compile_duration_seconds",
			Help:      "Time spent compiling a routing table.",
			Buckets:   DefaultBuckets,
		}),
		tableVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "table",
			Name:      "version",
			Help:      "Version of the currently published routing table.",
		}),
		tableRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "table",
			Name:      "rules",
			Help:      "Number of rules in the currently published routing table.",
		}),
		resourceErrors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "compiler",
			Name:      "resource_errors",
			Help:      "Resource errors recorded by the latest compilation, by kind.",
		}, []string{"kind"}),
		attachmentDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attach",
			Name:      "decisions_total",
			Help:      "Attachment decisions by outcome and reason.",
		}, []string{"decision", "reason"}),
		requestDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Request decisions by outcome.",
		}, []string{"outcome"}),
		mirrorRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "requests_total",
			Help:      "Mirrored requests by result.",
		}, []string{"result"}),
	}
	c.registry.MustRegister(
		c.compilesTotal,
		c.compileDuration,
		c.tableVersion,
		c.tableRules,
		c.resourceErrors,
		c.attachmentDecisions,
		c.requestDecisions,
		c.mirrorRequests,
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordCompile records the outcome of one compilation pass.
func (c *Collector) RecordCompile(result string, duration time.Duration) {
	c.compilesTotal.WithLabelValues(result).Inc()
	if duration > 0 {
		c.compileDuration.Observe(duration.Seconds())
	}
}

// RecordPublish records the newly visible table.
func (c *Collector) RecordPublish(version uint64, rules int) {
	c.tableVersion.Set(float64(version))
	c.tableRules.Set(float64(rules))
}

// SetResourceErrors replaces the per-kind error counts of the latest compile.
func (c *Collector) SetResourceErrors(byKind map[string]int) {
	c.resourceErrors.Reset()
	for kind, n := range byKind {
		c.resourceErrors.WithLabelValues(kind).Set(float64(n))
	}
}

// RecordAttachment records an attachment decision.
func (c *Collector) RecordAttachment(allowed bool, reason string) {
	decision := "rejected"
	if allowed {
		decision = "allowed"
	}
	c.attachmentDecisions.WithLabelValues(decision, reason).Inc()
}

// RecordDecision records a request outcome.
func (c *Collector) RecordDecision(outcome string) {
	c.requestDecisions.WithLabelValues(outcome).Inc()
}

// RecordMirror records a mirror dispatch result.
func (c *Collector) RecordMirror(result string) {
	c.mirrorRequests.WithLabelValues(result).Inc()
}
