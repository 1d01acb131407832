package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "issuefields"

// Recorder is what services and the HTTP layer report into.
type Recorder interface {
	FieldValueUpdated(typeKey string)
	ValidationFailed(typeKey string, reason string)
	OptionOperation(op string)
	MigrationExecuted(outcome string, issues int)
	HTTPRequest(routeClass string, method string, status int, d time.Duration)
}

type Nop struct{}

func (Nop) FieldValueUpdated(string) {}
func (Nop) ValidationFailed(string, string) {}
func (Nop) OptionOperation(string) {}
func (Nop) MigrationExecuted(string, int) {}
func (Nop) HTTPRequest(string, string, int, time.Duration) {}

// Prometheus is a Recorder backed by client_golang collectors.
type Prometheus struct {
	valueUpdates      *prometheus.CounterVec
	validationFailure *prometheus.CounterVec
	optionOps         *prometheus.CounterVec
	migrations        *prometheus.CounterVec
	migratedIssues    prometheus.Counter
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	gatherer          prometheus.Gatherer
}

// NewPrometheus registers every collector on a fresh registry.
func NewPrometheus() (*Prometheus, error) {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		valueUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_value_updates_total",
			Help:      "Custom field values written, by field type.",
		}, []string{"field_type"}),
		validationFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_validation_failures_total",
			Help:      "Rejected custom field values, by field type and reason.",
		}, []string{"field_type", "reason"}),
		optionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "option_operations_total",
			Help:      "Option administration operations.",
		}, []string{"op"}),
		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issue_type_migrations_total",
			Help:      "Issue type migrations executed, by outcome.",
		}, []string{"outcome"}),
		migratedIssues: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_migrated_total",
			Help:      "Issues moved to another issue type.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route class, method and status.",
		}, []string{"route_class", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route class.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route_class"}),
		gatherer: reg,
	}
	for _, c := range []prometheus.Collector{
		p.valueUpdates, p.validationFailure, p.optionOps, p.migrations,
		p.migratedIssues, p.httpRequests, p.httpDuration,
		collectors.NewGoCollector(),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) FieldValueUpdated(typeKey string) {
	p.valueUpdates.WithLabelValues(typeKey).Inc()
}

func (p *Prometheus) ValidationFailed(typeKey string, reason string) {
	p.validationFailure.WithLabelValues(typeKey, reason).Inc()
}

func (p *Prometheus) OptionOperation(op string) {
	p.optionOps.WithLabelValues(op).Inc()
}

func (p *Prometheus) MigrationExecuted(outcome string, issues int) {
	p.migrations.WithLabelValues(outcome).Inc()
	if issues > 0 {
		p.migratedIssues.Add(float64(issues))
	}
}

func (p *Prometheus) HTTPRequest(routeClass string, method string, status int, d time.Duration) {
	p.httpRequests.WithLabelValues(routeClass, method, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(routeClass).Observe(d.Seconds())
}

// Handler serves the registry in the text exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

var (
	_ Recorder = Nop{}
	_ Recorder = (*Prometheus)(nil)
)
