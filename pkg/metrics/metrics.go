// Package metrics records client operation metrics in a Prometheus registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pay-theory/aerokit/pkg/errors"
)

// SystemName is the db_system_name label value.
const SystemName = "aerospike"

// DurationBuckets are the histogram buckets of operation durations, in seconds.
var DurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}

// Recorder owns the client's collectors. A nil Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	// OperationDuration is the latency of each call, labelled by outcome.
	OperationDuration *prometheus.HistogramVec
	// Retries counts attempts after the first.
	Retries *prometheus.CounterVec
	// RecordsDelivered counts records handed to query consumers.
	RecordsDelivered *prometheus.CounterVec
	// InFlight is the number of calls holding a connection.
	InFlight prometheus.Gauge
}

// New registers the collectors on reg, or on a fresh registry when reg is nil.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_client_operation_duration_seconds",
				Help:    "Duration of database client operations in seconds",
				Buckets: DurationBuckets,
			},
			[]string{"db_system_name", "db_namespace", "db_collection_name", "db_operation_name", "error_type"},
		),
		Retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_client_operation_retries_total",
				Help: "Total number of retried database client operation attempts",
			},
			[]string{"db_system_name", "db_namespace", "db_operation_name"},
		),
		RecordsDelivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_client_query_records_total",
				Help: "Total number of query and scan records delivered to consumers",
			},
			[]string{"db_system_name", "db_namespace", "db_collection_name"},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_client_operations_in_flight",
				Help: "Number of database client operations holding a connection",
			},
		),
	}
}

// Registry returns the registry the collectors are registered on.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveOperation records one completed call. err is labelled via errors.ErrorType.
func (r *Recorder) ObserveOperation(namespace, set, op string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.OperationDuration.
		WithLabelValues(SystemName, namespace, set, op, errors.ErrorType(err)).
		Observe(d.Seconds())
}

// Retry counts one retried attempt.
func (r *Recorder) Retry(namespace, op string) {
	if r == nil {
		return
	}
	r.Retries.WithLabelValues(SystemName, namespace, op).Inc()
}

// Delivered counts n records handed to a consumer.
func (r *Recorder) Delivered(namespace, set string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.RecordsDelivered.WithLabelValues(SystemName, namespace, set).Add(float64(n))
}

// Acquire and Release track connections in use.
func (r *Recorder) Acquire() {
	if r != nil {
		r.InFlight.Inc()
	}
}

func (r *Recorder) Release() {
	if r != nil {
		r.InFlight.Dec()
	}
}
