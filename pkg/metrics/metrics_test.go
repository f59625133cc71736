package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pay-theory/aerokit/pkg/errors"
)

func TestObserveOperationLabels(t *testing.T) {
	r := New(nil)

	r.ObserveOperation("test", "users", "get", 3*time.Millisecond, nil)
	r.ObserveOperation("test", "users", "get", time.Millisecond, errors.ErrTimeout)
	r.ObserveOperation("test", "users", "query", time.Millisecond, errors.Newf(errors.ErrConsumerAborted, "boom"))

	assert.Equal(t, 3, testutil.CollectAndCount(r.OperationDuration))

	families, err := r.Registry().Gather()
	require.NoError(t, err)

	labels := map[string]bool{}
	for _, mf := range families {
		if mf.GetName() != "db_client_operation_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "error_type" {
					labels[lp.GetValue()] = true
				}
			}
		}
	}
	assert.True(t, labels[""])
	assert.True(t, labels["Timeout"])
	assert.True(t, labels["ConsumerAborted"])
}

func TestCounters(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.Retry("test", "get")
	r.Retry("test", "get")
	r.Delivered("test", "users", 5)
	r.Delivered("test", "users", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Retries.WithLabelValues(SystemName, "test", "get")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.RecordsDelivered.WithLabelValues(SystemName, "test", "users")))

	r.Acquire()
	r.Acquire()
	r.Release()
	assert.Equal(t, 1.0, testutil.ToFloat64(r.InFlight))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveOperation("ns", "set", "get", time.Second, nil)
		r.Retry("ns", "get")
		r.Delivered("ns", "set", 1)
		r.Acquire()
		r.Release()
	})
	assert.Nil(t, r.Registry())
}
