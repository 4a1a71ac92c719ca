package metrics

import (
	"testing"

	"SignalEngine/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderUsesInjectedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordSignal("s1", models.SignalBuy)
	r.RecordSignal("s1", models.SignalBuy)
	r.RecordRequest("succeeded")
	r.SetQueueDepth("high", 3)
	r.SetHealthScore(80)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.signalsTotal.WithLabelValues("s1", "BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.requestsTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.queueDepth.WithLabelValues("high")))
	assert.Equal(t, 80.0, testutil.ToFloat64(r.healthScore))

	// a second recorder on a fresh registry must not collide
	assert.NotPanics(t, func() { New(prometheus.NewRegistry()) })
}

func TestRegisterDroppedEventsReadsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	var dropped int64 = 4
	RegisterDroppedEvents(reg, func() int64 { return dropped })

	n, err := testutil.GatherAndCount(reg, "signalengine_events_dropped_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	dropped = 7
	mfs, err := reg.Gather()
	assert.NoError(t, err)
	assert.Equal(t, 7.0, mfs[0].GetMetric()[0].GetCounter().GetValue())
}
