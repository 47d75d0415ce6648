package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestCollector_Registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg, "bus-1", Gauges{
		Pending: func() float64 { return 3 },
		Dead:    func() float64 { return 2 },
	})
	require.NoError(t, err)

	c.IncPublished(ModeSync)
	c.IncPublished(ModeAsync)
	c.IncPublished(ModeAsync)
	c.IncErrors()
	c.IncSubscribes()
	c.ObserveHandler(time.Millisecond)

	families := gather(t, reg)

	published := families["messagebus_published_total"]
	require.NotNil(t, published)
	require.Len(t, published.GetMetric(), 2)
	for _, m := range published.GetMetric() {
		var mode, bus string
		for _, l := range m.GetLabel() {
			switch l.GetName() {
			case "mode":
				mode = l.GetValue()
			case "bus_id":
				bus = l.GetValue()
			}
		}
		assert.Equal(t, "bus-1", bus)
		if mode == ModeAsync {
			assert.Equal(t, 2.0, m.GetCounter().GetValue())
		} else {
			assert.Equal(t, 1.0, m.GetCounter().GetValue())
		}
	}

	assert.Equal(t, 3.0, families["messagebus_pending_messages"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 2.0, families["messagebus_dead_messages_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 0.0, families["messagebus_cancellations_total"].GetMetric()[0].GetCounter().GetValue())

	assert.Equal(t, Counts{
		PublishedSync:  1,
		PublishedAsync: 2,
		Errors:         1,
		Subscribes:     1,
		HandlerCalls:   1,
	}, c.Counts())
}

func TestCollector_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg, "same", Gauges{})
	require.NoError(t, err)

	_, err = New(reg, "same", Gauges{})
	require.Error(t, err)
	assert.True(t, IsAlreadyRegistered(err))

	c.Unregister()
	_, err = New(reg, "same", Gauges{})
	assert.NoError(t, err)
}

func TestCollector_Unregistered(t *testing.T) {
	c, err := New(nil, "free", Gauges{})
	require.NoError(t, err)
	c.IncErrors()
	c.Unregister()
	assert.Equal(t, uint64(1), c.Counts().Errors)
}
