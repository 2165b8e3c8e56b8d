package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Dials.WithLabelValues("customer").Inc()
	m.Dials.WithLabelValues("customer").Inc()
	m.Connected.WithLabelValues("admin").Set(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Dials.WithLabelValues("customer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connected.WithLabelValues("admin")))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewWithoutRegistry(t *testing.T) {
	m := New(nil)
	m.FramesDropped.WithLabelValues("customer").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesDropped.WithLabelValues("customer")))
}

func TestDefaultIsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}
