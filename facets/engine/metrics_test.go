package engine

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-facets/facets"
	"github.com/wbrown/janus-facets/facets/annotations"
)

func TestMetricsFollowPasses(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	ds, _, v := newScenario(t, WithMetrics(m))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.passes.WithLabelValues(annotations.RecordsAdded)))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.liveRecords))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.includedRecords))

	excludeR2(t, ds, v)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.evaluations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flips))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.includedRecords))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.passes.WithLabelValues(annotations.FilterActivated)))
	assert.Positive(t, testutil.ToFloat64(m.updates))

	_, err = ds.RemoveRecord("r5")
	require.NoError(t, err)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.liveRecords))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.includedRecords))

	n, err := testutil.GatherAndCount(reg, "facets_records", "facets_included_records")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMetricsCountPredicateFailures(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	ds, group, _ := newScenario(t, WithMetrics(m))

	f, err := ds.Filters().Add("bad", group, PredicateFunc(func(r *Record, _ facets.Value) (bool, error) {
		if r.ID() == "r3" {
			panic("boom")
		}
		return true, nil
	}))
	require.NoError(t, err)
	_, err = ds.Filters().Activate(f.ID())
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.predicateErrors))
}

func TestNilMetricsAreInert(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.passCompleted("x")
		m.recordsEvaluated(3)
		m.inclusionFlip()
		m.aggregateUpdate()
		m.predicateFailure()
		m.setRecords(1, 1)
	})
}

func TestMetricsRegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err, "duplicate registration")
}
