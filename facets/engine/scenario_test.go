package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-facets/facets"
)

// TestFilterCompareWalkthrough exercises filter, compare and unfilter on
// the five-record dataset and checks the exact accumulator values after
// each step.
func TestFilterCompareWalkthrough(t *testing.T) {
	ds, group, v := newScenario(t)
	x := group.AggregateByKey("X")
	y := group.AggregateByKey("Y")
	require.NotNil(t, x)
	require.NotNil(t, y)

	assert.Equal(t, map[facets.MeasureType]int{facets.Total: 3, facets.Active: 3}, counts(x))
	assert.Equal(t, map[facets.MeasureType]int{facets.Total: 2, facets.Active: 2}, counts(y))

	// Filter on v excludes r2
	f := excludeR2(t, ds, v)
	assert.False(t, mustRecord(t, ds, "r2").IsIncluded())
	assert.Equal(t, 3, x.RecCnt(facets.Total))
	assert.Equal(t, 2, x.RecCnt(facets.Active))
	assert.Equal(t, 2, y.RecCnt(facets.Total))
	assert.Equal(t, 2, y.RecCnt(facets.Active))
	assert.False(t, ds.LastPass().Touched(y), "Y is unaffected by the filter")
	assertInvariants(t, ds)

	// r1 and r4 go into Compare_A
	crit := PredicateCriterion{Attr: v, Pred: NewCategory(10, 40)}
	_, err := ds.Compare().SetSlot(facets.SlotA, crit)
	require.NoError(t, err)
	assert.Equal(t, 1, x.RecCnt(facets.CompareA))
	assert.Equal(t, 1.0, x.Measure(facets.CompareA))
	assert.Equal(t, 1, y.RecCnt(facets.CompareA))
	assertInvariants(t, ds)

	// Removing the filter restores Active without moving Compare_A
	compareBefore := x.Accumulator(facets.CompareA)
	res, err := ds.Filters().Deactivate(f.ID())
	require.NoError(t, err)
	assert.Equal(t, 3, x.RecCnt(facets.Active))
	assert.Equal(t, compareBefore, x.Accumulator(facets.CompareA))
	assert.Equal(t, 1, res.Flipped)
	assertInvariants(t, ds)
}

func TestAverageOfEmptyBucketIsZero(t *testing.T) {
	_, group, _ := newScenario(t)
	x := group.AggregateByKey("X")
	assert.Equal(t, 0, x.RecCnt(facets.CompareE))
	assert.Equal(t, 0.0, x.Average(facets.CompareE))
	assert.Equal(t, 1.0, x.Average(facets.Total))
}
