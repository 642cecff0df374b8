package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-facets/facets"
	"github.com/wbrown/janus-facets/facets/annotations"
)

func TestFilterLifecycle(t *testing.T) {
	ds, group, _ := newScenario(t)
	fc := ds.Filters()

	f, err := fc.Add("", group, NewCategory("X"))
	require.NoError(t, err)
	assert.Equal(t, "group#0", f.Name())
	assert.Equal(t, FilterInactive, f.State())
	assert.Same(t, f, group.Filter())
	assert.Empty(t, fc.Active())

	res, err := fc.Activate(f.ID())
	require.NoError(t, err)
	assert.Equal(t, annotations.FilterActivated, res.Kind)
	assert.Equal(t, 5, res.Evaluated)
	assert.Equal(t, 2, res.Flipped)
	assert.Equal(t, FilterActive, f.State())
	assert.Equal(t, 3, ds.IncludedCount())
	assertInvariants(t, ds)

	// Parameter change: only the records whose result moved flip
	res, err = fc.SetPredicate(f.ID(), NewCategory("X", "Y"))
	require.NoError(t, err)
	assert.Equal(t, annotations.FilterApplied, res.Kind)
	assert.Equal(t, 2, res.Flipped)
	assert.Equal(t, 5, ds.IncludedCount())
	assertInvariants(t, ds)

	res, err = fc.SetPredicate(f.ID(), NewCategory("Y"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Flipped)
	assert.Equal(t, 0, group.AggregateByKey("X").RecCnt(facets.Active))
	assertInvariants(t, ds)

	res, err = fc.Deactivate(f.ID())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Flipped)
	assert.Equal(t, 5, ds.IncludedCount())
	_, cached := mustRecord(t, ds, "r1").FilterResult(f.ID())
	assert.False(t, cached, "inactive filters leave no cache entry")
	assertInvariants(t, ds)

	res, err = fc.Deactivate(f.ID())
	require.NoError(t, err)
	assert.Empty(t, res.Changed, "deactivating an inactive filter is a no-op")

	_, err = fc.Remove(f.ID())
	require.NoError(t, err)
	assert.Nil(t, group.Filter())
	_, err = fc.Activate(f.ID())
	assert.ErrorIs(t, err, facets.ErrUnknownFilter)
}

func TestFiltersCombineAcrossAttributes(t *testing.T) {
	ds, group, v := newScenario(t)
	fc := ds.Filters()

	fg, err := fc.Add("group", group, NewCategory("X"))
	require.NoError(t, err)
	fv, err := fc.Add("v", v, NewRange(15, 100))
	require.NoError(t, err)
	_, err = fc.Activate(fg.ID())
	require.NoError(t, err)
	_, err = fc.Activate(fv.ID())
	require.NoError(t, err)

	// Included: group X and v >= 15, i.e. r2 and r3
	assert.Equal(t, 2, ds.IncludedCount())
	assert.Equal(t, 2, group.AggregateByKey("X").RecCnt(facets.Active))
	assert.Equal(t, 0, group.AggregateByKey("Y").RecCnt(facets.Active))
	assertInvariants(t, ds)

	// r1 fails both filters: dropping one keeps it excluded
	res, err := fc.Deactivate(fg.ID())
	require.NoError(t, err)
	assert.False(t, mustRecord(t, ds, "r1").IsIncluded())
	assert.Equal(t, 2, res.Flipped, "r4 and r5 return")
	assertInvariants(t, ds)

	res = fc.ClearAll()
	assert.Equal(t, 1, res.Flipped)
	assert.Equal(t, 5, ds.IncludedCount())
	assertInvariants(t, ds)
}

func TestFilterAddReplacesAttributeFilter(t *testing.T) {
	ds, group, _ := newScenario(t)
	fc := ds.Filters()

	first, err := fc.Add("first", group, NewCategory("X"))
	require.NoError(t, err)
	_, err = fc.Activate(first.ID())
	require.NoError(t, err)
	assert.Equal(t, 3, ds.IncludedCount())

	second, err := fc.Add("second", group, NewCategory("Y"))
	require.NoError(t, err)
	assert.Equal(t, 5, ds.IncludedCount(), "the replaced filter was deactivated")
	assert.Same(t, second, group.Filter())
	_, ok := fc.Filter(first.ID())
	assert.False(t, ok)
	got, ok := fc.ByName("second")
	assert.True(t, ok)
	assert.Same(t, second, got)
	assert.Len(t, fc.Filters(), 1)
}

func TestPredicateFailureExcludesAndReports(t *testing.T) {
	collector := annotations.NewCollector(nil)
	ds, group, _ := newScenario(t, WithCollector(collector))

	boom := errors.New("boom")
	pred := PredicateFunc(func(r *Record, _ facets.Value) (bool, error) {
		switch r.ID() {
		case "r1":
			return false, boom
		case "r4":
			panic("bad record")
		}
		return true, nil
	})
	f, err := ds.Filters().Add("fragile", group, pred)
	require.NoError(t, err)

	res, err := ds.Filters().Activate(f.ID())
	require.NoError(t, err, "predicate failures do not abort the pass")
	require.Len(t, res.Errors, 2)
	assert.ErrorIs(t, res.Errors[0], facets.ErrPredicateFailure)
	assert.ErrorIs(t, res.Errors[0], boom)
	var perr *facets.PredicateError
	require.ErrorAs(t, res.Errors[1], &perr)
	assert.Equal(t, "r4", perr.RecordID)
	assert.Equal(t, "bad record", perr.Panic)

	assert.False(t, mustRecord(t, ds, "r1").IsIncluded())
	assert.False(t, mustRecord(t, ds, "r4").IsIncluded())
	assert.True(t, mustRecord(t, ds, "r2").IsIncluded())
	assert.Equal(t, 3, ds.IncludedCount())
	assertInvariants(t, ds)

	assert.Len(t, collector.EventsNamed(annotations.ErrorPredicateFailure), 2)
}

func TestNewRecordsMeetActiveFilters(t *testing.T) {
	ds, group, v := newScenario(t)
	excludeR2(t, ds, v)

	r, err := ds.AddRow(facets.Row{"id": "r6", "group": "Y", "v": 22})
	require.NoError(t, err)
	assert.False(t, r.IsIncluded())
	y := group.AggregateByKey("Y")
	assert.Equal(t, 3, y.RecCnt(facets.Total))
	assert.Equal(t, 2, y.RecCnt(facets.Active))
	assert.Equal(t, 4, ds.IncludedCount())
	assertInvariants(t, ds)
}
