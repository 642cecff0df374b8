package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-facets/facets"
)

// scenarioRows is the five-record dataset used across the engine tests:
// group X holds r1..r3, group Y holds r4 and r5, and v is a distinct
// number per record.
func scenarioRows() []facets.Row {
	return []facets.Row{
		{"id": "r1", "group": "X", "v": 10},
		{"id": "r2", "group": "X", "v": 20},
		{"id": "r3", "group": "X", "v": 30},
		{"id": "r4", "group": "Y", "v": 40},
		{"id": "r5", "group": "Y", "v": 50},
	}
}

// newScenario builds the five-record dataset with a categorical "group"
// attribute and a numeric "v" attribute binned at 0, 25, 50.
func newScenario(t *testing.T, options ...Option) (*Dataset, *Attribute, *Attribute) {
	t.Helper()
	ds := NewDataset(append([]Option{WithStrictChecks(true)}, options...)...)
	group, err := ds.AddAttribute("group", nil)
	require.NoError(t, err)
	v, err := ds.AddAttribute("v", nil, WithBinning(FixedBreaks{0, 25, 50}))
	require.NoError(t, err)

	_, err = ds.AddRows(scenarioRows())
	require.NoError(t, err)
	require.Len(t, group.Aggregates(), 2)
	require.Len(t, v.Aggregates(), 2)
	return ds, group, v
}

// excludeR2 filters on v so that only r2 (v=20) fails.
func excludeR2(t *testing.T, ds *Dataset, v *Attribute) *Filter {
	t.Helper()
	f, err := ds.Filters().Add("not-20", v, NotPredicate{Inner: NewRange(15, 25)})
	require.NoError(t, err)
	_, err = ds.Filters().Activate(f.ID())
	require.NoError(t, err)
	return f
}

// passAll activates a filter on attr that every record passes and returns
// its id.
func passAll(t *testing.T, ds *Dataset, attr *Attribute) FilterID {
	t.Helper()
	f, err := ds.Filters().Add(attr.Name()+"-all", attr, NotPredicate{Inner: NewCategory()})
	require.NoError(t, err)
	_, err = ds.Filters().Activate(f.ID())
	require.NoError(t, err)
	return f.ID()
}

func mustRecord(t *testing.T, ds *Dataset, id string) *Record {
	t.Helper()
	r, ok := ds.Record(id)
	require.True(t, ok, "record %s", id)
	return r
}

func counts(a *Aggregate) map[facets.MeasureType]int {
	out := make(map[facets.MeasureType]int)
	for mt := facets.Total; mt < facets.NumMeasureTypes; mt++ {
		if n := a.RecCnt(mt); n != 0 {
			out[mt] = n
		}
	}
	return out
}

// qualifies reports whether r should be counted in bucket mt.
func qualifies(r *Record, mt facets.MeasureType) bool {
	switch {
	case mt == facets.Total:
		return true
	case mt == facets.Active:
		return r.IsIncluded()
	default:
		return r.IsIncluded() && r.IsCompared(mt.Slot())
	}
}

// assertInvariants checks conservation per attribute, the count bounds per
// aggregate, Other, and the structural audit.
func assertInvariants(t *testing.T, ds *Dataset) {
	t.Helper()

	for _, attr := range ds.Attributes() {
		if !attr.IsPartitioned() {
			continue
		}
		aggs := attr.AllAggregates()
		for mt := facets.Total; mt < facets.NumMeasureTypes; mt++ {
			wantCount, wantSum := 0, 0.0
			for _, r := range ds.Records() {
				m, ok := r.Measure()
				if ok && qualifies(r, mt) {
					wantCount++
					wantSum += m
				}
			}
			gotCount, gotSum := 0, 0.0
			for _, a := range aggs {
				gotCount += a.RecCnt(mt)
				gotSum += a.Measure(mt)
			}
			assert.Equal(t, wantCount, gotCount, "%s %s count", attr.Name(), mt)
			assert.InDelta(t, wantSum, gotSum, 1e-9, "%s %s sum", attr.Name(), mt)
		}

		for _, a := range aggs {
			active := a.RecCnt(facets.Active)
			assert.LessOrEqual(t, active, a.RecCnt(facets.Total), "%s active bound", a)
			selected := 0
			for mt := facets.CompareA; mt <= facets.CompareE; mt++ {
				assert.LessOrEqual(t, a.RecCnt(mt), active, "%s %s bound", a, mt)
			}
			for _, r := range a.Records() {
				if _, ok := r.Measure(); ok && r.IsIncluded() && !r.ActiveComparisons().Empty() {
					selected++
				}
			}
			assert.Equal(t, active-selected, a.Other().Count, "%s other", a)
		}
	}

	assert.Empty(t, ds.Imbalances())
}
