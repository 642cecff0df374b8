package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-facets/facets"
	"github.com/wbrown/janus-facets/facets/annotations"
)

func TestAddAttributeValidation(t *testing.T) {
	ds := NewDataset()
	_, err := ds.AddAttribute("", nil)
	assert.Error(t, err)

	_, err = ds.AddAttribute("color", nil)
	require.NoError(t, err)
	_, err = ds.AddAttribute("color", nil)
	assert.ErrorIs(t, err, facets.ErrDuplicateAttribute)

	got, ok := ds.Attribute("color")
	assert.True(t, ok)
	assert.Equal(t, "color", got.Name())
	_, ok = ds.Attribute("size")
	assert.False(t, ok)
}

func TestAttributeAddedAfterRows(t *testing.T) {
	ds, group, _ := newScenario(t)
	parity, err := ds.AddAttribute("parity", func(row facets.Row) facets.Value {
		if f, ok := facets.ToFloat(row["v"]); ok && int(f)/10%2 == 0 {
			return "even"
		}
		return "odd"
	})
	require.NoError(t, err)

	require.Len(t, parity.Aggregates(), 2)
	assert.Equal(t, 3, parity.AggregateByKey("odd").RecCnt(facets.Total))
	assert.Equal(t, 2, parity.AggregateByKey("even").RecCnt(facets.Total))
	assert.Len(t, mustRecord(t, ds, "r1").Aggregates(), 3)
	assert.Equal(t, 3, group.AggregateByKey("X").RecCnt(facets.Total))
	assertInvariants(t, ds)
}

func TestRecordIDs(t *testing.T) {
	ns := uuid.MustParse("6ba7b812-9dad-11d1-80b4-00c04fd430c8")
	build := func() []string {
		ds := NewDataset(WithNamespace(ns))
		_, err := ds.AddRows([]facets.Row{
			{"k": "a"},
			{"k": "a"},
			{"id": 7, "k": "b"},
		})
		require.NoError(t, err)
		var ids []string
		for _, r := range ds.Records() {
			ids = append(ids, r.ID())
		}
		return ids
	}

	first := build()
	require.Len(t, first, 3)
	assert.NotEqual(t, first[0], first[1], "identical rows get distinct ids")
	assert.Equal(t, "7", first[2])
	_, err := uuid.Parse(first[0])
	assert.NoError(t, err)
	assert.Equal(t, first, build(), "generated ids are deterministic")

	ds := NewDataset(WithIDColumn("key"))
	r, err := ds.AddRow(facets.Row{"key": "k1", "id": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "k1", r.ID())
}

func TestDuplicateRecordsAreSkipped(t *testing.T) {
	ds, group, _ := newScenario(t)
	res, err := ds.AddRows([]facets.Row{
		{"id": "r1", "group": "Y", "v": 1},
		{"id": "r6", "group": "Y", "v": 1},
	})
	assert.ErrorIs(t, err, facets.ErrDuplicateRecord)
	assert.Equal(t, 6, ds.Len())
	assert.Equal(t, 3, group.AggregateByKey("Y").RecCnt(facets.Total))
	assert.True(t, res.Touched(group.AggregateByKey("Y")))
	assert.False(t, res.Touched(group.AggregateByKey("X")))
	assertInvariants(t, ds)
}

func TestRemoveRecord(t *testing.T) {
	collector := annotations.NewCollector(nil)
	ds, group, v := newScenario(t, WithCollector(collector), WithMeasureColumn("v"))
	excludeR2(t, ds, v)
	_, err := ds.Compare().SetSlot(facets.SlotA, PredicateCriterion{Attr: v, Pred: NewCategory(10, 40)})
	require.NoError(t, err)

	res, err := ds.RemoveRecord("r4")
	require.NoError(t, err)
	assert.Equal(t, annotations.RecordsRemoved, res.Kind)
	y := group.AggregateByKey("Y")
	assert.Equal(t, 1, y.RecCnt(facets.Total))
	assert.Equal(t, 50.0, y.Measure(facets.Total))
	assert.Equal(t, 0, y.RecCnt(facets.CompareA))
	assert.Equal(t, 4, ds.Len())
	assert.Equal(t, 3, ds.IncludedCount())
	assertInvariants(t, ds)

	// Excluded records leave only their Total contribution behind
	_, err = ds.RemoveRecord("r2")
	require.NoError(t, err)
	assert.Equal(t, 3, ds.IncludedCount())
	assert.Equal(t, 2, group.AggregateByKey("X").RecCnt(facets.Total))
	assertInvariants(t, ds)

	_, err = ds.RemoveRecord("r4")
	assert.ErrorIs(t, err, facets.ErrUnknownRecord)
	assert.NotEmpty(t, collector.EventsNamed(annotations.ErrorRecordUnknown))
	assert.Len(t, collector.EventsNamed(annotations.RecordsRemoved), 2)
}

func TestReset(t *testing.T) {
	ds, group, v := newScenario(t)
	f := excludeR2(t, ds, v)
	_, err := ds.Compare().SetSlot(facets.SlotA, mustCriterion(t, group.AggregateByKey("X")))
	require.NoError(t, err)

	ds.Reset()
	assert.Zero(t, ds.Len())
	assert.Zero(t, ds.IncludedCount())
	assert.Nil(t, ds.Compare().Attribute())
	assert.Nil(t, ds.Anchor())
	assert.Empty(t, group.Aggregates())
	assert.Equal(t, FilterActive, f.State(), "filters survive a reset")

	_, err = ds.AddRows(scenarioRows())
	require.NoError(t, err)
	assert.Equal(t, 4, ds.IncludedCount())
	assert.False(t, mustRecord(t, ds, "r2").IsIncluded())
	assert.Equal(t, 0, group.AggregateByKey("X").RecCnt(facets.CompareA))
	assertInvariants(t, ds)
}

func TestSetMeasure(t *testing.T) {
	ds, group, v := newScenario(t)
	excludeR2(t, ds, v)
	x := group.AggregateByKey("X")
	assert.Equal(t, 2.0, x.Measure(facets.Active))

	res := ds.SetMeasure(ColumnMeasure("v"))
	assert.True(t, res.Touched(x))
	assert.Equal(t, 60.0, x.Measure(facets.Total))
	assert.Equal(t, 40.0, x.Measure(facets.Active))
	assert.Equal(t, 20.0, x.Average(facets.Active))
	assertInvariants(t, ds)

	ds.SetMeasure(nil)
	assert.Equal(t, 3.0, x.Measure(facets.Total))
	assertInvariants(t, ds)
}

func TestAnnotationsDuringPasses(t *testing.T) {
	var seen []string
	ds, group, _ := newScenario(t, WithHandler(func(e annotations.Event) {
		seen = append(seen, e.Name)
	}))
	require.NotNil(t, ds.Collector())
	assert.Contains(t, seen, annotations.RecordsAdded)
	assert.Contains(t, seen, annotations.AttributePartitioned)

	seen = nil
	_, err := ds.Compare().SetSlot(facets.SlotA, mustCriterion(t, group.AggregateByKey("X")))
	require.NoError(t, err)
	assert.Equal(t, []string{
		annotations.PassBegin,
		annotations.CompareSlotSet,
		annotations.PassCompleted,
	}, seen)

	completed := ds.Collector().EventsNamed(annotations.PassCompleted)
	require.NotEmpty(t, completed)
	last := completed[len(completed)-1]
	assert.Equal(t, annotations.CompareSlotSet, last.Data["kind"])
	assert.Equal(t, annotations.CompareSlotSet, ds.LastPass().Kind)
}

func TestNestedPassesReportOnce(t *testing.T) {
	collector := annotations.NewCollector(nil)
	ds := NewDataset(WithCollector(collector))
	_, err := ds.AddAttribute("group", nil)
	require.NoError(t, err)

	_, err = ds.AddRows(scenarioRows())
	require.NoError(t, err)
	assert.Len(t, collector.EventsNamed(annotations.PassCompleted), 1)
	assert.Len(t, collector.EventsNamed(annotations.PassBegin), 1)
}

func TestCheckConsistencyHeals(t *testing.T) {
	collector := annotations.NewCollector(nil)
	ds, group, v := newScenario(t, WithStrictChecks(false), WithCollector(collector))
	excludeR2(t, ds, v)
	require.NoError(t, ds.CheckConsistency())

	x := group.AggregateByKey("X")
	want := x.Measures()
	x.measures[facets.Active].Add(4, 4)
	r5 := mustRecord(t, ds, "r5")
	r5.aggregates = nil
	ds.included++

	problems := ds.Imbalances()
	assert.GreaterOrEqual(t, len(problems), 3)
	for _, p := range problems {
		assert.NotEmpty(t, p.String())
	}

	err := ds.CheckConsistency()
	assert.ErrorIs(t, err, facets.ErrUnbalancedMembership)
	assert.Empty(t, ds.Imbalances())
	assert.Equal(t, want, x.Measures())
	assert.Len(t, r5.Aggregates(), 2)
	assert.Equal(t, 4, ds.IncludedCount())
	assert.Len(t, collector.EventsNamed(annotations.ErrorMembershipUnbalanced), 1)
	assert.True(t, ds.LastPass().HasErrors())
	assertInvariants(t, ds)
}

func TestCheckConsistencyStrictPanics(t *testing.T) {
	ds, group, _ := newScenario(t)
	group.AggregateByKey("Y").measures[facets.Total].Add(1, 1)
	assert.Panics(t, func() { _ = ds.CheckConsistency() })
}

func TestRecountRepairsDrift(t *testing.T) {
	ds, group, _ := newScenario(t, WithStrictChecks(false))
	y := group.AggregateByKey("Y")
	y.measures[facets.Total].Add(0, 1e-3)

	res := ds.Recount()
	require.Len(t, res.Changed, 1)
	assert.Same(t, y, res.Changed[0])
	assert.Empty(t, ds.Imbalances())
}
