package session

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/janus-facets/facets"
	"github.com/wbrown/janus-facets/facets/engine"
)

func TestLoadAppliesDefaults(t *testing.T) {
	s, err := Load(filepath.Join("testdata", "walkthrough.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "walkthrough", s.Name)
	assert.Equal(t, "id", s.IDColumn)
	require.Len(t, s.Attributes, 3)
	assert.Equal(t, "bin", s.Attributes[0].Column)
	assert.Equal(t, KindCategorical, s.Attributes[0].Kind)
	assert.Equal(t, KindNumeric, s.Attributes[2].Kind, "binning implies numeric")
	require.Len(t, s.Rows, 5)
	assert.Equal(t, "r1", s.Rows[0]["id"])
	assert.Len(t, s.Steps, 6)
	assert.Equal(t, "compare A amount", s.Steps[1].String())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("rows: []\nattributes: []\nfilterz: []\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"duplicate attribute", `
attributes: [{name: a}, {name: a}]`, "declared twice"},
		{"unknown kind", `
attributes: [{name: a, kind: ordinal}]`, "unknown kind"},
		{"binning on categorical", `
attributes: [{name: a, kind: categorical, binning: {method: fixed, breaks: [0, 1]}}]`, "requires kind numeric"},
		{"bad binning", `
attributes: [{name: a, binning: {method: equal_width}}]`, "bins must be at least 1"},
		{"filter on unknown attribute", `
attributes: [{name: a}]
filters: [{name: f, attribute: b, categories: [x]}]`, "unknown attribute"},
		{"filter with two selectors", `
attributes: [{name: a}]
filters: [{name: f, attribute: a, categories: [x], no_value: true}]`, "exactly one"},
		{"unknown step", `
attributes: [{name: a}]
steps: [{action: jump}]`, "unknown action"},
		{"bad slot", `
attributes: [{name: a}]
steps: [{action: compare, slot: F, attribute: a, values: [x]}]`, "steps[0]"},
		{"compare without selection", `
attributes: [{name: a}]
steps: [{action: compare, slot: A, attribute: a}]`, "values, labels or range"},
		{"unknown filter", `
attributes: [{name: a}]
steps: [{action: filter, filter: nope}]`, "unknown filter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuildAndRun(t *testing.T) {
	s, err := Load(filepath.Join("testdata", "walkthrough.yaml"))
	require.NoError(t, err)

	ds, err := s.Build()
	require.NoError(t, err)
	assert.Equal(t, 5, ds.Len())
	require.Len(t, ds.Filters().Filters(), 2)
	assert.Empty(t, ds.Filters().Active(), "no filter is marked active")

	var out bytes.Buffer
	require.NoError(t, s.Run(ds, &out))

	text := out.String()
	assert.Contains(t, text, "## 1. filter drop-r2")
	assert.Contains(t, text, "filter/activated: 5 evaluated, 1 flipped")
	assert.Contains(t, text, "_2 aggregates, 4 of 5 records included_")
	assert.Contains(t, text, "consistent")

	bin, ok := ds.Attribute("bin")
	require.True(t, ok)
	x := bin.AggregateByKey("X")
	y := bin.AggregateByKey("Y")
	assert.Equal(t, 60.0, x.Measure(facets.Total))
	assert.Equal(t, 40.0, x.Measure(facets.Active))
	assert.Equal(t, 40.0, x.Measure(facets.CompareA))
	assert.Equal(t, 40.0, y.Measure(facets.CompareA))
	assert.Equal(t, 50.0, y.Other().Sum)
	assert.Zero(t, y.RecCnt(facets.CompareB), "preview was ended")
	assert.Empty(t, ds.Imbalances())
}

func TestRunStopsAtFailingStep(t *testing.T) {
	s, err := Parse([]byte(`
rows:
  - {id: a, color: red}
attributes:
  - name: color
steps:
  - action: print
    attribute: color
  - action: compare
    slot: A
    attribute: color
    values: [blue]
  - action: print
    attribute: color
`))
	require.NoError(t, err)
	ds, err := s.Build(engine.WithStrictChecks(true))
	require.NoError(t, err)

	var out bytes.Buffer
	err = s.Run(ds, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 2 (compare A color)")
	assert.NotContains(t, out.String(), "## 3.")
}

func TestRunSteps(t *testing.T) {
	s, err := Parse([]byte(`
rows:
  - {id: a, color: red, size: 1}
  - {id: b, color: blue, size: 5}
  - {id: c, size: 9}
attributes:
  - name: color
  - name: size
    kind: numeric
filters:
  - name: has-color
    attribute: color
    no_value: false
    active: true
  - name: small
    attribute: size
    range: {max: 4}
steps:
  - action: add
    rows: [{id: d, color: red, size: 2}]
  - action: compare
    slot: Compare_C
    attribute: color
    values: [red]
  - action: repartition
    attribute: size
    binning: {method: fixed, breaks: [0, 5, 10]}
  - action: filter
    filter: small
    range: {max: 6}
  - action: remove
    record: a
  - action: uncompare
    slot: C
  - action: unfilter
    filter: small
`))
	require.NoError(t, err)
	ds, err := s.Build()
	require.NoError(t, err)
	assert.Equal(t, 2, ds.IncludedCount(), "c has no color")

	var out bytes.Buffer
	require.NoError(t, s.Run(ds, &out))
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, 2, ds.IncludedCount())
	assert.Nil(t, ds.Compare().Criterion(facets.SlotC))

	size, _ := ds.Attribute("size")
	assert.Equal(t, []float64{0, 5, 10}, size.Breaks())
	assert.True(t, strings.Contains(out.String(), "## 7. unfilter small"))
	assert.Empty(t, ds.Imbalances())
}
