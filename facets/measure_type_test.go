package facets

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeasureTypeNames(t *testing.T) {
	assert.Equal(t, "Total", Total.String())
	assert.Equal(t, "Active", Active.String())
	assert.Equal(t, "Compare_A", CompareA.String())
	assert.Equal(t, "Compare_E", CompareE.String())
	assert.Equal(t, "MeasureType(9)", MeasureType(9).String())

	assert.False(t, Active.IsCompare())
	assert.True(t, CompareC.IsCompare())
	assert.Equal(t, SlotC, CompareC.Slot())
	assert.Equal(t, CompareD, SlotD.MeasureType())
}

func TestParseMeasureType(t *testing.T) {
	tests := []struct {
		in   string
		want MeasureType
	}{
		{"Total", Total},
		{"active", Active},
		{"Compare_B", CompareB},
		{"compare_e", CompareE},
		{"c", CompareC},
	}
	for _, tt := range tests {
		got, err := ParseMeasureType(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseMeasureType("Other")
	assert.Error(t, err)
}

func TestParseCompareSlot(t *testing.T) {
	slot, err := ParseCompareSlot("b")
	require.NoError(t, err)
	assert.Equal(t, SlotB, slot)

	slot, err = ParseCompareSlot("Compare_E")
	require.NoError(t, err)
	assert.Equal(t, SlotE, slot)

	_, err = ParseCompareSlot("F")
	assert.ErrorIs(t, err, ErrInvalidSlot)
}

func TestSlotSet(t *testing.T) {
	var s SlotSet
	assert.True(t, s.Empty())

	s = s.With(SlotA).With(SlotC).With(SlotA)
	assert.True(t, s.Has(SlotA))
	assert.False(t, s.Has(SlotB))
	assert.Equal(t, []CompareSlot{SlotA, SlotC}, s.Slots())
	assert.Equal(t, "[A C]", s.String())

	s = s.Without(SlotA).Without(SlotB)
	assert.Equal(t, []CompareSlot{SlotC}, s.Slots())
}

func TestPredicateErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("bad input")
	err := error(&PredicateError{Filter: "f", RecordID: "r1", Err: cause})
	assert.True(t, errors.Is(err, ErrPredicateFailure))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "r1")

	panicked := error(&PredicateError{Filter: "f", RecordID: "r2", Panic: "boom"})
	assert.True(t, errors.Is(panicked, ErrPredicateFailure))
	assert.Contains(t, panicked.Error(), "panicked: boom")
}
