package engine

import (
	"fmt"
	"math"

	"github.com/wbrown/janus-facets/facets"
)

// Accumulator is a (count, sum) pair for one measure type.
type Accumulator struct {
	Count int
	Sum   float64
}

// Add applies a signed delta.
func (a *Accumulator) Add(count int, sum float64) {
	a.Count += count
	a.Sum += sum
}

// Average returns Sum/Count, or 0 when Count is 0.
func (a Accumulator) Average() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

// IsZero reports whether nothing has been accumulated.
func (a Accumulator) IsZero() bool {
	return a.Count == 0 && a.Sum == 0
}

func (a Accumulator) String() string {
	return fmt.Sprintf("%d/%g", a.Count, a.Sum)
}

// Close reports whether two accumulators agree up to float rounding.
// Incremental sums of fractional measures can differ from a fresh fold in
// the last bits.
func (a Accumulator) Close(b Accumulator) bool {
	if a.Count != b.Count {
		return false
	}
	scale := math.Max(1, math.Max(math.Abs(a.Sum), math.Abs(b.Sum)))
	return math.Abs(a.Sum-b.Sum) <= 1e-9*scale
}

// Measures holds one accumulator per measure type.
type Measures [facets.NumMeasureTypes]Accumulator

// Close compares every accumulator with Accumulator.Close.
func (m Measures) Close(o Measures) bool {
	for i := range m {
		if !m[i].Close(o[i]) {
			return false
		}
	}
	return true
}

// measureSet is the set of accounting buckets a record currently
// contributes to: one bit per facets.MeasureType plus otherBit.
type measureSet uint16

// otherBit marks the "Other" bucket: included and in no compare slot.
const otherBit measureSet = 1 << uint(facets.NumMeasureTypes)

func bitFor(t facets.MeasureType) measureSet {
	return 1 << uint(t)
}

// has reports whether t is in the set.
func (s measureSet) has(t facets.MeasureType) bool {
	return s&bitFor(t) != 0
}

// measureSetFor derives the buckets for a record in the given state.
// Total always; Active iff included; Compare_X iff included and selected;
// Other iff included and not selected anywhere.
func measureSetFor(included bool, compared facets.SlotSet) measureSet {
	s := bitFor(facets.Total)
	if !included {
		return s
	}
	s |= bitFor(facets.Active)
	if compared.Empty() {
		return s | otherBit
	}
	for slot := facets.SlotA; slot < facets.NumCompareSlots; slot++ {
		if compared.Has(slot) {
			s |= bitFor(slot.MeasureType())
		}
	}
	return s
}
