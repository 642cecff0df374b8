package facets

import (
	"fmt"
	"strings"
)

// MeasureType names one accounting bucket kept by every aggregate.
type MeasureType int

const (
	// Total counts every member regardless of filters and comparisons
	Total MeasureType = iota
	// Active counts members passing all active filters
	Active
	CompareA
	CompareB
	CompareC
	CompareD
	CompareE

	// NumMeasureTypes sizes per-aggregate accumulator arrays
	NumMeasureTypes
)

var measureTypeNames = [NumMeasureTypes]string{
	"Total", "Active", "Compare_A", "Compare_B", "Compare_C", "Compare_D", "Compare_E",
}

// String returns the display name, e.g. "Compare_A".
func (t MeasureType) String() string {
	if t < 0 || t >= NumMeasureTypes {
		return fmt.Sprintf("MeasureType(%d)", int(t))
	}
	return measureTypeNames[t]
}

// Valid reports whether t is one of the defined measure types.
func (t MeasureType) Valid() bool {
	return t >= Total && t < NumMeasureTypes
}

// IsCompare reports whether t is one of Compare_A..E.
func (t MeasureType) IsCompare() bool {
	return t >= CompareA && t <= CompareE
}

// Slot returns the compare slot backing t. Only valid when IsCompare is true.
func (t MeasureType) Slot() CompareSlot {
	return CompareSlot(t - CompareA)
}

// ParseMeasureType accepts "Total", "Active", "Compare_A" and the short
// forms "A".."E", case-insensitively.
func ParseMeasureType(s string) (MeasureType, error) {
	for i, name := range measureTypeNames {
		if strings.EqualFold(s, name) {
			return MeasureType(i), nil
		}
	}
	if slot, err := ParseCompareSlot(s); err == nil {
		return slot.MeasureType(), nil
	}
	return 0, fmt.Errorf("unknown measure type %q", s)
}

// CompareSlot is one of the five comparison groups A..E.
type CompareSlot int

const (
	SlotA CompareSlot = iota
	SlotB
	SlotC
	SlotD
	SlotE

	// NumCompareSlots is the number of comparison groups
	NumCompareSlots
)

// Valid reports whether s is in A..E.
func (s CompareSlot) Valid() bool {
	return s >= SlotA && s < NumCompareSlots
}

// MeasureType returns the Compare_X measure type tracking this slot.
func (s CompareSlot) MeasureType() MeasureType {
	return CompareA + MeasureType(s)
}

func (s CompareSlot) String() string {
	if !s.Valid() {
		return fmt.Sprintf("CompareSlot(%d)", int(s))
	}
	return string(rune('A' + int(s)))
}

// ParseCompareSlot accepts "A".."E" or "Compare_A".."Compare_E".
func ParseCompareSlot(s string) (CompareSlot, error) {
	name := strings.ToUpper(strings.TrimPrefix(strings.ToLower(s), "compare_"))
	if len(name) == 1 && name[0] >= 'A' && name[0] <= 'E' {
		return CompareSlot(name[0] - 'A'), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSlot, s)
}

// SlotSet is a bit set of compare slots. Slots are not mutually exclusive.
type SlotSet uint8

// Has reports whether slot is in the set.
func (s SlotSet) Has(slot CompareSlot) bool {
	return s&(1<<uint(slot)) != 0
}

// With returns the set with slot added.
func (s SlotSet) With(slot CompareSlot) SlotSet {
	return s | 1<<uint(slot)
}

// Without returns the set with slot removed.
func (s SlotSet) Without(slot CompareSlot) SlotSet {
	return s &^ (1 << uint(slot))
}

// Empty reports whether no slot is set.
func (s SlotSet) Empty() bool {
	return s == 0
}

// Slots lists the members in A..E order.
func (s SlotSet) Slots() []CompareSlot {
	var out []CompareSlot
	for slot := SlotA; slot < NumCompareSlots; slot++ {
		if s.Has(slot) {
			out = append(out, slot)
		}
	}
	return out
}

func (s SlotSet) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, slot := range s.Slots() {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(slot.String())
	}
	b.WriteByte(']')
	return b.String()
}
