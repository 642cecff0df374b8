package engine

import (
	"fmt"

	"github.com/wbrown/janus-facets/facets"
	"github.com/wbrown/janus-facets/facets/annotations"
)

// AggregateIndex addresses an aggregate in its dataset's arena.
type AggregateIndex int32

// noAggregate marks an unset aggregate reference.
const noAggregate AggregateIndex = -1

// Interval is the numeric range covered by an interval aggregate.
// Lo is inclusive; Hi is exclusive except for the attribute's last bin.
type Interval struct {
	Lo, Hi float64
	Last   bool
}

// Contains reports whether v falls inside the interval.
func (iv Interval) Contains(v float64) bool {
	if v < iv.Lo {
		return false
	}
	if iv.Last {
		return v <= iv.Hi
	}
	return v < iv.Hi
}

func (iv Interval) String() string {
	if iv.Last {
		return fmt.Sprintf("[%g,%g]", iv.Lo, iv.Hi)
	}
	return fmt.Sprintf("[%g,%g)", iv.Lo, iv.Hi)
}

// Aggregate is one bin of an attribute's partition.
//
// Member removal is O(1): position maps each member to its slot in
// members and removal swaps with the last member.
type Aggregate struct {
	ds    *Dataset
	index AggregateIndex
	attr  *Attribute

	key      facets.Value
	label    string
	interval *Interval
	noValue  bool

	members  []RecordIndex
	position map[RecordIndex]int

	measures Measures
	other    Accumulator

	destroyed bool
}

// Index returns the arena index.
func (a *Aggregate) Index() AggregateIndex { return a.index }

// Attribute returns the owning attribute.
func (a *Aggregate) Attribute() *Attribute { return a.attr }

// Key returns the categorical value (or interval lower bound) of the bin;
// nil for the no-value aggregate.
func (a *Aggregate) Key() facets.Value { return a.key }

// Label returns a display label for the bin.
func (a *Aggregate) Label() string { return a.label }

// Interval returns the numeric range for interval bins, nil otherwise.
func (a *Aggregate) Interval() *Interval { return a.interval }

// IsNoValue reports whether this is the attribute's no-value sentinel.
func (a *Aggregate) IsNoValue() bool { return a.noValue }

// Len returns the number of members, including records with a nil measure.
func (a *Aggregate) Len() int { return len(a.members) }

// Contains reports whether r is a member.
func (a *Aggregate) Contains(r *Record) bool {
	if r == nil {
		return false
	}
	_, ok := a.position[r.index]
	return ok
}

// Records returns the members in storage order.
func (a *Aggregate) Records() []*Record {
	out := make([]*Record, 0, len(a.members))
	for _, ri := range a.members {
		if r := a.ds.record(ri); r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Accumulator returns the accumulator for t.
func (a *Aggregate) Accumulator(t facets.MeasureType) Accumulator {
	if !t.Valid() {
		return Accumulator{}
	}
	return a.measures[t]
}

// Measure returns the summed measure for t.
func (a *Aggregate) Measure(t facets.MeasureType) float64 {
	return a.Accumulator(t).Sum
}

// RecCnt returns the record count for t.
func (a *Aggregate) RecCnt(t facets.MeasureType) int {
	return a.Accumulator(t).Count
}

// Average returns Measure(t)/RecCnt(t), or 0 when the count is 0.
func (a *Aggregate) Average(t facets.MeasureType) float64 {
	return a.Accumulator(t).Average()
}

// Measures returns a copy of every accumulator.
func (a *Aggregate) Measures() Measures { return a.measures }

// Other returns the contribution of included members that hold no
// compare slot. Maintained incrementally alongside the other buckets.
func (a *Aggregate) Other() Accumulator { return a.other }

// IsAnchor reports whether this aggregate is the dataset's comparison anchor.
func (a *Aggregate) IsAnchor() bool {
	return a.ds.anchor == a.index && !a.destroyed
}

// ComparedSlots returns the slots whose criterion selects this aggregate.
func (a *Aggregate) ComparedSlots() facets.SlotSet {
	return a.ds.compare.slotsSelecting(a)
}

// AddRecord makes r a member and folds its current contribution into
// Total, Active (if included), each selected Compare_X (if included) and
// Other. Adding an existing member is a no-op.
func (a *Aggregate) AddRecord(r *Record) error {
	if err := a.ds.checkRecord(r); err != nil {
		return err
	}
	if a.destroyed {
		return fmt.Errorf("aggregate %s: destroyed", a)
	}
	if a.Contains(r) {
		return nil
	}
	a.attach(r)
	a.shift(r, 0, r.measureSet())
	return nil
}

// RemoveRecord is the inverse of AddRecord.
func (a *Aggregate) RemoveRecord(r *Record) error {
	if err := a.ds.checkRecord(r); err != nil {
		return err
	}
	if !a.Contains(r) {
		return fmt.Errorf("aggregate %s: record %s is not a member: %w", a, r.id, facets.ErrUnknownRecord)
	}
	a.shift(r, r.measureSet(), 0)
	a.detach(r)
	return nil
}

// ResetAggregateMeasures zeroes every accumulator and folds every member
// back in from scratch. The fold is a pure sum, so member order is
// irrelevant.
func (a *Aggregate) ResetAggregateMeasures() {
	measures, other := a.scratch()
	if measures == a.measures && other == a.other {
		return
	}
	a.measures, a.other = measures, other
	a.ds.touch(a)
}

// scratch folds every member into fresh accumulators.
func (a *Aggregate) scratch() (Measures, Accumulator) {
	var measures Measures
	var other Accumulator
	for _, ri := range a.members {
		r := a.ds.record(ri)
		if r == nil || !r.hasMeasure {
			continue
		}
		s := r.measureSet()
		for t := facets.Total; t < facets.NumMeasureTypes; t++ {
			if s.has(t) {
				measures[t].Add(1, r.measure)
			}
		}
		if s&otherBit != 0 {
			other.Add(1, r.measure)
		}
	}
	return measures, other
}

// attach registers membership and the back-reference without accounting.
func (a *Aggregate) attach(r *Record) {
	a.position[r.index] = len(a.members)
	a.members = append(a.members, r.index)
	r.addAggregateBackref(a.index)
}

// detach removes membership and the back-reference without accounting.
func (a *Aggregate) detach(r *Record) {
	pos, ok := a.position[r.index]
	if !ok {
		return
	}
	last := len(a.members) - 1
	moved := a.members[last]
	a.members[pos] = moved
	a.position[moved] = pos
	a.members = a.members[:last]
	delete(a.position, r.index)
	r.removeAggregateBackref(a.index)
}

// shift moves r's contribution out of the buckets only in before and into
// the buckets only in after.
func (a *Aggregate) shift(r *Record, before, after measureSet) {
	if before == after || !r.hasMeasure {
		return
	}
	if removed := before &^ after; removed != 0 {
		a.fold(removed, -1, -r.measure)
	}
	if added := after &^ before; added != 0 {
		a.fold(added, 1, r.measure)
	}
	a.ds.touch(a)
}

// fold applies (count, sum) to every bucket in s.
func (a *Aggregate) fold(s measureSet, count int, sum float64) {
	for t := facets.Total; t < facets.NumMeasureTypes; t++ {
		if s.has(t) {
			a.measures[t].Add(count, sum)
			a.ds.metrics.aggregateUpdate()
		}
	}
	if s&otherBit != 0 {
		a.other.Add(count, sum)
	}
}

func (a *Aggregate) String() string {
	name := "?"
	if a.attr != nil {
		name = a.attr.name
	}
	return name + "=" + a.label
}

// info is the annotation view of the aggregate.
func (a *Aggregate) info() annotations.AggregateInfo {
	return annotations.AggregateInfo{
		Attribute: a.attr.name,
		Label:     a.label,
		Total:     a.measures[facets.Total].Count,
		Active:    a.measures[facets.Active].Count,
	}
}
