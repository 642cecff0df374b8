package engine

import (
	"github.com/wbrown/janus-facets/facets"
	"github.com/wbrown/janus-facets/facets/annotations"
)

// RecordIndex addresses a record in its dataset's arena.
type RecordIndex int32

// Record is one dataset row together with its membership caches.
//
// Records are created by Dataset.AddRow and mutated only through the
// methods below; aggregates and coordinators never write its fields
// directly.
type Record struct {
	ds    *Dataset
	index RecordIndex
	id    string
	row   facets.Row

	measure    float64
	hasMeasure bool // false means measure_Self is nil: no contribution

	values map[AttributeID]facets.Value

	// Only active filters have an entry. A missing entry passes.
	filterCache map[FilterID]bool
	dirty       bool
	filteredOut bool

	compared facets.SlotSet

	aggregates []AggregateIndex
	removed    bool
}

// ID returns the stable external id.
func (r *Record) ID() string { return r.id }

// Index returns the arena index.
func (r *Record) Index() RecordIndex { return r.index }

// Row returns the raw input row.
func (r *Record) Row() facets.Row { return r.row }

// Measure returns measure_Self and false when the record has none.
func (r *Record) Measure() (float64, bool) { return r.measure, r.hasMeasure }

// IsIncluded reports whether the record passes every active filter.
func (r *Record) IsIncluded() bool { return !r.filteredOut }

// IsFilteredOut is the negation of IsIncluded.
func (r *Record) IsFilteredOut() bool { return r.filteredOut }

// IsDirty reports whether a filter result changed since the last
// RecomputeInclusion.
func (r *Record) IsDirty() bool { return r.dirty }

// ActiveComparisons returns the compare slots this record is selected for.
func (r *Record) ActiveComparisons() facets.SlotSet { return r.compared }

// IsCompared reports whether the record is selected for slot.
func (r *Record) IsCompared(slot facets.CompareSlot) bool { return r.compared.Has(slot) }

// Value returns the cached value for attr, or nil if the attribute has not
// been partitioned yet or the record has no value.
func (r *Record) Value(attr *Attribute) facets.Value {
	if attr == nil {
		return nil
	}
	return r.values[attr.id]
}

// FilterResult returns the cached result for a filter and whether an
// entry exists (only active filters have one).
func (r *Record) FilterResult(id FilterID) (passes bool, ok bool) {
	passes, ok = r.filterCache[id]
	return passes, ok
}

// Aggregates returns the aggregates this record belongs to, one per
// partitioned attribute.
func (r *Record) Aggregates() []*Aggregate {
	out := make([]*Aggregate, 0, len(r.aggregates))
	for _, ai := range r.aggregates {
		if a := r.ds.aggregate(ai); a != nil {
			out = append(out, a)
		}
	}
	return out
}

// AggregateFor returns the record's aggregate in attr's partition.
func (r *Record) AggregateFor(attr *Attribute) *Aggregate {
	for _, ai := range r.aggregates {
		if a := r.ds.aggregate(ai); a != nil && a.attr == attr {
			return a
		}
	}
	return nil
}

// SetFilterResult caches whether the record passes filter id and marks the
// record dirty if the cached value changed. It never touches aggregates;
// RecomputeInclusion does that once per pass. Ids that are not active
// filters of the record's dataset are ignored.
func (r *Record) SetFilterResult(id FilterID, passes bool) bool {
	if r.removed || !r.ds.filters.isActive(id) {
		return false
	}
	prev, ok := r.filterCache[id]
	if !ok {
		prev = true
	}
	r.filterCache[id] = passes
	if prev == passes {
		return false
	}
	r.dirty = true
	return true
}

// clearFilterResult drops the entry of a deactivated filter. Returns true
// when the record was failing it, since that can flip inclusion.
func (r *Record) clearFilterResult(id FilterID) bool {
	prev, ok := r.filterCache[id]
	if !ok {
		return false
	}
	delete(r.filterCache, id)
	if prev {
		return false
	}
	r.dirty = true
	return true
}

// RecomputeInclusion recomputes filteredOut from the filter cache. When
// the combined state flips, it pushes a signed delta to every
// back-referenced aggregate (Active, the selected Compare_X and Other),
// updates the dataset's included count and returns true. When unchanged
// it performs no aggregate writes. Called outside a pass, it runs as a
// pass of its own.
func (r *Record) RecomputeInclusion() bool {
	if r.removed {
		return false
	}
	ds := r.ds
	if ds.pass.depth == 0 {
		ds.beginPass(annotations.RecordInclusion)
		defer ds.endPass()
	}
	r.dirty = false

	out := false
	for _, passes := range r.filterCache {
		if !passes {
			out = true
			break
		}
	}
	if out == r.filteredOut {
		return false
	}

	before := r.measureSet()
	r.filteredOut = out
	r.fanOut(before, r.measureSet())
	ds.inclusionFlipped(r)
	return true
}

// SetCompared selects the record for slot. Idempotent. The flag is always
// updated; accumulators change only when the record is included.
func (r *Record) SetCompared(slot facets.CompareSlot) bool {
	if r.removed || !slot.Valid() || r.compared.Has(slot) {
		return false
	}
	if r.ds.pass.depth == 0 {
		r.ds.beginPass(annotations.RecordCompared)
		defer r.ds.endPass()
	}
	before := r.measureSet()
	r.compared = r.compared.With(slot)
	r.fanOut(before, r.measureSet())
	return true
}

// UnsetCompared deselects the record for slot. Idempotent.
func (r *Record) UnsetCompared(slot facets.CompareSlot) bool {
	if r.removed || !slot.Valid() || !r.compared.Has(slot) {
		return false
	}
	if r.ds.pass.depth == 0 {
		r.ds.beginPass(annotations.RecordCompared)
		defer r.ds.endPass()
	}
	before := r.measureSet()
	r.compared = r.compared.Without(slot)
	r.fanOut(before, r.measureSet())
	return true
}

func (r *Record) addAggregateBackref(ai AggregateIndex) {
	r.aggregates = append(r.aggregates, ai)
}

func (r *Record) removeAggregateBackref(ai AggregateIndex) bool {
	for i, x := range r.aggregates {
		if x == ai {
			last := len(r.aggregates) - 1
			r.aggregates[i] = r.aggregates[last]
			r.aggregates = r.aggregates[:last]
			return true
		}
	}
	return false
}

func (r *Record) hasAggregateBackref(ai AggregateIndex) bool {
	for _, x := range r.aggregates {
		if x == ai {
			return true
		}
	}
	return false
}

// measureSet returns the buckets the record currently contributes to.
func (r *Record) measureSet() measureSet {
	return measureSetFor(!r.filteredOut, r.compared)
}

// fanOut moves the record's contribution from the before buckets to the
// after buckets in every back-referenced aggregate.
func (r *Record) fanOut(before, after measureSet) {
	if before == after || !r.hasMeasure {
		return
	}
	for _, ai := range r.aggregates {
		if a := r.ds.aggregate(ai); a != nil {
			a.shift(r, before, after)
		}
	}
}
