package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wbrown/janus-facets/facets"
	"github.com/wbrown/janus-facets/facets/annotations"
)

// Criterion selects the records belonging to a compare slot. Every
// criterion is scoped to one attribute; at most one attribute is the
// comparison attribute at a time.
type Criterion interface {
	Attribute() *Attribute
	Selects(r *Record) bool
	String() string
}

// AggregateCriterion selects the members of one or more aggregates of a
// single attribute, e.g. "category = Blue".
type AggregateCriterion struct {
	attr     *Attribute
	accepted map[AggregateIndex]struct{}
	labels   []string
}

// NewAggregateCriterion selects the members of aggs, which must all belong
// to the same attribute.
func NewAggregateCriterion(aggs ...*Aggregate) (*AggregateCriterion, error) {
	if len(aggs) == 0 {
		return nil, fmt.Errorf("aggregate criterion: no aggregates")
	}
	c := &AggregateCriterion{
		attr:     aggs[0].attr,
		accepted: make(map[AggregateIndex]struct{}, len(aggs)),
	}
	for _, a := range aggs {
		if a.attr != c.attr {
			return nil, fmt.Errorf("aggregate criterion: %s and %s: %w", aggs[0], a, facets.ErrAttributeMismatch)
		}
		c.accepted[a.index] = struct{}{}
		c.labels = append(c.labels, a.label)
	}
	sort.Strings(c.labels)
	return c, nil
}

func (c *AggregateCriterion) Attribute() *Attribute { return c.attr }

func (c *AggregateCriterion) Selects(r *Record) bool {
	for _, ai := range r.aggregates {
		if _, ok := c.accepted[ai]; ok {
			return true
		}
	}
	return false
}

// Aggregates returns the selected aggregates.
func (c *AggregateCriterion) Aggregates() []*Aggregate {
	out := make([]*Aggregate, 0, len(c.accepted))
	for ai := range c.accepted {
		if a := c.attr.ds.aggregate(ai); a != nil {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

func (c *AggregateCriterion) selects(a *Aggregate) bool {
	_, ok := c.accepted[a.index]
	return ok
}

func (c *AggregateCriterion) String() string {
	return c.attr.name + " in {" + strings.Join(c.labels, ", ") + "}"
}

// PredicateCriterion selects records with a predicate over the
// attribute's cached value.
type PredicateCriterion struct {
	Attr *Attribute
	Pred Predicate
}

func (c PredicateCriterion) Attribute() *Attribute { return c.Attr }

func (c PredicateCriterion) Selects(r *Record) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	ok, err := c.Pred.Evaluate(r, r.Value(c.Attr))
	return ok && err == nil
}

func (c PredicateCriterion) String() string {
	return c.Attr.name + " " + c.Pred.String()
}

type slotState struct {
	committed Criterion
	preview   Criterion
	locked    bool
}

func (s slotState) effective() Criterion {
	if s.preview != nil {
		return s.preview
	}
	return s.committed
}

// CompareCoordinator owns the mapping from compare slot to criterion and
// keeps every record's slot membership in step with it.
//
// Committed slots are locked: hover-style previews cannot alter them.
// A preview on an unlocked slot uses the same SetCompared/UnsetCompared
// machinery and EndPreview reverts it exactly.
type CompareCoordinator struct {
	ds    *Dataset
	slots [facets.NumCompareSlots]slotState
	attr  *Attribute
	// anchor of the last committed selection, restored by EndPreview
	committedAnchor AggregateIndex
}

func newCompareCoordinator(ds *Dataset) *CompareCoordinator {
	return &CompareCoordinator{ds: ds, committedAnchor: noAggregate}
}

// Attribute returns the active comparison attribute, or nil.
func (cc *CompareCoordinator) Attribute() *Attribute { return cc.attr }

// Criterion returns the criterion in effect for slot (preview first).
func (cc *CompareCoordinator) Criterion(slot facets.CompareSlot) Criterion {
	if !slot.Valid() {
		return nil
	}
	return cc.slots[slot].effective()
}

// IsLocked reports whether slot holds a committed, locked selection.
func (cc *CompareCoordinator) IsLocked(slot facets.CompareSlot) bool {
	return slot.Valid() && cc.slots[slot].locked
}

// IsPreviewing reports whether any slot holds a transient preview.
func (cc *CompareCoordinator) IsPreviewing() bool {
	for _, s := range cc.slots {
		if s.preview != nil {
			return true
		}
	}
	return false
}

// FreeSlot returns the first slot with no committed selection.
func (cc *CompareCoordinator) FreeSlot() (facets.CompareSlot, bool) {
	for slot := facets.SlotA; slot < facets.NumCompareSlots; slot++ {
		if cc.slots[slot].committed == nil && !cc.slots[slot].locked {
			return slot, true
		}
	}
	return 0, false
}

// SetSlot commits criterion to slot and locks it. Selecting a criterion
// on a different attribute first clears every slot.
func (cc *CompareCoordinator) SetSlot(slot facets.CompareSlot, c Criterion) (PassResult, error) {
	if err := cc.validate(slot, c); err != nil {
		return PassResult{}, err
	}

	ds := cc.ds
	start := time.Now()
	ds.beginPass(annotations.CompareSlotSet)
	if cc.attr != nil && cc.attr != c.Attribute() {
		cc.clearAll()
	}
	cc.attr = c.Attribute()
	cc.slots[slot] = slotState{committed: c, locked: true}
	cc.applySlot(slot)
	cc.committedAnchor = anchorOf(c)
	ds.setAnchor(cc.committedAnchor)
	ds.ctx.CompareChanged(annotations.CompareSlotSet, slot, c, start)
	return ds.endPass(), nil
}

// ClearSlot removes the slot's committed selection and any preview.
func (cc *CompareCoordinator) ClearSlot(slot facets.CompareSlot) (PassResult, error) {
	if !slot.Valid() {
		return PassResult{}, fmt.Errorf("slot %d: %w", int(slot), facets.ErrInvalidSlot)
	}
	ds := cc.ds
	start := time.Now()
	ds.beginPass(annotations.CompareSlotCleared)
	prev := cc.slots[slot].effective()
	cc.slots[slot] = slotState{}
	cc.applySlot(slot)
	cc.settleAnchor()
	cc.releaseAttribute()
	ds.ctx.CompareChanged(annotations.CompareSlotCleared, slot, prev, start)
	return ds.endPass(), nil
}

// ClearAll empties every slot in one pass.
func (cc *CompareCoordinator) ClearAll() PassResult {
	ds := cc.ds
	ds.beginPass(annotations.CompareSlotCleared)
	cc.clearAll()
	return ds.endPass()
}

// Lock freezes the slot's current criterion against previews. A pending
// preview on the slot becomes its committed selection.
func (cc *CompareCoordinator) Lock(slot facets.CompareSlot) error {
	if !slot.Valid() {
		return fmt.Errorf("slot %d: %w", int(slot), facets.ErrInvalidSlot)
	}
	s := &cc.slots[slot]
	if s.preview != nil {
		s.committed = s.preview
		s.preview = nil
		cc.committedAnchor = anchorOf(s.committed)
	}
	if s.committed != nil {
		s.locked = true
	}
	return nil
}

// Unlock lets previews replace the slot's committed criterion temporarily.
func (cc *CompareCoordinator) Unlock(slot facets.CompareSlot) error {
	if !slot.Valid() {
		return fmt.Errorf("slot %d: %w", int(slot), facets.ErrInvalidSlot)
	}
	cc.slots[slot].locked = false
	return nil
}

// Preview applies a transient criterion to an unlocked slot. Locked slots
// are refused with ErrSlotLocked, and so is a preview on another attribute
// while committed selections exist.
func (cc *CompareCoordinator) Preview(slot facets.CompareSlot, c Criterion) (PassResult, error) {
	if err := cc.validate(slot, c); err != nil {
		return PassResult{}, err
	}
	if cc.slots[slot].locked {
		return PassResult{}, fmt.Errorf("preview slot %s: %w", slot, facets.ErrSlotLocked)
	}

	if cc.attr != nil && cc.attr != c.Attribute() && cc.hasCommitted() {
		return PassResult{}, fmt.Errorf("preview on %s while comparing %s: %w",
			c.Attribute().name, cc.attr.name, facets.ErrAttributeMismatch)
	}

	ds := cc.ds
	start := time.Now()
	ds.beginPass(annotations.ComparePreview)
	if cc.attr != nil && cc.attr != c.Attribute() {
		cc.clearAll()
	}
	cc.attr = c.Attribute()
	cc.slots[slot].preview = c
	cc.applySlot(slot)
	ds.setAnchor(anchorOf(c))
	ds.ctx.CompareChanged(annotations.ComparePreview, slot, c, start)
	return ds.endPass(), nil
}

// EndPreview drops every transient preview, restoring committed
// membership. Accumulators return exactly to their pre-preview values.
func (cc *CompareCoordinator) EndPreview() PassResult {
	ds := cc.ds
	start := time.Now()
	ds.beginPass(annotations.ComparePreviewEnded)
	for slot := facets.SlotA; slot < facets.NumCompareSlots; slot++ {
		if cc.slots[slot].preview == nil {
			continue
		}
		cc.slots[slot].preview = nil
		cc.applySlot(slot)
		ds.ctx.CompareChanged(annotations.ComparePreviewEnded, slot, cc.slots[slot].committed, start)
	}
	ds.setAnchor(cc.committedAnchor)
	cc.releaseAttribute()
	return ds.endPass()
}

// CommitPreview locks the slot's preview in as its committed selection.
func (cc *CompareCoordinator) CommitPreview(slot facets.CompareSlot) error {
	if !slot.Valid() {
		return fmt.Errorf("slot %d: %w", int(slot), facets.ErrInvalidSlot)
	}
	if cc.slots[slot].preview == nil {
		return nil
	}
	return cc.Lock(slot)
}

func (cc *CompareCoordinator) validate(slot facets.CompareSlot, c Criterion) error {
	if !slot.Valid() {
		return fmt.Errorf("slot %d: %w", int(slot), facets.ErrInvalidSlot)
	}
	if c == nil || c.Attribute() == nil {
		return fmt.Errorf("slot %s: criterion without attribute: %w", slot, facets.ErrUnknownAttribute)
	}
	if c.Attribute().ds != cc.ds {
		return fmt.Errorf("slot %s: %w", slot, facets.ErrUnknownAttribute)
	}
	c.Attribute().ensurePartitioned()
	return nil
}

// applySlot reconciles every record's membership in slot with the
// criterion in effect.
func (cc *CompareCoordinator) applySlot(slot facets.CompareSlot) {
	c := cc.slots[slot].effective()
	for _, r := range cc.ds.liveRecords() {
		if c != nil && c.Selects(r) {
			r.SetCompared(slot)
		} else {
			r.UnsetCompared(slot)
		}
	}
}

// applyRecord settles a newly ingested record against every slot.
func (cc *CompareCoordinator) applyRecord(r *Record) {
	for slot := facets.SlotA; slot < facets.NumCompareSlots; slot++ {
		if c := cc.slots[slot].effective(); c != nil && c.Selects(r) {
			r.SetCompared(slot)
		}
	}
}

// clearAll empties every slot with a full clear pass over the records.
func (cc *CompareCoordinator) clearAll() {
	for slot := facets.SlotA; slot < facets.NumCompareSlots; slot++ {
		if cc.slots[slot].effective() == nil && !cc.slots[slot].locked {
			continue
		}
		cc.slots[slot] = slotState{}
		cc.applySlot(slot)
	}
	cc.attr = nil
	cc.committedAnchor = noAggregate
	cc.ds.setAnchor(noAggregate)
}

// attributeRepartitioned drops aggregate criteria on attr, whose
// aggregates no longer exist, and re-applies predicate criteria.
func (cc *CompareCoordinator) attributeRepartitioned(attr *Attribute) {
	if cc.attr != attr {
		return
	}
	for slot := facets.SlotA; slot < facets.NumCompareSlots; slot++ {
		s := &cc.slots[slot]
		if _, stale := s.committed.(*AggregateCriterion); stale {
			s.committed = nil
			s.locked = false
		}
		if _, stale := s.preview.(*AggregateCriterion); stale {
			s.preview = nil
		}
		cc.applySlot(slot)
	}
	cc.committedAnchor = noAggregate
	cc.ds.setAnchor(noAggregate)
	cc.releaseAttribute()
}

// settleAnchor drops anchors no remaining slot names. The dataset anchor
// falls back to the committed anchor once its own slot is gone.
func (cc *CompareCoordinator) settleAnchor() {
	if !cc.names(cc.committedAnchor, true) {
		cc.committedAnchor = noAggregate
	}
	if !cc.names(cc.ds.anchor, false) {
		cc.ds.setAnchor(cc.committedAnchor)
	}
}

// names reports whether some slot's criterion anchors on ai. With
// committedOnly, previews are ignored.
func (cc *CompareCoordinator) names(ai AggregateIndex, committedOnly bool) bool {
	if ai == noAggregate {
		return false
	}
	for _, s := range cc.slots {
		c := s.effective()
		if committedOnly {
			c = s.committed
		}
		if c != nil && anchorOf(c) == ai {
			return true
		}
	}
	return false
}

// releaseAttribute forgets the comparison attribute once no slot uses it.
func (cc *CompareCoordinator) releaseAttribute() {
	for _, s := range cc.slots {
		if s.effective() != nil {
			return
		}
	}
	cc.attr = nil
}

func (cc *CompareCoordinator) hasCommitted() bool {
	for _, s := range cc.slots {
		if s.committed != nil {
			return true
		}
	}
	return false
}

// slotsSelecting lists the slots whose criterion names aggregate a.
func (cc *CompareCoordinator) slotsSelecting(a *Aggregate) facets.SlotSet {
	var set facets.SlotSet
	for slot := facets.SlotA; slot < facets.NumCompareSlots; slot++ {
		if c, ok := cc.slots[slot].effective().(*AggregateCriterion); ok && c.selects(a) {
			set = set.With(slot)
		}
	}
	return set
}

// anchorOf returns the single aggregate a criterion names, if any.
func anchorOf(c Criterion) AggregateIndex {
	if ac, ok := c.(*AggregateCriterion); ok && len(ac.accepted) == 1 {
		for ai := range ac.accepted {
			return ai
		}
	}
	return noAggregate
}
