package engine

import (
	"fmt"
	"time"

	"github.com/wbrown/janus-facets/facets"
	"github.com/wbrown/janus-facets/facets/annotations"
)

// FilterCoordinator owns the dataset's filters and runs the passes that
// keep every record's inclusion state and every aggregate's Active and
// Compare_X accumulators in step with the active filter set.
//
// A pass first updates the filter cache of every record, then recomputes
// inclusion for exactly the records whose cache changed. A record's
// combined state therefore always reflects the complete new filter
// configuration, and each record touches its aggregates at most once per
// pass.
type FilterCoordinator struct {
	ds      *Dataset
	filters map[FilterID]*Filter
	order   []FilterID
	nextID  FilterID
}

func newFilterCoordinator(ds *Dataset) *FilterCoordinator {
	return &FilterCoordinator{
		ds:      ds,
		filters: make(map[FilterID]*Filter),
	}
}

// Add registers an inactive filter on attr. An attribute carries at most
// one filter; adding a second replaces the first (deactivating it).
func (fc *FilterCoordinator) Add(name string, attr *Attribute, pred Predicate) (*Filter, error) {
	if attr == nil || attr.ds != fc.ds {
		return nil, fmt.Errorf("filter %s: %w", name, facets.ErrUnknownAttribute)
	}
	if pred == nil {
		return nil, fmt.Errorf("filter %s: nil predicate", name)
	}
	if old := attr.filter; old != nil {
		if _, err := fc.Remove(old.id); err != nil {
			return nil, err
		}
	}

	f := &Filter{
		id:   fc.nextID,
		name: name,
		attr: attr,
		pred: pred,
	}
	if f.name == "" {
		f.name = fmt.Sprintf("%s#%d", attr.name, f.id)
	}
	fc.nextID++
	fc.filters[f.id] = f
	fc.order = append(fc.order, f.id)
	attr.filter = f
	return f, nil
}

// Filter looks a filter up by id.
func (fc *FilterCoordinator) Filter(id FilterID) (*Filter, bool) {
	f, ok := fc.filters[id]
	return f, ok
}

// ByName looks a filter up by name.
func (fc *FilterCoordinator) ByName(name string) (*Filter, bool) {
	for _, id := range fc.order {
		if f := fc.filters[id]; f.name == name {
			return f, true
		}
	}
	return nil, false
}

// Filters returns every registered filter in registration order.
func (fc *FilterCoordinator) Filters() []*Filter {
	out := make([]*Filter, 0, len(fc.order))
	for _, id := range fc.order {
		out = append(out, fc.filters[id])
	}
	return out
}

// Active returns the active filters in registration order.
func (fc *FilterCoordinator) Active() []*Filter {
	var out []*Filter
	for _, id := range fc.order {
		if f := fc.filters[id]; f.active {
			out = append(out, f)
		}
	}
	return out
}

// Activate starts enforcing a filter: every record is evaluated once.
// Activating an active filter re-applies it.
func (fc *FilterCoordinator) Activate(id FilterID) (PassResult, error) {
	f, err := fc.lookup(id)
	if err != nil {
		return PassResult{}, err
	}
	event := annotations.FilterApplied
	if !f.active {
		event = annotations.FilterActivated
	}
	return fc.run(f, event), nil
}

// Apply re-evaluates a filter after its parameters changed. An inactive
// filter is activated.
func (fc *FilterCoordinator) Apply(id FilterID) (PassResult, error) {
	return fc.Activate(id)
}

// SetPredicate swaps a filter's predicate. If the filter is active the
// change is applied immediately.
func (fc *FilterCoordinator) SetPredicate(id FilterID, pred Predicate) (PassResult, error) {
	f, err := fc.lookup(id)
	if err != nil {
		return PassResult{}, err
	}
	if pred == nil {
		return PassResult{}, fmt.Errorf("filter %s: nil predicate", f.name)
	}
	f.pred = pred
	if !f.active {
		return PassResult{}, nil
	}
	return fc.run(f, annotations.FilterApplied), nil
}

// Deactivate stops enforcing a filter. Records that were failing only
// this filter become included.
func (fc *FilterCoordinator) Deactivate(id FilterID) (PassResult, error) {
	f, err := fc.lookup(id)
	if err != nil {
		return PassResult{}, err
	}
	if !f.active {
		return PassResult{}, nil
	}

	ds := fc.ds
	start := time.Now()
	ds.beginPass(annotations.FilterDeactivated)
	f.active = false
	f.state = FilterInactive

	var changed []*Record
	for _, r := range ds.liveRecords() {
		if r.clearFilterResult(f.id) {
			changed = append(changed, r)
		}
	}
	fc.recompute(changed)
	ds.ctx.FilterChanged(annotations.FilterDeactivated, f, start)
	return ds.endPass(), nil
}

// Remove deactivates and unregisters a filter.
func (fc *FilterCoordinator) Remove(id FilterID) (PassResult, error) {
	res, err := fc.Deactivate(id)
	if err != nil {
		return res, err
	}
	f := fc.filters[id]
	delete(fc.filters, id)
	for i, x := range fc.order {
		if x == id {
			fc.order = append(fc.order[:i], fc.order[i+1:]...)
			break
		}
	}
	if f.attr.filter == f {
		f.attr.filter = nil
	}
	return res, nil
}

// ClearAll deactivates every active filter in a single pass.
func (fc *FilterCoordinator) ClearAll() PassResult {
	ds := fc.ds
	ds.beginPass("filter/clear-all")
	for _, f := range fc.Active() {
		// Nested passes fold into the outer one
		_, _ = fc.Deactivate(f.id)
	}
	return ds.endPass()
}

func (fc *FilterCoordinator) lookup(id FilterID) (*Filter, error) {
	f, ok := fc.filters[id]
	if !ok {
		return nil, fmt.Errorf("filter %d: %w", id, facets.ErrUnknownFilter)
	}
	return f, nil
}

// run is a complete activation or parameter-change pass.
func (fc *FilterCoordinator) run(f *Filter, event string) PassResult {
	ds := fc.ds
	start := time.Now()
	ds.beginPass(event)
	f.active = true
	f.state = FilterActive
	fc.evaluate(f)
	ds.ctx.FilterChanged(event, f, start)
	return ds.endPass()
}

// evaluate re-evaluates f for every live record. Phase one writes every
// filter cache; phase two recomputes inclusion for the records whose
// cache changed.
func (fc *FilterCoordinator) evaluate(f *Filter) {
	ds := fc.ds
	f.attr.ensurePartitioned()

	records := ds.liveRecords()
	var changed []*Record
	for _, r := range records {
		passes, err := f.evaluate(r)
		if err != nil {
			ds.metrics.predicateFailure()
			ds.reportError(annotations.ErrorPredicateFailure, err, map[string]interface{}{
				"filter": f.name,
				"record": r.id,
			})
		}
		if r.SetFilterResult(f.id, passes) {
			changed = append(changed, r)
		}
	}
	ds.pass.evaluated += len(records)
	ds.metrics.recordsEvaluated(len(records))

	fc.recompute(changed)
}

// evaluateRecord brings a newly ingested record's cache up to date with
// every active filter, then settles its inclusion.
func (fc *FilterCoordinator) evaluateRecord(r *Record) {
	ds := fc.ds
	for _, f := range fc.Active() {
		passes, err := f.evaluate(r)
		if err != nil {
			ds.metrics.predicateFailure()
			ds.reportError(annotations.ErrorPredicateFailure, err, map[string]interface{}{
				"filter": f.name,
				"record": r.id,
			})
		}
		r.SetFilterResult(f.id, passes)
		ds.pass.evaluated++
		ds.metrics.recordsEvaluated(1)
	}
	if r.dirty {
		fc.recompute([]*Record{r})
	}
}

func (fc *FilterCoordinator) recompute(records []*Record) {
	for _, r := range records {
		r.RecomputeInclusion()
	}
}

func (fc *FilterCoordinator) isActive(id FilterID) bool {
	f, ok := fc.filters[id]
	return ok && f.active
}
