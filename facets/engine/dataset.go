// Package engine implements incremental aggregation over a record set:
// attributes partition records into aggregates, filters decide inclusion,
// compare slots select sub-populations, and every aggregate keeps its
// Total, Active, Compare_X and Other accumulators current through signed
// per-record deltas instead of rescans.
package engine

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/wbrown/janus-facets/facets"
	"github.com/wbrown/janus-facets/facets/annotations"
)

// Dataset is the shared context every record, aggregate, attribute and
// coordinator belongs to. Records and aggregates live in arenas and refer
// to each other by index.
//
// A Dataset is not safe for concurrent use. Every mutation runs inside a
// pass that completes before the call returns.
type Dataset struct {
	opts Options

	records []*Record // nil slots are removed records
	byID    map[string]RecordIndex
	live    int

	aggregates []*Aggregate // nil slots are retired aggregates

	attributes []*Attribute
	attrByName map[string]*Attribute

	filters *FilterCoordinator
	compare *CompareCoordinator

	ctx     Context
	metrics *Metrics

	anchor   AggregateIndex
	included int
	ordinal  int

	pass     passState
	lastPass PassResult
}

// passState accumulates what a pass touched. Nested passes fold into the
// outermost one.
type passState struct {
	depth     int
	kind      string
	start     time.Time
	touched   map[AggregateIndex]struct{}
	order     []AggregateIndex
	evaluated int
	flipped   int
	errors    []error
}

// NewDataset creates an empty dataset.
func NewDataset(options ...Option) *Dataset {
	opts := DefaultOptions()
	for _, o := range options {
		o(&opts)
	}
	collector := opts.Collector
	if collector == nil && opts.Handler != nil {
		collector = annotations.NewCollector(opts.Handler)
	}

	ds := &Dataset{
		opts:       opts,
		byID:       make(map[string]RecordIndex),
		attrByName: make(map[string]*Attribute),
		ctx:        NewContext(collector),
		metrics:    opts.Metrics,
		anchor:     noAggregate,
	}
	ds.filters = newFilterCoordinator(ds)
	ds.compare = newCompareCoordinator(ds)
	return ds
}

// Options returns the options the dataset was created with.
func (ds *Dataset) Options() Options { return ds.opts }

// Collector returns the annotation collector, nil when annotations are off.
func (ds *Dataset) Collector() *annotations.Collector { return ds.ctx.Collector() }

// Filters returns the filter coordinator.
func (ds *Dataset) Filters() *FilterCoordinator { return ds.filters }

// Compare returns the compare coordinator.
func (ds *Dataset) Compare() *CompareCoordinator { return ds.compare }

// LastPass returns the result of the most recent completed pass.
func (ds *Dataset) LastPass() PassResult { return ds.lastPass }

// Len returns the number of live records.
func (ds *Dataset) Len() int { return ds.live }

// IncludedCount returns the number of records passing every active filter.
func (ds *Dataset) IncludedCount() int { return ds.included }

// Anchor returns the aggregate the current comparison is anchored on, or
// nil when no single aggregate is selected.
func (ds *Dataset) Anchor() *Aggregate { return ds.aggregate(ds.anchor) }

// AddAttribute declares an attribute. fn derives the record's value; a nil
// result places the record in the no-value aggregate. The attribute is
// partitioned lazily on first use.
func (ds *Dataset) AddAttribute(name string, fn facets.ValueFunc, options ...AttributeOption) (*Attribute, error) {
	if name == "" {
		return nil, fmt.Errorf("attribute name is empty")
	}
	if _, exists := ds.attrByName[name]; exists {
		return nil, fmt.Errorf("attribute %s: %w", name, facets.ErrDuplicateAttribute)
	}
	if fn == nil {
		fn = facets.Column(name)
	}
	a := &Attribute{
		ds:        ds,
		id:        AttributeID(len(ds.attributes)),
		name:      name,
		kind:      Categorical,
		valueFunc: fn,
		noValue:   noAggregate,
	}
	for _, o := range options {
		o(a)
	}
	ds.attributes = append(ds.attributes, a)
	ds.attrByName[name] = a
	return a, nil
}

// Attribute looks an attribute up by name.
func (ds *Dataset) Attribute(name string) (*Attribute, bool) {
	a, ok := ds.attrByName[name]
	return a, ok
}

// Attributes returns the attributes in declaration order.
func (ds *Dataset) Attributes() []*Attribute {
	return append([]*Attribute(nil), ds.attributes...)
}

// AddRow ingests one row. The record is placed into every partitioned
// attribute, evaluated against the active filters and matched against the
// compare slots, all within one pass.
func (ds *Dataset) AddRow(row facets.Row) (*Record, error) {
	start := time.Now()
	ds.beginPass(annotations.RecordsAdded)
	r, err := ds.addRow(row)
	if err == nil {
		ds.ctx.RecordsChanged(annotations.RecordsAdded, 1, start)
	}
	ds.endPass()
	return r, err
}

// AddRows ingests rows in one pass. Rows that fail (duplicate ids) are
// skipped and reported in the returned error; the rest are added.
func (ds *Dataset) AddRows(rows []facets.Row) (PassResult, error) {
	start := time.Now()
	ds.beginPass(annotations.RecordsAdded)
	var errs []error
	added := 0
	for _, row := range rows {
		if _, err := ds.addRow(row); err != nil {
			errs = append(errs, err)
			continue
		}
		added++
	}
	ds.ctx.RecordsChanged(annotations.RecordsAdded, added, start)
	return ds.endPass(), errors.Join(errs...)
}

func (ds *Dataset) addRow(row facets.Row) (*Record, error) {
	id := ds.recordID(row)
	ds.ordinal++
	if _, dup := ds.byID[id]; dup {
		return nil, fmt.Errorf("record %s: %w", id, facets.ErrDuplicateRecord)
	}

	r := &Record{
		ds:          ds,
		index:       RecordIndex(len(ds.records)),
		id:          id,
		row:         row,
		values:      make(map[AttributeID]facets.Value, len(ds.attributes)),
		filterCache: make(map[FilterID]bool),
	}
	if m, ok := ds.opts.Measure(row); ok && !math.IsNaN(m) {
		r.measure, r.hasMeasure = m, true
	}
	ds.records = append(ds.records, r)
	ds.byID[id] = r.index
	ds.live++
	ds.included++

	for _, a := range ds.attributes {
		a.place(r)
	}
	ds.filters.evaluateRecord(r)
	ds.compare.applyRecord(r)
	return r, nil
}

// recordID uses the id column when present and otherwise derives a
// name-based UUID from the ingestion ordinal and the row contents.
func (ds *Dataset) recordID(row facets.Row) string {
	if ds.opts.IDColumn != "" {
		if v, ok := row[ds.opts.IDColumn]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	name := fmt.Sprintf("%d|%s", ds.ordinal, row.String())
	return uuid.NewSHA1(ds.opts.Namespace, []byte(name)).String()
}

// RemoveRecord takes a record out of every aggregate, undoing exactly its
// contribution, and drops it from the dataset.
func (ds *Dataset) RemoveRecord(id string) (PassResult, error) {
	ri, ok := ds.byID[id]
	if !ok {
		err := fmt.Errorf("record %s: %w", id, facets.ErrUnknownRecord)
		ds.reportError(annotations.ErrorRecordUnknown, err, map[string]interface{}{"record": id})
		return PassResult{}, err
	}
	r := ds.records[ri]

	start := time.Now()
	ds.beginPass(annotations.RecordsRemoved)
	var errs []error
	for _, a := range r.Aggregates() {
		if err := a.RemoveRecord(r); err != nil {
			errs = append(errs, err)
		}
	}
	if r.IsIncluded() {
		ds.included--
	}
	r.removed = true
	r.aggregates = nil
	ds.records[ri] = nil
	delete(ds.byID, id)
	ds.live--
	ds.ctx.RecordsChanged(annotations.RecordsRemoved, 1, start)
	return ds.endPass(), errors.Join(errs...)
}

// Record looks a record up by id.
func (ds *Dataset) Record(id string) (*Record, bool) {
	ri, ok := ds.byID[id]
	if !ok {
		return nil, false
	}
	return ds.records[ri], true
}

// Records returns the live records in ingestion order.
func (ds *Dataset) Records() []*Record {
	return ds.liveRecords()
}

// SetMeasure changes how measure_Self is derived and moves every record's
// contribution from its old measure to its new one.
func (ds *Dataset) SetMeasure(fn MeasureFunc) PassResult {
	if fn == nil {
		fn = CountMeasure()
	}
	ds.beginPass("dataset/measure")
	ds.opts.Measure = fn
	for _, r := range ds.liveRecords() {
		set := r.measureSet()
		r.fanOut(set, 0)
		r.measure, r.hasMeasure = 0, false
		if m, ok := fn(r.row); ok && !math.IsNaN(m) {
			r.measure, r.hasMeasure = m, true
		}
		r.fanOut(0, set)
	}
	return ds.endPass()
}

// Recount refolds every live aggregate from its members. The result lists
// the aggregates whose accumulators had drifted.
func (ds *Dataset) Recount() PassResult {
	ds.beginPass("dataset/recount")
	for _, a := range ds.aggregates {
		if a != nil {
			a.ResetAggregateMeasures()
		}
	}
	return ds.endPass()
}

// Reset drops every record and aggregate. Attributes and filters stay
// declared; filters keep their active state and apply to rows added
// afterwards. Comparisons are cleared.
func (ds *Dataset) Reset() {
	for _, a := range ds.attributes {
		a.aggregates = nil
		a.byKey = nil
		a.breaks = nil
		a.noValue = noAggregate
		a.partitioned = false
	}
	*ds.compare = *newCompareCoordinator(ds)
	ds.records = nil
	ds.byID = make(map[string]RecordIndex)
	ds.aggregates = nil
	ds.live = 0
	ds.included = 0
	ds.ordinal = 0
	ds.anchor = noAggregate
	ds.lastPass = PassResult{}
	ds.metrics.setRecords(0, 0)
}

func (ds *Dataset) record(ri RecordIndex) *Record {
	if ri < 0 || int(ri) >= len(ds.records) {
		return nil
	}
	return ds.records[ri]
}

func (ds *Dataset) aggregate(ai AggregateIndex) *Aggregate {
	if ai < 0 || int(ai) >= len(ds.aggregates) {
		return nil
	}
	a := ds.aggregates[ai]
	if a == nil || a.destroyed {
		return nil
	}
	return a
}

func (ds *Dataset) liveRecords() []*Record {
	out := make([]*Record, 0, ds.live)
	for _, r := range ds.records {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// newAggregate allocates an aggregate in the arena. Slots are never reused
// until Reset.
func (ds *Dataset) newAggregate(attr *Attribute, key facets.Value, label string) *Aggregate {
	a := &Aggregate{
		ds:       ds,
		index:    AggregateIndex(len(ds.aggregates)),
		attr:     attr,
		key:      key,
		label:    label,
		position: make(map[RecordIndex]int),
	}
	ds.aggregates = append(ds.aggregates, a)
	return a
}

func (ds *Dataset) retireAggregate(a *Aggregate) {
	if ds.anchor == a.index {
		ds.anchor = noAggregate
	}
	ds.aggregates[a.index] = nil
}

// checkRecord verifies r is a live record of this dataset.
func (ds *Dataset) checkRecord(r *Record) error {
	if r == nil {
		err := fmt.Errorf("nil record: %w", facets.ErrUnknownRecord)
		ds.reportError(annotations.ErrorRecordUnknown, err, nil)
		return err
	}
	if r.ds != ds || r.removed || ds.record(r.index) != r {
		err := fmt.Errorf("record %s: %w", r.id, facets.ErrUnknownRecord)
		ds.reportError(annotations.ErrorRecordUnknown, err, map[string]interface{}{"record": r.id})
		return err
	}
	return nil
}

func (ds *Dataset) setAnchor(ai AggregateIndex) {
	if ds.aggregate(ai) == nil {
		ai = noAggregate
	}
	ds.anchor = ai
}

// inclusionFlipped keeps the included count in step with a record whose
// inclusion just changed.
func (ds *Dataset) inclusionFlipped(r *Record) {
	ds.pass.flipped++
	ds.metrics.inclusionFlip()
	if r.filteredOut {
		ds.included--
	} else {
		ds.included++
	}
}

// touch marks a as changed in the current pass.
func (ds *Dataset) touch(a *Aggregate) {
	if ds.pass.depth == 0 {
		return
	}
	if _, seen := ds.pass.touched[a.index]; seen {
		return
	}
	ds.pass.touched[a.index] = struct{}{}
	ds.pass.order = append(ds.pass.order, a.index)
}

func (ds *Dataset) beginPass(kind string) {
	ds.pass.depth++
	if ds.pass.depth > 1 {
		return
	}
	ds.pass = passState{
		depth:   1,
		kind:    kind,
		start:   time.Now(),
		touched: make(map[AggregateIndex]struct{}),
	}
	ds.ctx.PassBegin(kind)
}

// endPass closes a pass. Only the outermost call produces a result; inner
// calls return an empty one.
func (ds *Dataset) endPass() PassResult {
	ds.pass.depth--
	if ds.pass.depth > 0 {
		return PassResult{Kind: ds.pass.kind}
	}

	result := PassResult{
		Kind:      ds.pass.kind,
		Evaluated: ds.pass.evaluated,
		Flipped:   ds.pass.flipped,
		Errors:    ds.pass.errors,
		Duration:  time.Since(ds.pass.start),
	}
	for _, ai := range ds.pass.order {
		if a := ds.aggregate(ai); a != nil {
			result.Changed = append(result.Changed, a)
		}
	}
	ds.ctx.PassComplete(result, ds.pass.start)
	ds.metrics.passCompleted(result.Kind)
	ds.metrics.setRecords(ds.live, ds.included)
	ds.pass = passState{}
	ds.lastPass = result
	return result
}

// reportError emits an error event. Inside a pass the error is also
// attached to the pass result.
func (ds *Dataset) reportError(name string, err error, data map[string]interface{}) {
	if ds.pass.depth > 0 {
		ds.pass.errors = append(ds.pass.errors, err)
	}
	ds.ctx.Error(name, err, data)
}
