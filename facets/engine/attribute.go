package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/wbrown/janus-facets/facets"
	"github.com/wbrown/janus-facets/facets/annotations"
)

// AttributeID identifies an attribute within its dataset.
type AttributeID int

// AttributeKind selects how an attribute partitions records.
type AttributeKind int

const (
	// Categorical creates one aggregate per distinct value
	Categorical AttributeKind = iota
	// Numeric creates one aggregate per interval of a Binning
	Numeric
)

func (k AttributeKind) String() string {
	switch k {
	case Categorical:
		return "categorical"
	case Numeric:
		return "numeric"
	default:
		return "unknown"
	}
}

// NoValueLabel is the label of every attribute's no-value aggregate.
const NoValueLabel = "(no value)"

// Attribute partitions the dataset's records into aggregates. A record
// belongs to exactly one of its aggregates: the bin for its value, or the
// no-value sentinel.
//
// Partitioning is lazy: the value cache and aggregates are built on first
// use (Aggregates, a filter, a comparison) and rebuilt wholesale by
// Repartition or SetValueFunc.
type Attribute struct {
	ds   *Dataset
	id   AttributeID
	name string
	kind AttributeKind

	valueFunc facets.ValueFunc
	binning   Binning

	partitioned bool
	aggregates  []AggregateIndex
	byKey       map[interface{}]AggregateIndex // categorical
	breaks      []float64                      // numeric
	noValue     AggregateIndex

	filter *Filter
}

// AttributeOption configures an attribute at declaration.
type AttributeOption func(*Attribute)

// WithBinning makes the attribute numeric with the given binning.
func WithBinning(b Binning) AttributeOption {
	return func(a *Attribute) {
		a.kind = Numeric
		a.binning = b
	}
}

// ID returns the attribute id.
func (a *Attribute) ID() AttributeID { return a.id }

// Name returns the attribute name.
func (a *Attribute) Name() string { return a.name }

// Kind returns categorical or numeric.
func (a *Attribute) Kind() AttributeKind { return a.kind }

// Binning returns the numeric binning, nil for categorical attributes.
func (a *Attribute) Binning() Binning { return a.binning }

// Breaks returns the current numeric breakpoints.
func (a *Attribute) Breaks() []float64 {
	a.ensurePartitioned()
	return append([]float64(nil), a.breaks...)
}

// IsPartitioned reports whether the value cache and aggregates exist.
func (a *Attribute) IsPartitioned() bool { return a.partitioned }

// Filter returns the filter attached to this attribute, if any.
func (a *Attribute) Filter() *Filter { return a.filter }

// Aggregates returns the value aggregates in partition order (first-seen
// order for categorical, ascending for numeric). The no-value aggregate is
// not included; see NoValueAggregate.
func (a *Attribute) Aggregates() []*Aggregate {
	a.ensurePartitioned()
	out := make([]*Aggregate, 0, len(a.aggregates))
	for _, ai := range a.aggregates {
		out = append(out, a.ds.aggregates[ai])
	}
	return out
}

// AllAggregates returns Aggregates plus the no-value aggregate if present.
func (a *Attribute) AllAggregates() []*Aggregate {
	out := a.Aggregates()
	if nv := a.NoValueAggregate(); nv != nil {
		out = append(out, nv)
	}
	return out
}

// NoValueAggregate returns the sentinel holding records without a value,
// or nil if no record has lacked one.
func (a *Attribute) NoValueAggregate() *Aggregate {
	a.ensurePartitioned()
	if a.noValue == noAggregate {
		return nil
	}
	return a.ds.aggregates[a.noValue]
}

// AggregateByKey returns the categorical aggregate for value.
func (a *Attribute) AggregateByKey(value facets.Value) *Aggregate {
	a.ensurePartitioned()
	if value == nil {
		return a.NoValueAggregate()
	}
	if a.kind == Numeric {
		if f, ok := facets.ToFloat(value); ok && len(a.aggregates) > 0 {
			return a.ds.aggregates[a.aggregates[binFor(a.breaks, f)]]
		}
		return nil
	}
	if ai, ok := a.byKey[facets.NormalizeKey(value)]; ok {
		return a.ds.aggregates[ai]
	}
	return nil
}

// AggregateByLabel returns the aggregate with the given label.
func (a *Attribute) AggregateByLabel(label string) *Aggregate {
	for _, agg := range a.AllAggregates() {
		if agg.label == label {
			return agg
		}
	}
	return nil
}

// SortBy orders aggregates for display.
type SortBy int

const (
	SortByKey SortBy = iota
	SortByActiveMeasureDesc
	SortByTotalCountDesc
	SortByLabel
)

// SortedAggregates returns the value aggregates in the requested order.
// Ties keep partition order.
func (a *Attribute) SortedAggregates(by SortBy) []*Aggregate {
	aggs := a.Aggregates()
	switch by {
	case SortByKey:
		sort.SliceStable(aggs, func(i, j int) bool {
			return facets.CompareValues(aggs[i].key, aggs[j].key) < 0
		})
	case SortByActiveMeasureDesc:
		sort.SliceStable(aggs, func(i, j int) bool {
			return aggs[i].Measure(facets.Active) > aggs[j].Measure(facets.Active)
		})
	case SortByTotalCountDesc:
		sort.SliceStable(aggs, func(i, j int) bool {
			return aggs[i].RecCnt(facets.Total) > aggs[j].RecCnt(facets.Total)
		})
	case SortByLabel:
		sort.SliceStable(aggs, func(i, j int) bool {
			return aggs[i].label < aggs[j].label
		})
	}
	return aggs
}

// Repartition switches a numeric attribute to a new binning and rebuilds
// its aggregates from the cached values. Compare criteria naming the old
// aggregates are dropped; an AggregatePredicate filter over them matches
// nothing until it is replaced.
func (a *Attribute) Repartition(b Binning) (PassResult, error) {
	if a.kind != Numeric {
		return PassResult{}, fmt.Errorf("attribute %s: repartition requires a numeric attribute", a.name)
	}
	if b == nil {
		return PassResult{}, fmt.Errorf("attribute %s: nil binning", a.name)
	}
	a.binning = b
	return a.rebuild("attribute/repartition", false)
}

// SetValueFunc replaces the derivation function, recomputes the value
// cache and rebuilds the partition. An active filter on the attribute is
// re-applied against the new values.
func (a *Attribute) SetValueFunc(fn facets.ValueFunc) (PassResult, error) {
	if fn == nil {
		return PassResult{}, fmt.Errorf("attribute %s: nil value func", a.name)
	}
	a.valueFunc = fn
	return a.rebuild("attribute/value-func", true)
}

func (a *Attribute) rebuild(kind string, revalue bool) (PassResult, error) {
	ds := a.ds
	ds.beginPass(kind)
	var err error
	wasPartitioned := a.partitioned
	if wasPartitioned {
		a.destroyPartition()
	}
	if revalue {
		a.clearValues()
	}
	if wasPartitioned {
		err = a.partition()
	}
	// Criteria that named old aggregates are stale now
	ds.compare.attributeRepartitioned(a)
	if a.filter != nil && a.filter.active {
		ds.filters.evaluate(a.filter)
	}
	return ds.endPass(), err
}

func (a *Attribute) ensurePartitioned() {
	if a.partitioned {
		return
	}
	a.ds.beginPass("attribute/partition")
	defer a.ds.endPass()
	if err := a.partition(); err != nil {
		a.ds.reportError(annotations.ErrorAttributePartition, err, map[string]interface{}{
			"attribute": a.name,
		})
	}
}

// partition fills the value cache for records that lack an entry, creates
// the aggregates and folds each aggregate's measures once.
func (a *Attribute) partition() error {
	start := time.Now()
	ds := a.ds
	a.partitioned = true
	a.aggregates = a.aggregates[:0]
	a.byKey = make(map[interface{}]AggregateIndex)
	a.breaks = nil
	a.noValue = noAggregate

	records := ds.liveRecords()
	for _, r := range records {
		if _, cached := r.values[a.id]; !cached {
			a.cacheValue(r)
		}
	}

	var err error
	if a.kind == Numeric {
		err = a.buildIntervals(records)
	}

	touched := make(map[AggregateIndex]struct{})
	for _, r := range records {
		agg := a.aggregateForValue(r.values[a.id])
		agg.attach(r)
		touched[agg.index] = struct{}{}
	}
	for ai := range touched {
		ds.aggregates[ai].ResetAggregateMeasures()
	}

	ds.ctx.AttributePartitioned(a, len(a.aggregates), start)
	return err
}

func (a *Attribute) buildIntervals(records []*Record) error {
	values := make([]float64, 0, len(records))
	for _, r := range records {
		if f, ok := facets.ToFloat(r.values[a.id]); ok {
			values = append(values, f)
		}
	}
	binning := a.binning
	if binning == nil {
		binning = EqualWidth{Bins: DefaultBins}
	}
	breaks, err := binning.Breaks(values)
	if err != nil {
		return fmt.Errorf("attribute %s: %w", a.name, err)
	}
	a.breaks = breaks
	for i := 0; i+1 < len(breaks); i++ {
		iv := &Interval{Lo: breaks[i], Hi: breaks[i+1], Last: i+2 == len(breaks)}
		agg := a.ds.newAggregate(a, breaks[i], iv.String())
		agg.interval = iv
		a.aggregates = append(a.aggregates, agg.index)
	}
	return nil
}

// DefaultBins is used by numeric attributes declared without a binning.
const DefaultBins = 10

// cacheValue computes and stores the record's value for this attribute.
// Numeric attributes cache only values convertible to float64.
func (a *Attribute) cacheValue(r *Record) {
	v := a.valueFunc(r.row)
	if a.kind == Numeric {
		if f, ok := facets.ToFloat(v); ok {
			r.values[a.id] = f
			return
		}
		r.values[a.id] = nil
		return
	}
	r.values[a.id] = v
}

// aggregateForValue finds or creates the aggregate for a cached value.
func (a *Attribute) aggregateForValue(v facets.Value) *Aggregate {
	if v == nil {
		return a.noValueAggregate()
	}
	if a.kind == Numeric {
		f, _ := v.(float64)
		if len(a.aggregates) == 0 {
			// First value after a partition without numeric values
			iv := &Interval{Lo: f, Hi: f, Last: true}
			agg := a.ds.newAggregate(a, f, iv.String())
			agg.interval = iv
			a.breaks = []float64{f, f}
			a.aggregates = append(a.aggregates, agg.index)
			return agg
		}
		return a.ds.aggregates[a.aggregates[binFor(a.breaks, f)]]
	}

	key := facets.NormalizeKey(v)
	if ai, ok := a.byKey[key]; ok {
		return a.ds.aggregates[ai]
	}
	agg := a.ds.newAggregate(a, v, fmt.Sprint(v))
	a.byKey[key] = agg.index
	a.aggregates = append(a.aggregates, agg.index)
	return agg
}

func (a *Attribute) noValueAggregate() *Aggregate {
	if a.noValue == noAggregate {
		agg := a.ds.newAggregate(a, nil, NoValueLabel)
		agg.noValue = true
		a.noValue = agg.index
	}
	return a.ds.aggregates[a.noValue]
}

// place adds a newly ingested record to a partitioned attribute.
func (a *Attribute) place(r *Record) {
	if !a.partitioned {
		return
	}
	a.cacheValue(r)
	agg := a.aggregateForValue(r.values[a.id])
	if err := agg.AddRecord(r); err != nil {
		a.ds.reportError(annotations.ErrorRecordUnknown, err, map[string]interface{}{"record": r.id})
	}
}

// destroyPartition detaches every member and retires the aggregates.
// Accumulators die with the aggregates, so no per-record deltas are needed.
func (a *Attribute) destroyPartition() {
	ds := a.ds
	all := append([]AggregateIndex(nil), a.aggregates...)
	if a.noValue != noAggregate {
		all = append(all, a.noValue)
	}
	for _, ai := range all {
		agg := ds.aggregates[ai]
		for _, ri := range agg.members {
			if r := ds.record(ri); r != nil {
				r.removeAggregateBackref(ai)
			}
		}
		agg.members = nil
		agg.position = nil
		agg.measures = Measures{}
		agg.other = Accumulator{}
		agg.destroyed = true
		ds.retireAggregate(agg)
	}
	a.aggregates = nil
	a.byKey = nil
	a.breaks = nil
	a.noValue = noAggregate
	a.partitioned = false
}

func (a *Attribute) clearValues() {
	for _, r := range a.ds.liveRecords() {
		delete(r.values, a.id)
	}
}

func (a *Attribute) String() string {
	return a.name
}
