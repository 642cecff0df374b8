package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wbrown/janus-facets/facets"
)

// FilterID identifies a filter within its dataset.
type FilterID int

// FilterState is the lifecycle state of a filter.
type FilterState int

const (
	FilterInactive FilterState = iota
	FilterActive
)

func (s FilterState) String() string {
	if s == FilterActive {
		return "active"
	}
	return "inactive"
}

// Predicate decides whether a record passes a filter. value is the
// record's cached value for the filter's attribute (nil for no value).
// Predicates must be pure; an error or a panic counts as failing.
type Predicate interface {
	Evaluate(rec *Record, value facets.Value) (bool, error)
	String() string
}

// Filter is a predicate attached to exactly one attribute.
type Filter struct {
	id    FilterID
	name  string
	attr  *Attribute
	pred  Predicate
	state FilterState
	// active mirrors state == FilterActive for the hot path
	active bool
}

// ID returns the filter id.
func (f *Filter) ID() FilterID { return f.id }

// Name returns the filter name.
func (f *Filter) Name() string { return f.name }

// Attribute returns the attribute the filter is scoped to.
func (f *Filter) Attribute() *Attribute { return f.attr }

// Predicate returns the current predicate.
func (f *Filter) Predicate() Predicate { return f.pred }

// State returns the lifecycle state.
func (f *Filter) State() FilterState { return f.state }

// IsActive reports whether the filter is being enforced.
func (f *Filter) IsActive() bool { return f.active }

func (f *Filter) String() string {
	return fmt.Sprintf("%s(%s %s)", f.name, f.attr.name, f.pred)
}

// evaluate runs the predicate for one record. Errors and panics are
// converted into a failing result plus a PredicateError.
func (f *Filter) evaluate(r *Record) (passes bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			passes = false
			err = &facets.PredicateError{Filter: f.name, RecordID: r.id, Panic: p}
		}
	}()

	ok, perr := f.pred.Evaluate(r, r.Value(f.attr))
	if perr != nil {
		return false, &facets.PredicateError{Filter: f.name, RecordID: r.id, Err: perr}
	}
	return ok, nil
}

// PredicateFunc adapts a plain function to Predicate.
type PredicateFunc func(rec *Record, value facets.Value) (bool, error)

func (fn PredicateFunc) Evaluate(rec *Record, value facets.Value) (bool, error) {
	return fn(rec, value)
}

func (fn PredicateFunc) String() string { return "func" }

// RangePredicate passes numeric values in [Min, Max). Nil bounds are open.
// MaxInclusive closes the upper bound. Records without a numeric value
// pass only when IncludeNoValue is set.
type RangePredicate struct {
	Min, Max       *float64
	MaxInclusive   bool
	IncludeNoValue bool
}

// NewRange returns a RangePredicate over [min, max).
func NewRange(min, max float64) RangePredicate {
	return RangePredicate{Min: &min, Max: &max}
}

func (p RangePredicate) Evaluate(_ *Record, value facets.Value) (bool, error) {
	if value == nil {
		return p.IncludeNoValue, nil
	}
	v, ok := facets.ToFloat(value)
	if !ok {
		return false, fmt.Errorf("range predicate: non-numeric value %v (%T)", value, value)
	}
	if p.Min != nil && v < *p.Min {
		return false, nil
	}
	if p.Max != nil {
		if p.MaxInclusive {
			return v <= *p.Max, nil
		}
		return v < *p.Max, nil
	}
	return true, nil
}

func (p RangePredicate) String() string {
	lo, hi := "-inf", "+inf"
	if p.Min != nil {
		lo = fmt.Sprintf("%g", *p.Min)
	}
	if p.Max != nil {
		hi = fmt.Sprintf("%g", *p.Max)
	}
	closing := ")"
	if p.MaxInclusive {
		closing = "]"
	}
	s := fmt.Sprintf("in [%s,%s%s", lo, hi, closing)
	if p.IncludeNoValue {
		s += " or no value"
	}
	return s
}

// CategoryPredicate passes records whose value equals any accepted value
// (OR within the attribute). Matching uses facets.NormalizeKey, so int 3
// and float 3.0 are the same category.
type CategoryPredicate struct {
	accepted       map[interface{}]struct{}
	display        []string
	IncludeNoValue bool
}

// NewCategory returns a predicate accepting the given values.
func NewCategory(values ...facets.Value) *CategoryPredicate {
	p := &CategoryPredicate{accepted: make(map[interface{}]struct{}, len(values))}
	for _, v := range values {
		if v == nil {
			p.IncludeNoValue = true
			continue
		}
		p.accepted[facets.NormalizeKey(v)] = struct{}{}
		p.display = append(p.display, fmt.Sprint(v))
	}
	sort.Strings(p.display)
	return p
}

func (p *CategoryPredicate) Evaluate(_ *Record, value facets.Value) (bool, error) {
	if value == nil {
		return p.IncludeNoValue, nil
	}
	_, ok := p.accepted[facets.NormalizeKey(value)]
	return ok, nil
}

func (p *CategoryPredicate) String() string {
	s := "in {" + strings.Join(p.display, ", ") + "}"
	if p.IncludeNoValue {
		s += " or no value"
	}
	return s
}

// AggregatePredicate passes records that belong to one of the accepted
// aggregates of the filter's attribute. Useful for numeric bins and for
// selecting the no-value aggregate explicitly.
type AggregatePredicate struct {
	accepted map[AggregateIndex]struct{}
	labels   []string
}

// NewAggregateSelection accepts the given aggregates.
func NewAggregateSelection(aggs ...*Aggregate) *AggregatePredicate {
	p := &AggregatePredicate{accepted: make(map[AggregateIndex]struct{}, len(aggs))}
	for _, a := range aggs {
		p.accepted[a.index] = struct{}{}
		p.labels = append(p.labels, a.label)
	}
	return p
}

func (p *AggregatePredicate) Evaluate(rec *Record, _ facets.Value) (bool, error) {
	for _, ai := range rec.aggregates {
		if _, ok := p.accepted[ai]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (p *AggregatePredicate) String() string {
	return "in aggregates {" + strings.Join(p.labels, ", ") + "}"
}

// NoValuePredicate passes records lacking a value when Want is true, and
// records having one when Want is false.
type NoValuePredicate struct {
	Want bool
}

func (p NoValuePredicate) Evaluate(_ *Record, value facets.Value) (bool, error) {
	return (value == nil) == p.Want, nil
}

func (p NoValuePredicate) String() string {
	if p.Want {
		return "has no value"
	}
	return "has a value"
}

// NotPredicate inverts another predicate. Errors propagate unchanged.
type NotPredicate struct {
	Inner Predicate
}

func (p NotPredicate) Evaluate(rec *Record, value facets.Value) (bool, error) {
	ok, err := p.Inner.Evaluate(rec, value)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (p NotPredicate) String() string {
	return "not " + p.Inner.String()
}
