package engine

import (
	"time"

	"github.com/wbrown/janus-facets/facets"
	"github.com/wbrown/janus-facets/facets/annotations"
)

// PassResult summarizes one coordination pass: a filter change, a compare
// change, a repartition or a data change.
type PassResult struct {
	Kind string

	// Changed lists the live aggregates whose accumulators moved, in the
	// order they were first touched.
	Changed []*Aggregate

	// Evaluated counts predicate evaluations.
	Evaluated int

	// Flipped counts records whose inclusion state changed.
	Flipped int

	// Errors holds the errors reported while the pass ran. The pass still
	// completed; each error was handled locally.
	Errors []error

	Duration time.Duration
}

// HasErrors reports whether any error was reported during the pass.
func (p PassResult) HasErrors() bool { return len(p.Errors) > 0 }

// ChangedFor returns the changed aggregates belonging to attr.
func (p PassResult) ChangedFor(attr *Attribute) []*Aggregate {
	var out []*Aggregate
	for _, a := range p.Changed {
		if a.attr == attr {
			out = append(out, a)
		}
	}
	return out
}

// Touched reports whether a is among the changed aggregates.
func (p PassResult) Touched(a *Aggregate) bool {
	for _, x := range p.Changed {
		if x == a {
			return true
		}
	}
	return false
}

// Context receives the dataset's lifecycle notifications.
type Context interface {
	PassBegin(kind string)
	PassComplete(result PassResult, start time.Time)
	FilterChanged(event string, f *Filter, start time.Time)
	CompareChanged(event string, slot facets.CompareSlot, c Criterion, start time.Time)
	AttributePartitioned(a *Attribute, aggregates int, start time.Time)
	RecordsChanged(event string, count int, start time.Time)
	Error(name string, err error, data map[string]interface{})
	Collector() *annotations.Collector
}

// BaseContext is a no-op implementation with zero overhead.
type BaseContext struct{}

func (BaseContext) PassBegin(string) {}
func (BaseContext) PassComplete(PassResult, time.Time) {}
func (BaseContext) FilterChanged(string, *Filter, time.Time) {}
func (BaseContext) CompareChanged(string, facets.CompareSlot, Criterion, time.Time) {}
func (BaseContext) AttributePartitioned(*Attribute, int, time.Time) {}
func (BaseContext) RecordsChanged(string, int, time.Time) {}
func (BaseContext) Error(string, error, map[string]interface{}) {}
func (BaseContext) Collector() *annotations.Collector { return nil }

// AnnotatedContext turns notifications into annotation events.
type AnnotatedContext struct {
	collector *annotations.Collector
}

// NewContext returns an AnnotatedContext when a collector is given and a
// BaseContext otherwise.
func NewContext(collector *annotations.Collector) Context {
	if collector == nil {
		return BaseContext{}
	}
	return &AnnotatedContext{collector: collector}
}

func (c *AnnotatedContext) Collector() *annotations.Collector { return c.collector }

func (c *AnnotatedContext) PassBegin(kind string) {
	c.collector.Add(annotations.Event{
		Name:  annotations.PassBegin,
		Start: time.Now(),
		Data:  map[string]interface{}{"kind": kind},
	})
}

func (c *AnnotatedContext) PassComplete(result PassResult, start time.Time) {
	changed := make([]annotations.AggregateInfo, 0, len(result.Changed))
	for _, a := range result.Changed {
		changed = append(changed, a.info())
	}
	c.collector.AddTiming(annotations.PassCompleted, start, map[string]interface{}{
		"kind":      result.Kind,
		"changed":   changed,
		"evaluated": result.Evaluated,
		"flipped":   result.Flipped,
		"errors":    len(result.Errors),
	})
}

func (c *AnnotatedContext) FilterChanged(event string, f *Filter, start time.Time) {
	c.collector.AddTiming(event, start, map[string]interface{}{
		"filter":    f.name,
		"attribute": f.attr.name,
		"predicate": f.pred.String(),
	})
}

func (c *AnnotatedContext) CompareChanged(event string, slot facets.CompareSlot, crit Criterion, start time.Time) {
	data := map[string]interface{}{"slot": slot.String()}
	if crit != nil {
		data["criterion"] = crit.String()
	}
	c.collector.AddTiming(event, start, data)
}

func (c *AnnotatedContext) AttributePartitioned(a *Attribute, aggregates int, start time.Time) {
	c.collector.AddTiming(annotations.AttributePartitioned, start, map[string]interface{}{
		"attribute":  a.name,
		"aggregates": aggregates,
	})
}

func (c *AnnotatedContext) RecordsChanged(event string, count int, start time.Time) {
	c.collector.AddTiming(event, start, map[string]interface{}{"count": count})
}

func (c *AnnotatedContext) Error(name string, err error, data map[string]interface{}) {
	payload := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["error"] = err.Error()
	c.collector.Add(annotations.Event{
		Name:  name,
		Start: time.Now(),
		End:   time.Now(),
		Data:  payload,
	})
}
