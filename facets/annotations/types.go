// Package annotations provides a low-overhead event system for tracking
// coordination passes, change notifications and reportable errors.
package annotations

import (
	"time"
)

// Event name constants following hierarchical naming pattern
const (
	// Coordination passes
	PassBegin     = "pass/begin"
	PassCompleted = "pass/completed"

	// Filter lifecycle
	FilterActivated   = "filter/activated"
	FilterApplied     = "filter/applied"
	FilterDeactivated = "filter/deactivated"

	// Comparison lifecycle
	CompareSlotSet      = "compare/slot.set"
	CompareSlotCleared  = "compare/slot.cleared"
	ComparePreview      = "compare/preview"
	ComparePreviewEnded = "compare/preview.ended"

	// Partitioning
	AttributePartitioned = "attribute/partitioned"

	// Data changes
	RecordsAdded   = "records/added"
	RecordsRemoved = "records/removed"

	// Direct record updates made outside a coordinator pass
	RecordInclusion = "record/inclusion"
	RecordCompared  = "record/compared"

	// Errors
	ErrorPredicateFailure     = "error/predicate.failure"
	ErrorMembershipUnbalanced = "error/membership.unbalanced"
	ErrorRecordUnknown        = "error/record.unknown"
	ErrorAttributePartition   = "error/attribute.partition"
)

// Event represents a single annotation event.
type Event struct {
	Name    string                 // Event name using hierarchical constants above
	Start   time.Time              // Start timestamp
	End     time.Time              // End timestamp
	Latency time.Duration          // Duration (End - Start)
	Data    map[string]interface{} // Additional event-specific data
}

// IsError reports whether the event belongs to the error/ hierarchy.
func (e Event) IsError() bool {
	return len(e.Name) > 6 && e.Name[:6] == "error/"
}

// Handler processes annotation events as they occur.
type Handler func(event Event)

// Collector accumulates events. The engine is single-threaded, so the
// collector is too.
type Collector struct {
	enabled bool
	handler Handler
	events  []Event
	limit   int
}

// DefaultEventLimit bounds how many events a collector retains. Handlers
// still see every event.
const DefaultEventLimit = 4096

// NewCollector creates a new annotation collector. A nil handler still
// retains events so callers can inspect them with Events.
func NewCollector(handler Handler) *Collector {
	return &Collector{
		enabled: true,
		handler: handler,
		events:  make([]Event, 0, 64),
		limit:   DefaultEventLimit,
	}
}

// Handler returns the underlying event handler.
func (c *Collector) Handler() Handler {
	return c.handler
}

// Add records a new event.
func (c *Collector) Add(event Event) {
	if c == nil || !c.enabled {
		return
	}

	if len(c.events) >= c.limit {
		// Drop the oldest half rather than shifting on every event
		n := copy(c.events, c.events[len(c.events)/2:])
		c.events = c.events[:n]
	}
	c.events = append(c.events, event)

	if c.handler != nil {
		c.handler(event)
	}
}

// AddTiming records an event that started at start and ends now.
func (c *Collector) AddTiming(name string, start time.Time, data map[string]interface{}) {
	if c == nil || !c.enabled {
		return
	}

	end := time.Now()
	c.Add(Event{
		Name:    name,
		Start:   start,
		End:     end,
		Latency: end.Sub(start),
		Data:    data,
	})
}

// Events returns a copy of all retained events.
func (c *Collector) Events() []Event {
	eventsCopy := make([]Event, len(c.events))
	copy(eventsCopy, c.events)
	return eventsCopy
}

// EventsNamed returns the retained events with the given name.
func (c *Collector) EventsNamed(name string) []Event {
	var out []Event
	for _, e := range c.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Errors returns the retained error/ events.
func (c *Collector) Errors() []Event {
	var out []Event
	for _, e := range c.events {
		if e.IsError() {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears the collector for reuse.
func (c *Collector) Reset() {
	c.events = c.events[:0]
	// Don't clear handler or enabled status
}

// SetEnabled turns event collection on or off.
func (c *Collector) SetEnabled(enabled bool) {
	c.enabled = enabled
}
