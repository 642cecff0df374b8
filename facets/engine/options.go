package engine

import (
	"github.com/google/uuid"
	"github.com/wbrown/janus-facets/facets"
	"github.com/wbrown/janus-facets/facets/annotations"
)

// MeasureFunc derives measure_Self from a row. Returning false means the
// record has no measure and contributes nothing to any accumulator.
type MeasureFunc func(facets.Row) (float64, bool)

// CountMeasure makes every record count as one unit.
func CountMeasure() MeasureFunc {
	return func(facets.Row) (float64, bool) { return 1, true }
}

// ColumnMeasure reads measure_Self from a numeric column. Rows without a
// finite numeric value get no measure.
func ColumnMeasure(column string) MeasureFunc {
	return func(row facets.Row) (float64, bool) {
		v, ok := row[column]
		if !ok {
			return 0, false
		}
		return facets.ToFloat(v)
	}
}

// Options configures a Dataset.
type Options struct {
	// StrictChecks makes CheckConsistency panic on an unbalanced
	// membership instead of self-healing. Meant for tests and debug builds.
	StrictChecks bool

	// IDColumn names the row column holding the external record id.
	IDColumn string

	// Namespace seeds the name-based UUIDs generated for rows without an id.
	Namespace uuid.UUID

	// Measure derives measure_Self for each row.
	Measure MeasureFunc

	// Collector receives annotation events. When nil and Handler is set, a
	// collector is created around Handler. Both nil disables annotations.
	Collector *annotations.Collector
	Handler   annotations.Handler

	// Metrics receives pass counters; nil disables metrics.
	Metrics *Metrics
}

// DefaultOptions returns options with count measures and an "id" column.
func DefaultOptions() Options {
	return Options{
		IDColumn:  "id",
		Namespace: uuid.NameSpaceOID,
		Measure:   CountMeasure(),
	}
}

// Option mutates Options.
type Option func(*Options)

// WithStrictChecks toggles panicking consistency checks.
func WithStrictChecks(strict bool) Option {
	return func(o *Options) { o.StrictChecks = strict }
}

// WithIDColumn sets the id column.
func WithIDColumn(column string) Option {
	return func(o *Options) { o.IDColumn = column }
}

// WithNamespace sets the UUID namespace for generated ids.
func WithNamespace(ns uuid.UUID) Option {
	return func(o *Options) { o.Namespace = ns }
}

// WithMeasure sets the measure function.
func WithMeasure(fn MeasureFunc) Option {
	return func(o *Options) {
		if fn != nil {
			o.Measure = fn
		}
	}
}

// WithMeasureColumn measures records by a numeric column.
func WithMeasureColumn(column string) Option {
	return WithMeasure(ColumnMeasure(column))
}

// WithHandler installs an annotation handler.
func WithHandler(h annotations.Handler) Option {
	return func(o *Options) { o.Handler = h }
}

// WithCollector installs an annotation collector.
func WithCollector(c *annotations.Collector) Option {
	return func(o *Options) { o.Collector = c }
}

// WithMetrics installs prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}
