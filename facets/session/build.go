package session

import (
	"fmt"

	"github.com/wbrown/janus-facets/facets"
	"github.com/wbrown/janus-facets/facets/engine"
)

// Build creates a dataset from the session declaration: attributes first,
// then rows, then filters (activating those marked active). Extra options
// are applied after the session's own.
func (s *Session) Build(options ...engine.Option) (*engine.Dataset, error) {
	opts := []engine.Option{
		engine.WithIDColumn(s.IDColumn),
		engine.WithStrictChecks(s.Strict),
	}
	if s.Measure != "" {
		opts = append(opts, engine.WithMeasureColumn(s.Measure))
	}
	ds := engine.NewDataset(append(opts, options...)...)

	for _, spec := range s.Attributes {
		var attrOpts []engine.AttributeOption
		if spec.Kind == KindNumeric {
			b := engine.Binning(engine.EqualWidth{Bins: engine.DefaultBins})
			if spec.Binning != nil {
				b = spec.Binning.Binning()
			}
			attrOpts = append(attrOpts, engine.WithBinning(b))
		}
		if _, err := ds.AddAttribute(spec.Name, facets.Column(spec.Column), attrOpts...); err != nil {
			return nil, err
		}
	}

	if _, err := ds.AddRows(s.Rows); err != nil {
		return nil, fmt.Errorf("session rows: %w", err)
	}

	for _, spec := range s.Filters {
		attr, _ := ds.Attribute(spec.Attribute)
		f, err := ds.Filters().Add(spec.Name, attr, spec.Predicate())
		if err != nil {
			return nil, err
		}
		if spec.Active {
			if _, err := ds.Filters().Activate(f.ID()); err != nil {
				return nil, err
			}
		}
	}
	return ds, nil
}

// Binning converts the declaration to an engine binning.
func (b *BinningSpec) Binning() engine.Binning {
	switch b.Method {
	case BinningQuantile:
		return engine.Quantile{Bins: b.Bins}
	case BinningFixed:
		return engine.FixedBreaks(append([]float64(nil), b.Breaks...))
	default:
		return engine.EqualWidth{Bins: b.Bins}
	}
}

// Predicate converts the filter declaration to an engine predicate.
func (f FilterSpec) Predicate() engine.Predicate {
	var p engine.Predicate
	switch {
	case len(f.Categories) > 0:
		p = engine.NewCategory(f.Categories...)
	case f.Range != nil:
		p = f.Range.Predicate()
	case f.NoValue != nil:
		p = engine.NoValuePredicate{Want: *f.NoValue}
	}
	if f.Exclude {
		p = engine.NotPredicate{Inner: p}
	}
	return p
}

// Predicate converts the range to an engine.RangePredicate.
func (r *RangeSpec) Predicate() engine.RangePredicate {
	return engine.RangePredicate{
		Min:            r.Min,
		Max:            r.Max,
		MaxInclusive:   r.MaxInclusive,
		IncludeNoValue: r.IncludeNoValue,
	}
}
