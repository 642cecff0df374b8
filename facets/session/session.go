// Package session declares a dataset, its attributes and filters, and a
// script of filter and compare steps in YAML, then runs the script against
// an engine.Dataset.
package session

import (
	"bytes"
	"fmt"
	"os"

	"github.com/wbrown/janus-facets/facets"
	"gopkg.in/yaml.v3"
)

// Attribute kinds accepted in a session file.
const (
	KindCategorical = "categorical"
	KindNumeric     = "numeric"
)

// Binning methods accepted in a session file.
const (
	BinningEqualWidth = "equal_width"
	BinningQuantile   = "quantile"
	BinningFixed      = "fixed"
)

// Step actions.
const (
	ActionFilter      = "filter"
	ActionUnfilter    = "unfilter"
	ActionCompare     = "compare"
	ActionUncompare   = "uncompare"
	ActionPreview     = "preview"
	ActionEndPreview  = "end-preview"
	ActionPrint       = "print"
	ActionRepartition = "repartition"
	ActionAdd         = "add"
	ActionRemove      = "remove"
	ActionCheck       = "check"
)

// Session is the root of a session file.
type Session struct {
	Name       string          `yaml:"name,omitempty"`
	IDColumn   string          `yaml:"id_column,omitempty"`
	Measure    string          `yaml:"measure,omitempty"` // column; empty counts records
	Strict     bool            `yaml:"strict,omitempty"`
	Rows       []facets.Row    `yaml:"rows"`
	Attributes []AttributeSpec `yaml:"attributes"`
	Filters    []FilterSpec    `yaml:"filters,omitempty"`
	Steps      []Step          `yaml:"steps,omitempty"`
}

// AttributeSpec declares one attribute.
type AttributeSpec struct {
	Name    string       `yaml:"name"`
	Column  string       `yaml:"column,omitempty"` // defaults to Name
	Kind    string       `yaml:"kind,omitempty"`   // categorical (default) or numeric
	Binning *BinningSpec `yaml:"binning,omitempty"`
}

// BinningSpec configures a numeric attribute's intervals.
type BinningSpec struct {
	Method string    `yaml:"method"`
	Bins   int       `yaml:"bins,omitempty"`
	Breaks []float64 `yaml:"breaks,omitempty"`
}

// FilterSpec declares a filter. Exactly one of Categories, Range or
// NoValue selects the predicate; Exclude inverts it.
type FilterSpec struct {
	Name       string        `yaml:"name"`
	Attribute  string        `yaml:"attribute"`
	Categories []interface{} `yaml:"categories,omitempty"`
	Range      *RangeSpec    `yaml:"range,omitempty"`
	NoValue    *bool         `yaml:"no_value,omitempty"`
	Exclude    bool          `yaml:"exclude,omitempty"`
	Active     bool          `yaml:"active,omitempty"`
}

// RangeSpec is a numeric range; bounds are optional.
type RangeSpec struct {
	Min            *float64 `yaml:"min,omitempty"`
	Max            *float64 `yaml:"max,omitempty"`
	MaxInclusive   bool     `yaml:"max_inclusive,omitempty"`
	IncludeNoValue bool     `yaml:"include_no_value,omitempty"`
}

// Step is one scripted action.
type Step struct {
	Action    string        `yaml:"action"`
	Filter    string        `yaml:"filter,omitempty"`
	Attribute string        `yaml:"attribute,omitempty"`
	Slot      string        `yaml:"slot,omitempty"`
	Values    []interface{} `yaml:"values,omitempty"` // categorical keys
	Labels    []string      `yaml:"labels,omitempty"` // aggregate labels
	Range     *RangeSpec    `yaml:"range,omitempty"`  // for filter steps
	Binning   *BinningSpec  `yaml:"binning,omitempty"`
	Rows      []facets.Row  `yaml:"rows,omitempty"`
	Record    string        `yaml:"record,omitempty"`
}

func (s Step) String() string {
	switch s.Action {
	case ActionFilter, ActionUnfilter:
		return s.Action + " " + s.Filter
	case ActionCompare, ActionPreview, ActionUncompare:
		return fmt.Sprintf("%s %s %s", s.Action, s.Slot, s.Attribute)
	case ActionPrint, ActionRepartition:
		return s.Action + " " + s.Attribute
	case ActionAdd:
		return fmt.Sprintf("add %d rows", len(s.Rows))
	case ActionRemove:
		return "remove " + s.Record
	default:
		return s.Action
	}
}

// Load reads and validates a session file.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a session. Unknown fields are rejected.
func Parse(data []byte) (*Session, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Session
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ApplyDefaults fills unspecified fields.
func (s *Session) ApplyDefaults() {
	if s.IDColumn == "" {
		s.IDColumn = "id"
	}
	for i := range s.Attributes {
		a := &s.Attributes[i]
		if a.Column == "" {
			a.Column = a.Name
		}
		if a.Kind == "" {
			a.Kind = KindCategorical
			if a.Binning != nil {
				a.Kind = KindNumeric
			}
		}
	}
}

// Validate checks names and cross references without building anything.
func (s *Session) Validate() error {
	attrs := make(map[string]bool, len(s.Attributes))
	for i, a := range s.Attributes {
		if a.Name == "" {
			return fmt.Errorf("session: attributes[%d]: name is required", i)
		}
		if attrs[a.Name] {
			return fmt.Errorf("session: attribute %q declared twice", a.Name)
		}
		attrs[a.Name] = true
		switch a.Kind {
		case KindCategorical:
			if a.Binning != nil {
				return fmt.Errorf("session: attribute %q: binning requires kind numeric", a.Name)
			}
		case KindNumeric:
			if a.Binning != nil {
				if err := a.Binning.validate(); err != nil {
					return fmt.Errorf("session: attribute %q: %w", a.Name, err)
				}
			}
		default:
			return fmt.Errorf("session: attribute %q: unknown kind %q", a.Name, a.Kind)
		}
	}

	filters := make(map[string]bool, len(s.Filters))
	for i, f := range s.Filters {
		if f.Name == "" {
			return fmt.Errorf("session: filters[%d]: name is required", i)
		}
		if filters[f.Name] {
			return fmt.Errorf("session: filter %q declared twice", f.Name)
		}
		filters[f.Name] = true
		if !attrs[f.Attribute] {
			return fmt.Errorf("session: filter %q: unknown attribute %q", f.Name, f.Attribute)
		}
		selectors := 0
		if len(f.Categories) > 0 {
			selectors++
		}
		if f.Range != nil {
			selectors++
		}
		if f.NoValue != nil {
			selectors++
		}
		if selectors != 1 {
			return fmt.Errorf("session: filter %q: exactly one of categories, range or no_value is required", f.Name)
		}
	}

	for i, st := range s.Steps {
		if err := st.validate(attrs, filters); err != nil {
			return fmt.Errorf("session: steps[%d] (%s): %w", i, st.Action, err)
		}
	}
	return nil
}

func (b *BinningSpec) validate() error {
	switch b.Method {
	case BinningEqualWidth, BinningQuantile:
		if b.Bins < 1 {
			return fmt.Errorf("binning %s: bins must be at least 1, got %d", b.Method, b.Bins)
		}
	case BinningFixed:
		if len(b.Breaks) < 2 {
			return fmt.Errorf("binning fixed: at least two breaks are required")
		}
	default:
		return fmt.Errorf("unknown binning method %q", b.Method)
	}
	return nil
}

func (st Step) validate(attrs, filters map[string]bool) error {
	needAttr := func() error {
		if !attrs[st.Attribute] {
			return fmt.Errorf("unknown attribute %q", st.Attribute)
		}
		return nil
	}
	needSlot := func() error {
		_, err := facets.ParseCompareSlot(st.Slot)
		return err
	}

	switch st.Action {
	case ActionFilter:
		if !filters[st.Filter] {
			return fmt.Errorf("unknown filter %q", st.Filter)
		}
	case ActionUnfilter:
		if !filters[st.Filter] {
			return fmt.Errorf("unknown filter %q", st.Filter)
		}
	case ActionCompare, ActionPreview:
		if err := needSlot(); err != nil {
			return err
		}
		if err := needAttr(); err != nil {
			return err
		}
		if len(st.Values) == 0 && len(st.Labels) == 0 && st.Range == nil {
			return fmt.Errorf("values, labels or range is required")
		}
	case ActionUncompare:
		if err := needSlot(); err != nil {
			return err
		}
	case ActionPrint:
		return needAttr()
	case ActionRepartition:
		if err := needAttr(); err != nil {
			return err
		}
		if st.Binning == nil {
			return fmt.Errorf("binning is required")
		}
		return st.Binning.validate()
	case ActionAdd:
		if len(st.Rows) == 0 {
			return fmt.Errorf("rows are required")
		}
	case ActionRemove:
		if st.Record == "" {
			return fmt.Errorf("record is required")
		}
	case ActionEndPreview, ActionCheck:
	default:
		return fmt.Errorf("unknown action %q", st.Action)
	}
	return nil
}
