package session

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/wbrown/janus-facets/facets"
	"github.com/wbrown/janus-facets/facets/engine"
)

// Runner executes session steps against a dataset.
type Runner struct {
	ds        *engine.Dataset
	w         io.Writer
	Formatter *engine.TableFormatter
}

// NewRunner creates a runner writing step output to w.
func NewRunner(ds *engine.Dataset, w io.Writer) *Runner {
	return &Runner{ds: ds, w: w, Formatter: engine.NewTableFormatter()}
}

// Run executes every step of the session in order and stops at the first
// failing step.
func (s *Session) Run(ds *engine.Dataset, w io.Writer) error {
	r := NewRunner(ds, w)
	for i, st := range s.Steps {
		if err := r.Step(i+1, st); err != nil {
			return err
		}
	}
	return nil
}

// Step executes one step.
func (r *Runner) Step(n int, st Step) error {
	heading := color.New(color.FgCyan, color.Bold)
	heading.Fprintf(r.w, "\n## %d. %s\n", n, st)

	res, err := r.apply(st)
	if err != nil {
		return fmt.Errorf("step %d (%s): %w", n, st, err)
	}
	if res != nil {
		r.summarize(*res)
	}
	return nil
}

func (r *Runner) apply(st Step) (*engine.PassResult, error) {
	ds := r.ds
	switch st.Action {
	case ActionFilter:
		f, ok := ds.Filters().ByName(st.Filter)
		if !ok {
			return nil, fmt.Errorf("%s: %w", st.Filter, facets.ErrUnknownFilter)
		}
		if st.Range != nil {
			res, err := ds.Filters().SetPredicate(f.ID(), st.Range.Predicate())
			if err != nil || f.IsActive() {
				return &res, err
			}
		}
		res, err := ds.Filters().Activate(f.ID())
		return &res, err

	case ActionUnfilter:
		f, ok := ds.Filters().ByName(st.Filter)
		if !ok {
			return nil, fmt.Errorf("%s: %w", st.Filter, facets.ErrUnknownFilter)
		}
		res, err := ds.Filters().Deactivate(f.ID())
		return &res, err

	case ActionCompare, ActionPreview:
		slot, err := facets.ParseCompareSlot(st.Slot)
		if err != nil {
			return nil, err
		}
		crit, err := r.criterion(st)
		if err != nil {
			return nil, err
		}
		var res engine.PassResult
		if st.Action == ActionCompare {
			res, err = ds.Compare().SetSlot(slot, crit)
		} else {
			res, err = ds.Compare().Preview(slot, crit)
		}
		return &res, err

	case ActionUncompare:
		slot, err := facets.ParseCompareSlot(st.Slot)
		if err != nil {
			return nil, err
		}
		res, err := ds.Compare().ClearSlot(slot)
		return &res, err

	case ActionEndPreview:
		res := ds.Compare().EndPreview()
		return &res, nil

	case ActionPrint:
		attr, err := r.attribute(st.Attribute)
		if err != nil {
			return nil, err
		}
		fmt.Fprintln(r.w, r.Formatter.FormatAttribute(attr))
		return nil, nil

	case ActionRepartition:
		attr, err := r.attribute(st.Attribute)
		if err != nil {
			return nil, err
		}
		res, err := attr.Repartition(st.Binning.Binning())
		return &res, err

	case ActionAdd:
		res, err := ds.AddRows(st.Rows)
		return &res, err

	case ActionRemove:
		res, err := ds.RemoveRecord(st.Record)
		return &res, err

	case ActionCheck:
		if err := ds.CheckConsistency(); err != nil {
			color.New(color.FgYellow).Fprintf(r.w, "healed: %v\n", err)
			res := ds.LastPass()
			return &res, nil
		}
		fmt.Fprintln(r.w, "consistent")
		return nil, nil
	}
	return nil, fmt.Errorf("unknown action %q", st.Action)
}

// criterion builds a compare criterion from values, labels or a range.
func (r *Runner) criterion(st Step) (engine.Criterion, error) {
	attr, err := r.attribute(st.Attribute)
	if err != nil {
		return nil, err
	}
	if st.Range != nil {
		return engine.PredicateCriterion{Attr: attr, Pred: st.Range.Predicate()}, nil
	}

	var aggs []*engine.Aggregate
	for _, v := range st.Values {
		agg := attr.AggregateByKey(v)
		if agg == nil {
			return nil, fmt.Errorf("attribute %s has no aggregate for %v", attr.Name(), v)
		}
		aggs = append(aggs, agg)
	}
	for _, label := range st.Labels {
		agg := attr.AggregateByLabel(label)
		if agg == nil {
			return nil, fmt.Errorf("attribute %s has no aggregate labelled %q", attr.Name(), label)
		}
		aggs = append(aggs, agg)
	}
	c, err := engine.NewAggregateCriterion(aggs...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Runner) attribute(name string) (*engine.Attribute, error) {
	attr, ok := r.ds.Attribute(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, facets.ErrUnknownAttribute)
	}
	return attr, nil
}

func (r *Runner) summarize(res engine.PassResult) {
	changed := make([]string, 0, len(res.Changed))
	for _, a := range res.Changed {
		changed = append(changed, a.String())
	}
	fmt.Fprintf(r.w, "_%s: %d evaluated, %d flipped, %d aggregates changed_\n",
		res.Kind, res.Evaluated, res.Flipped, len(res.Changed))
	if len(changed) > 0 {
		fmt.Fprintf(r.w, "_changed: %s_\n", strings.Join(changed, ", "))
	}
	for _, err := range res.Errors {
		color.New(color.FgRed).Fprintf(r.w, "error: %v\n", err)
	}
}
