package engine

import (
	"fmt"

	"github.com/wbrown/janus-facets/facets"
	"github.com/wbrown/janus-facets/facets/annotations"
)

// Imbalance describes one membership or accounting discrepancy.
type Imbalance struct {
	Record    string
	Aggregate string
	Reason    string
}

func (im Imbalance) String() string {
	switch {
	case im.Record == "":
		return fmt.Sprintf("%s: %s", im.Aggregate, im.Reason)
	case im.Aggregate == "":
		return fmt.Sprintf("record %s: %s", im.Record, im.Reason)
	default:
		return fmt.Sprintf("record %s / %s: %s", im.Record, im.Aggregate, im.Reason)
	}
}

// Imbalances audits the dataset without changing it. It verifies that
// back-references and member lists mirror each other, that each record is
// in at most one aggregate per attribute, that every accumulator equals a
// from-scratch fold of its members and that the included counter matches.
func (ds *Dataset) Imbalances() []Imbalance {
	var out []Imbalance

	for _, r := range ds.liveRecords() {
		seen := make(map[*Attribute]bool, len(r.aggregates))
		for _, ai := range r.aggregates {
			a := ds.aggregate(ai)
			if a == nil {
				out = append(out, Imbalance{Record: r.id, Aggregate: fmt.Sprintf("#%d", ai), Reason: "back-reference to a retired aggregate"})
				continue
			}
			if _, ok := a.position[r.index]; !ok {
				out = append(out, Imbalance{Record: r.id, Aggregate: a.String(), Reason: "back-reference without membership"})
			}
			if seen[a.attr] {
				out = append(out, Imbalance{Record: r.id, Aggregate: a.String(), Reason: "second aggregate in one attribute"})
			}
			seen[a.attr] = true
		}
	}

	included := 0
	for _, r := range ds.records {
		if r != nil && r.IsIncluded() {
			included++
		}
	}
	if included != ds.included {
		out = append(out, Imbalance{Reason: fmt.Sprintf("included counter %d, actual %d", ds.included, included), Aggregate: "dataset"})
	}

	for _, a := range ds.aggregates {
		if a == nil {
			continue
		}
		for _, ri := range a.members {
			r := ds.record(ri)
			if r == nil {
				out = append(out, Imbalance{Aggregate: a.String(), Reason: fmt.Sprintf("member #%d is not a live record", ri)})
				continue
			}
			if !r.hasAggregateBackref(a.index) {
				out = append(out, Imbalance{Record: r.id, Aggregate: a.String(), Reason: "membership without back-reference"})
			}
		}
		want, wantOther := a.scratch()
		if !want.Close(a.measures) || !wantOther.Close(a.other) {
			out = append(out, Imbalance{Aggregate: a.String(), Reason: fmt.Sprintf("accumulators drifted: have %v, want %v", a.measures, want)})
		}
	}
	return out
}

// CheckConsistency audits the dataset. On discrepancies it reports an
// error/membership.unbalanced event and returns an error wrapping
// ErrUnbalancedMembership. With StrictChecks it panics instead; otherwise
// it heals the dataset: back-references are rebuilt from member lists and
// every aggregate is refolded.
func (ds *Dataset) CheckConsistency() error {
	problems := ds.Imbalances()
	if len(problems) == 0 {
		return nil
	}
	err := fmt.Errorf("%d problems, first: %s: %w", len(problems), problems[0], facets.ErrUnbalancedMembership)
	if ds.opts.StrictChecks {
		panic(err)
	}

	ds.beginPass("dataset/heal")
	ds.reportError(annotations.ErrorMembershipUnbalanced, err, map[string]interface{}{
		"problems": len(problems),
	})
	ds.heal()
	ds.endPass()
	return err
}

func (ds *Dataset) heal() {
	for _, r := range ds.records {
		if r != nil {
			r.aggregates = r.aggregates[:0]
		}
	}
	for _, a := range ds.aggregates {
		if a == nil {
			continue
		}
		members := a.members
		a.members = make([]RecordIndex, 0, len(members))
		a.position = make(map[RecordIndex]int, len(members))
		for _, ri := range members {
			r := ds.record(ri)
			if r == nil || r.AggregateFor(a.attr) != nil {
				continue
			}
			a.attach(r)
		}
	}
	ds.included = 0
	for _, r := range ds.records {
		if r != nil && r.IsIncluded() {
			ds.included++
		}
	}
	for _, a := range ds.aggregates {
		if a != nil {
			a.ResetAggregateMeasures()
		}
	}
}
