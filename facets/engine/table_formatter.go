package engine

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/wbrown/janus-facets/facets"
)

// TableFormatter renders an attribute's aggregates as a markdown table
type TableFormatter struct {
	// Types are the measure columns, in order
	Types []facets.MeasureType
	// ShowSums appends the measure sum to each count
	ShowSums bool
	// ShowOther adds the Other accumulator as a column
	ShowOther bool
	// Sort orders the rows
	Sort SortBy
}

// NewTableFormatter creates a formatter showing Total, Active and the
// first two compare slots
func NewTableFormatter() *TableFormatter {
	return &TableFormatter{
		Types:     []facets.MeasureType{facets.Total, facets.Active, facets.CompareA, facets.CompareB},
		ShowOther: true,
		Sort:      SortByKey,
	}
}

// FormatAttribute formats the aggregates of attr, the no-value aggregate
// last
func (tf *TableFormatter) FormatAttribute(attr *Attribute) string {
	if attr == nil {
		return "_No attribute_"
	}
	aggs := attr.SortedAggregates(tf.Sort)
	if nv := attr.NoValueAggregate(); nv != nil {
		aggs = append(aggs, nv)
	}
	if len(aggs) == 0 {
		return fmt.Sprintf("_%s: no aggregates_", attr.name)
	}

	tableString := &strings.Builder{}

	headers := []string{attr.name}
	for _, t := range tf.Types {
		headers = append(headers, t.String())
	}
	if tf.ShowOther {
		headers = append(headers, "Other")
	}

	alignment := make([]tw.Align, len(headers))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}

	table := tablewriter.NewTable(tableString,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(headers)

	for _, a := range aggs {
		label := a.label
		if a.IsAnchor() {
			label += " *"
		}
		row := []string{label}
		for _, t := range tf.Types {
			row = append(row, tf.formatAccumulator(a.measures[t]))
		}
		if tf.ShowOther {
			row = append(row, tf.formatAccumulator(a.other))
		}
		table.Append(row)
	}

	table.Render()

	tableString.WriteString(fmt.Sprintf("\n_%d aggregates, %d of %d records included_\n",
		len(aggs), attr.ds.included, attr.ds.live))

	return tableString.String()
}

func (tf *TableFormatter) formatAccumulator(acc Accumulator) string {
	if !tf.ShowSums {
		return fmt.Sprintf("%d", acc.Count)
	}
	return fmt.Sprintf("%d (%.2f)", acc.Count, acc.Sum)
}

// PrintAttribute prints an attribute table to stdout
func PrintAttribute(attr *Attribute) {
	fmt.Println(NewTableFormatter().FormatAttribute(attr))
}

// AttributeString returns an attribute table as a string
func AttributeString(attr *Attribute) string {
	return NewTableFormatter().FormatAttribute(attr)
}
