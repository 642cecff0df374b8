package annotations

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// AggregateInfo is the basic info about an aggregate needed for rendering
type AggregateInfo struct {
	Attribute string
	Label     string
	Total     int
	Active    int
}

// AggregateRenderer provides pretty-printing for changed aggregates
type AggregateRenderer struct {
	useColor bool
}

// NewAggregateRenderer creates a new aggregate renderer
func NewAggregateRenderer(useColor bool) *AggregateRenderer {
	return &AggregateRenderer{useColor: useColor}
}

// RenderAggregate renders a single aggregate as a string
func (r *AggregateRenderer) RenderAggregate(agg AggregateInfo) string {
	if r.useColor {
		return fmt.Sprintf("%s%s%s%s%s%s%s",
			color.BlueString("Aggregate(["),
			color.CyanString(agg.Attribute+"="+agg.Label),
			color.BlueString("]"),
			color.BlueString(", "),
			r.colorizeActive(agg.Active, agg.Total),
			color.BlueString(fmt.Sprintf("/%d", agg.Total)),
			color.BlueString(")"))
	}

	return fmt.Sprintf("Aggregate([%s=%s], %d/%d)", agg.Attribute, agg.Label, agg.Active, agg.Total)
}

// RenderAggregates renders multiple aggregates, eliding after max entries
func (r *AggregateRenderer) RenderAggregates(aggs []AggregateInfo, max int) string {
	if len(aggs) == 0 {
		return "[]"
	}
	n := len(aggs)
	if max > 0 && n > max {
		n = max
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = r.RenderAggregate(aggs[i])
	}
	out := "[" + strings.Join(parts, " ")
	if n < len(aggs) {
		out += fmt.Sprintf(" …%d more", len(aggs)-n)
	}
	return out + "]"
}

// colorizeActive colors the active count by the share of members still active
func (r *AggregateRenderer) colorizeActive(active, total int) string {
	s := fmt.Sprintf("%d", active)
	switch {
	case active == 0:
		return color.RedString(s)
	case active < total:
		return color.YellowString(s)
	default:
		return color.GreenString(s)
	}
}
