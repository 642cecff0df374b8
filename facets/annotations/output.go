package annotations

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

// OutputFormatter formats events for human-readable display.
type OutputFormatter struct {
	useColor bool
	writer   io.Writer
	renderer *AggregateRenderer
	// MaxAggregates caps how many changed aggregates a pass line lists
	MaxAggregates int
}

// NewOutputFormatter creates a formatter with color support detection.
func NewOutputFormatter(w io.Writer) *OutputFormatter {
	if w == nil {
		w = os.Stdout
	}

	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isTerminal(f.Fd()) && !color.NoColor
	}

	return &OutputFormatter{
		useColor:      useColor,
		writer:        w,
		renderer:      NewAggregateRenderer(useColor),
		MaxAggregates: 8,
	}
}

// Handle implements the Handler interface - prints events as they occur
func (f *OutputFormatter) Handle(event Event) {
	output := f.Format(event)
	if output != "" {
		fmt.Fprintln(f.writer, output)
	}
}

// Format converts an event to a human-readable string.
func (f *OutputFormatter) Format(event Event) string {
	latency := f.formatLatency(event.Latency)

	switch event.Name {
	case PassBegin:
		// The completion line carries everything interesting
		return ""

	case PassCompleted:
		changed, _ := event.Data["changed"].([]AggregateInfo)
		return fmt.Sprintf("%s %s %s: %s, %s → %s",
			latency,
			f.colorize("===", color.FgGreen),
			stringData(event, "kind"),
			f.colorizeCount("evaluated", intData(event, "evaluated")),
			f.colorizeCount("flipped", intData(event, "flipped")),
			f.renderer.RenderAggregates(changed, f.MaxAggregates))

	case FilterActivated, FilterApplied, FilterDeactivated:
		verb := strings.TrimPrefix(event.Name, "filter/")
		return fmt.Sprintf("%s Filter %s on %s %s",
			latency,
			f.colorize(stringData(event, "filter"), color.FgCyan),
			stringData(event, "attribute"),
			f.colorize(verb+" "+stringData(event, "predicate"), color.FgBlue))

	case CompareSlotSet, CompareSlotCleared, ComparePreview, ComparePreviewEnded:
		verb := strings.TrimPrefix(event.Name, "compare/")
		return fmt.Sprintf("%s Compare_%s %s %s",
			latency,
			f.colorize(stringData(event, "slot"), color.FgMagenta),
			verb,
			stringData(event, "criterion"))

	case AttributePartitioned:
		return fmt.Sprintf("%s Attribute %s partitioned into %s",
			latency,
			f.colorize(stringData(event, "attribute"), color.FgCyan),
			f.colorizeCount("aggregates", intData(event, "aggregates")))

	case RecordsAdded, RecordsRemoved:
		return fmt.Sprintf("%s %s", latency,
			f.colorizeCount(strings.ReplaceAll(event.Name, "/", " "), intData(event, "count")))
	}

	if event.IsError() {
		return fmt.Sprintf("%s %s %s: %s",
			latency,
			f.colorize("✗", color.FgRed),
			event.Name,
			stringData(event, "error"))
	}

	// Generic format for unknown events
	return fmt.Sprintf("%s %s %v", latency, event.Name, event.Data)
}

// formatLatency formats a duration as [XXXms] or [XXXµs] with color coding.
func (f *OutputFormatter) formatLatency(d time.Duration) string {
	if d < time.Millisecond {
		s := fmt.Sprintf("[%dµs]", d.Microseconds())
		if !f.useColor {
			return s
		}
		return color.GreenString(s)
	}

	ms := float64(d.Microseconds()) / 1000.0
	s := fmt.Sprintf("[%.1fms]", ms)

	if !f.useColor {
		return s
	}

	switch {
	case ms < 16:
		return color.GreenString(s)
	case ms < 100:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

// colorizeCount formats a count with a label, using color based on the label type.
func (f *OutputFormatter) colorizeCount(label string, count int) string {
	text := fmt.Sprintf("%d %s", count, label)

	if !f.useColor {
		return text
	}

	switch strings.ToLower(label) {
	case "evaluated":
		return color.CyanString(text)
	case "flipped":
		return color.MagentaString(text)
	case "aggregates":
		return color.BlueString(text)
	default:
		return text
	}
}

// colorize applies color if enabled.
func (f *OutputFormatter) colorize(text string, attrs ...color.Attribute) string {
	if !f.useColor {
		return text
	}
	return color.New(attrs...).Sprint(text)
}

func stringData(event Event, key string) string {
	if v, ok := event.Data[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func intData(event Event, key string) int {
	if v, ok := event.Data[key].(int); ok {
		return v
	}
	return 0
}

// ConsoleHandler creates a handler that prints formatted events to stdout.
func ConsoleHandler() Handler {
	return NewOutputFormatter(os.Stdout).Handle
}

// isTerminal checks if the file descriptor is stdout or stderr.
// golang.org/x/term would be exact; color.NoColor already covers
// redirected output.
func isTerminal(fd uintptr) bool {
	return fd == uintptr(1) || fd == uintptr(2)
}
