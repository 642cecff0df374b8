package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
)

// Binning computes the breakpoints of an interval attribute from the
// numeric values present when the attribute is partitioned. n+1 sorted,
// distinct breakpoints describe n bins.
type Binning interface {
	Breaks(values []float64) ([]float64, error)
	String() string
}

// EqualWidth splits [min, max] into Bins intervals of equal width.
type EqualWidth struct {
	Bins int
}

func (b EqualWidth) Breaks(values []float64) ([]float64, error) {
	if len(values) == 0 {
		return nil, nil
	}
	if b.Bins < 1 {
		return nil, fmt.Errorf("equal-width binning: bins must be positive, got %d", b.Bins)
	}

	lo, err := stats.Min(values)
	if err != nil {
		return nil, fmt.Errorf("equal-width binning: %w", err)
	}
	hi, err := stats.Max(values)
	if err != nil {
		return nil, fmt.Errorf("equal-width binning: %w", err)
	}
	if lo == hi {
		return []float64{lo, hi}, nil
	}

	width := (hi - lo) / float64(b.Bins)
	breaks := make([]float64, b.Bins+1)
	for i := range breaks {
		breaks[i] = lo + width*float64(i)
	}
	// Avoid accumulated rounding leaving max outside the last bin
	breaks[b.Bins] = hi
	return breaks, nil
}

func (b EqualWidth) String() string {
	return fmt.Sprintf("equal-width(%d)", b.Bins)
}

// Quantile places breakpoints at evenly spaced percentiles so bins hold
// roughly equal record counts. Repeated percentiles collapse, so heavily
// tied data yields fewer bins than requested.
type Quantile struct {
	Bins int
}

func (b Quantile) Breaks(values []float64) ([]float64, error) {
	if len(values) == 0 {
		return nil, nil
	}
	if b.Bins < 1 {
		return nil, fmt.Errorf("quantile binning: bins must be positive, got %d", b.Bins)
	}

	lo, err := stats.Min(values)
	if err != nil {
		return nil, fmt.Errorf("quantile binning: %w", err)
	}
	hi, err := stats.Max(values)
	if err != nil {
		return nil, fmt.Errorf("quantile binning: %w", err)
	}

	breaks := []float64{lo}
	for i := 1; i < b.Bins; i++ {
		p, err := stats.Percentile(values, 100*float64(i)/float64(b.Bins))
		if errors.Is(err, stats.BoundsErr) {
			// Too few values for this percentile's rank
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("quantile binning: %w", err)
		}
		if p > breaks[len(breaks)-1] && p < hi {
			breaks = append(breaks, p)
		}
	}
	breaks = append(breaks, hi)
	return breaks, nil
}

func (b Quantile) String() string {
	return fmt.Sprintf("quantile(%d)", b.Bins)
}

// FixedBreaks uses caller-supplied breakpoints regardless of the data.
type FixedBreaks []float64

func (b FixedBreaks) Breaks([]float64) ([]float64, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("fixed binning: need at least 2 breakpoints, got %d", len(b))
	}
	out := append([]float64(nil), b...)
	sort.Float64s(out)
	for i := 1; i < len(out); i++ {
		if out[i] == out[i-1] || math.IsNaN(out[i]) {
			return nil, fmt.Errorf("fixed binning: breakpoints must be distinct numbers")
		}
	}
	return out, nil
}

func (b FixedBreaks) String() string {
	return fmt.Sprintf("fixed%v", []float64(b))
}

// binFor returns the bin index of v for the given breakpoints. Values
// outside [first, last] clamp into the first or last bin, which keeps
// records ingested after partitioning in range.
func binFor(breaks []float64, v float64) int {
	bins := len(breaks) - 1
	if bins <= 1 {
		return 0
	}
	// First breakpoint strictly greater than v
	i := sort.SearchFloat64s(breaks, math.Nextafter(v, math.Inf(1)))
	bin := i - 1
	if bin < 0 {
		return 0
	}
	if bin >= bins {
		return bins - 1
	}
	return bin
}
