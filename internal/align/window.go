// Package align buckets raw PollyXT rows onto fixed-duration canonical windows.
package align

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/pollyxt"
)

var (
	ErrInvalidWindow = errors.New("window duration must be positive")
	ErrInvalidRange  = errors.New("range end must be after start")
)

// FillValue is the per-channel value of an empty window, and of a channel that
// had no valid reading in its window.
var FillValue = math.NaN()

// IsFill reports whether v is the fill value.
func IsFill(v float64) bool { return math.IsNaN(v) }

// Range is a half-open time interval [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether neither bound is set.
func (r Range) IsZero() bool { return r.Start.IsZero() && r.End.IsZero() }

// Duration is End - Start.
func (r Range) Duration() time.Duration { return r.End.Sub(r.Start) }

// Contains reports whether t lies in [Start, End).
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Validate rejects empty and inverted ranges.
func (r Range) Validate() error {
	if !r.End.After(r.Start) {
		return fmt.Errorf("%w: [%s, %s)", ErrInvalidRange, r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	return nil
}

// RoundStart floors Start to the hour, keeping End.
func (r Range) RoundStart() Range {
	return Range{Start: r.Start.Truncate(time.Hour), End: r.End}
}

// Clip narrows r to the whole windows of d that overlap other. Window
// boundaries stay anchored at r.Start, so clipped ranges of one request
// share a grid. The result is empty when r and other do not overlap.
func (r Range) Clip(other Range, d time.Duration) Range {
	from := r.Start
	if other.Start.After(from) {
		from = other.Start
	}
	to := r.End
	if other.End.Before(to) {
		to = other.End
	}
	if d <= 0 || !to.After(from) {
		return Range{Start: r.Start, End: r.Start}
	}
	start := r.Start.Add(from.Sub(r.Start) / d * d)
	n := WindowCount(Range{Start: r.Start, End: to}, d)
	end := r.Start.Add(time.Duration(n) * d)
	if end.After(r.End) {
		end = r.End
	}
	return Range{Start: start, End: end}
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.UTC().Format(time.RFC3339), r.End.UTC().Format(time.RFC3339))
}

// BlockRange covers every row of block. Timestamps have millisecond
// resolution, so End is one millisecond past the last row.
func BlockRange(block *pollyxt.Block) Range {
	return Range{Start: block.Start(), End: block.End().Add(time.Millisecond)}
}

// Window is one canonical time bucket.
type Window struct {
	Index      int
	Start      time.Time
	Stop       time.Time
	RowCount   int
	Empty      bool
	LaserShots uint64
	Values     []float64
}

// WindowCount is ceil(rng.Duration() / d).
func WindowCount(rng Range, d time.Duration) int {
	if d <= 0 || !rng.End.After(rng.Start) {
		return 0
	}
	dur := rng.Duration()
	n := int(dur / d)
	if dur%d != 0 {
		n++
	}
	return n
}
