package align

import (
	"fmt"
	"math"
	"time"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/monitoring"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/pollyxt"
)

// Aligner maps raw rows onto canonical windows.
type Aligner struct {
	Reducer Reducer
}

// NewAligner returns an Aligner using reducer, or the default when empty.
func NewAligner(reducer Reducer) *Aligner {
	if reducer == "" {
		reducer = DefaultReducer
	}
	return &Aligner{Reducer: reducer}
}

// Align assigns each row to the window [start, start+d) containing its
// timestamp. A row exactly on a boundary belongs to the later window. Rows
// outside rng are dropped. Every window index 0..N-1 is returned; windows
// without rows are marked Empty and filled with FillValue. NaN and sentinel
// readings do not contribute to a channel's reduced value.
func (a *Aligner) Align(block *pollyxt.Block, d time.Duration, rng Range) ([]Window, error) {
	if d <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWindow, d)
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	n := WindowCount(rng, d)
	channels := block.ChannelCount
	windows := make([]Window, n)
	// pending[i][c] holds the valid readings of channel c in window i
	pending := make([][][]float64, n)

	for i := range windows {
		start := rng.Start.Add(time.Duration(i) * d)
		stop := start.Add(d)
		if stop.After(rng.End) {
			stop = rng.End
		}
		windows[i] = Window{Index: i, Start: start, Stop: stop}
		pending[i] = make([][]float64, channels)
	}

	dropped := 0
	for _, row := range block.Rows {
		if !rng.Contains(row.Timestamp) {
			dropped++
			continue
		}
		i := int(row.Timestamp.Sub(rng.Start) / d)
		w := &windows[i]
		w.RowCount++
		w.LaserShots += uint64(row.LaserShots)
		for c, v := range row.Values {
			if c >= channels || !valid(v) {
				continue
			}
			pending[i][c] = append(pending[i][c], v)
		}
	}

	empty := 0
	for i := range windows {
		w := &windows[i]
		w.Values = make([]float64, channels)
		w.Empty = w.RowCount == 0
		if w.Empty {
			empty++
		}
		for c := range w.Values {
			w.Values[c] = a.Reducer.Reduce(pending[i][c])
		}
	}

	monitoring.Debugf("aligned %s: %d rows into %d windows of %s (%d empty, %d outside range)",
		block.Path, len(block.Rows)-dropped, n, d, empty, dropped)
	return windows, nil
}

func valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v != pollyxt.SentinelValue
}
