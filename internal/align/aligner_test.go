package align

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/pollyxt"
)

var midnight = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// minuteBlock has rows at midnight+offsets minutes; row value = 10*offset + channel.
func minuteBlock(channels int, offsets ...int) *pollyxt.Block {
	b := &pollyxt.Block{Path: "test.pxt", StationID: "arm", ChannelCount: channels}
	for _, off := range offsets {
		values := make([]float64, channels)
		for c := range values {
			values[c] = float64(off*10 + c)
		}
		b.Rows = append(b.Rows, pollyxt.Row{
			Timestamp:  midnight.Add(time.Duration(off) * time.Minute),
			LaserShots: 600,
			Values:     values,
		})
	}
	return b
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestAlign_TenRowsIntoTwoWindows(t *testing.T) {
	t.Parallel()
	block := minuteBlock(3, seq(10)...)
	rng := Range{Start: midnight, End: midnight.Add(10 * time.Minute)}

	windows, err := NewAligner("").Align(block, 5*time.Minute, rng)
	require.NoError(t, err)
	require.Len(t, windows, 2)

	for i, w := range windows {
		assert.Equal(t, i, w.Index)
		assert.Equal(t, 5, w.RowCount, "window %d", i)
		assert.False(t, w.Empty)
		assert.Equal(t, uint64(3000), w.LaserShots)
		require.Len(t, w.Values, 3)
	}
	// mean of offsets 0..4 is 2 -> 20 + channel
	assert.Equal(t, []float64{20, 21, 22}, windows[0].Values)
	assert.Equal(t, []float64{70, 71, 72}, windows[1].Values)
	assert.Equal(t, midnight.Add(5*time.Minute), windows[0].Stop)
	assert.Equal(t, windows[0].Stop, windows[1].Start)
}

func TestAlign_BoundaryRowGoesToLaterWindow(t *testing.T) {
	t.Parallel()
	// one row just before the 5-minute boundary and one exactly on it
	block := minuteBlock(1, 4, 5)
	rng := Range{Start: midnight, End: midnight.Add(10 * time.Minute)}

	windows, err := NewAligner(ReducerSum).Align(block, 5*time.Minute, rng)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, 1, windows[0].RowCount)
	assert.Equal(t, 40.0, windows[0].Values[0])
	assert.Equal(t, 1, windows[1].RowCount)
	assert.Equal(t, 50.0, windows[1].Values[0])
}

func TestAlign_GapsAreEmptyWindows(t *testing.T) {
	t.Parallel()
	block := minuteBlock(2, 0, 1, 25, 26)
	rng := Range{Start: midnight, End: midnight.Add(30 * time.Minute)}

	windows, err := NewAligner(ReducerMean).Align(block, 5*time.Minute, rng)
	require.NoError(t, err)
	require.Len(t, windows, 6)

	for i, w := range windows {
		assert.Equal(t, i, w.Index, "indices must be contiguous")
		if i == 0 || i == 5 {
			assert.False(t, w.Empty)
			continue
		}
		assert.True(t, w.Empty, "window %d", i)
		assert.Zero(t, w.RowCount)
		for _, v := range w.Values {
			assert.True(t, IsFill(v))
		}
	}
}

func TestAlign_RowsOutsideRangeDropped(t *testing.T) {
	t.Parallel()
	block := minuteBlock(1, 0, 1, 2, 3, 4, 5, 6)
	rng := Range{Start: midnight.Add(2 * time.Minute), End: midnight.Add(5 * time.Minute)}

	windows, err := NewAligner(ReducerMax).Align(block, time.Minute, rng)
	require.NoError(t, err)
	require.Len(t, windows, 3)
	total := 0
	for _, w := range windows {
		total += w.RowCount
	}
	assert.Equal(t, 3, total)
	assert.Equal(t, 20.0, windows[0].Values[0])
	assert.Equal(t, 40.0, windows[2].Values[0])
}

func TestAlign_WindowCountProperty(t *testing.T) {
	t.Parallel()
	block := minuteBlock(1, seq(60)...)
	rng := Range{Start: midnight, End: midnight.Add(time.Hour)}

	for _, d := range []time.Duration{
		time.Second, 7 * time.Second, time.Minute, 7 * time.Minute, 25 * time.Minute, time.Hour, 2 * time.Hour,
	} {
		windows, err := NewAligner("").Align(block, d, rng)
		require.NoError(t, err)

		want := int(math.Ceil(float64(rng.Duration()) / float64(d)))
		require.Len(t, windows, want, "d=%s", d)

		for i, w := range windows {
			assert.Equal(t, i, w.Index)
			if i > 0 {
				assert.Equal(t, windows[i-1].Stop, w.Start, "d=%s window %d not contiguous", d, i)
			}
		}
		assert.Equal(t, rng.Start, windows[0].Start)
		assert.Equal(t, rng.End, windows[len(windows)-1].Stop, "last window clipped to range end")
	}
}

func TestAlign_InvalidReadingsSkipped(t *testing.T) {
	t.Parallel()
	block := minuteBlock(2, 0, 1, 2)
	block.Rows[0].Values[0] = math.NaN()
	block.Rows[1].Values[0] = pollyxt.SentinelValue
	block.Rows[0].Values[1] = math.NaN()
	block.Rows[1].Values[1] = math.NaN()
	block.Rows[2].Values[1] = math.NaN()

	windows, err := NewAligner(ReducerMean).Align(block, 5*time.Minute, Range{Start: midnight, End: midnight.Add(5 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, windows, 1)
	w := windows[0]
	assert.Equal(t, 3, w.RowCount, "invalid readings still count as rows")
	assert.False(t, w.Empty)
	assert.Equal(t, 20.0, w.Values[0])
	assert.True(t, IsFill(w.Values[1]), "channel with no valid reading is filled")
}

func TestAlign_Errors(t *testing.T) {
	t.Parallel()
	block := minuteBlock(1, 0)
	a := NewAligner("")

	_, err := a.Align(block, 0, Range{Start: midnight, End: midnight.Add(time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = a.Align(block, time.Minute, Range{Start: midnight, End: midnight})
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = a.Align(block, time.Minute, Range{Start: midnight.Add(time.Hour), End: midnight})
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestReducers(t *testing.T) {
	t.Parallel()
	values := []float64{4, 1, 7}
	tests := []struct {
		r    Reducer
		want float64
	}{
		{ReducerMean, 4},
		{ReducerMin, 1},
		{ReducerMax, 7},
		{ReducerSum, 12},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.r.Reduce(values), string(tt.r))
		assert.True(t, IsFill(tt.r.Reduce(nil)), string(tt.r))
	}
}

func TestParseReducer(t *testing.T) {
	t.Parallel()
	r, err := ParseReducer("")
	require.NoError(t, err)
	assert.Equal(t, ReducerMean, r)

	r, err = ParseReducer(" MAX ")
	require.NoError(t, err)
	assert.Equal(t, ReducerMax, r)

	_, err = ParseReducer("median")
	assert.Error(t, err)
}

func TestBlockRangeAndRoundStart(t *testing.T) {
	t.Parallel()
	block := minuteBlock(1, 12, 13, 47)
	rng := BlockRange(block)
	assert.Equal(t, midnight.Add(12*time.Minute), rng.Start)
	assert.Equal(t, midnight.Add(47*time.Minute+time.Millisecond), rng.End)
	assert.True(t, rng.Contains(block.End()))

	rounded := rng.RoundStart()
	assert.Equal(t, midnight, rounded.Start)
	assert.Equal(t, rng.End, rounded.End)
}

func TestRangeClip(t *testing.T) {
	t.Parallel()
	day := Range{Start: midnight, End: midnight.Add(6 * time.Hour)}
	d := 5 * time.Minute

	tests := []struct {
		name  string
		other Range
		want  Range
	}{
		{
			"file inside the range snaps outward to the grid",
			Range{Start: midnight.Add(3*time.Hour + 2*time.Minute), End: midnight.Add(3*time.Hour + 21*time.Minute)},
			Range{Start: midnight.Add(3 * time.Hour), End: midnight.Add(3*time.Hour + 25*time.Minute)},
		},
		{
			"file starting before the range keeps the range start",
			Range{Start: midnight.Add(-time.Hour), End: midnight.Add(10 * time.Minute)},
			Range{Start: midnight, End: midnight.Add(10 * time.Minute)},
		},
		{
			"file ending after the range keeps the range end",
			Range{Start: midnight.Add(5*time.Hour + 58*time.Minute), End: midnight.Add(7 * time.Hour)},
			Range{Start: midnight.Add(5*time.Hour + 55*time.Minute), End: day.End},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, day.Clip(tt.other, d))
		})
	}

	outside := day.Clip(Range{Start: midnight.Add(12 * time.Hour), End: midnight.Add(13 * time.Hour)}, d)
	assert.Error(t, outside.Validate())
}
