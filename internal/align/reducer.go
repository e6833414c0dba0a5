package align

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Reducer names how the rows falling in one window combine per channel.
type Reducer string

const (
	ReducerMean Reducer = "mean"
	ReducerMin  Reducer = "min"
	ReducerMax  Reducer = "max"
	ReducerSum  Reducer = "sum"
)

// DefaultReducer is used when none is configured.
const DefaultReducer = ReducerMean

// ParseReducer accepts a reducer name, case-insensitively. Empty means the default.
func ParseReducer(s string) (Reducer, error) {
	switch r := Reducer(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return DefaultReducer, nil
	case ReducerMean, ReducerMin, ReducerMax, ReducerSum:
		return r, nil
	default:
		return "", fmt.Errorf("unknown reducer %q (want mean, min, max or sum)", s)
	}
}

// Reduce combines valid channel readings; an empty slice yields FillValue.
func (r Reducer) Reduce(values []float64) float64 {
	if len(values) == 0 {
		return FillValue
	}
	switch r {
	case ReducerMin:
		return floats.Min(values)
	case ReducerMax:
		return floats.Max(values)
	case ReducerSum:
		return floats.Sum(values)
	default:
		return stat.Mean(values, nil)
	}
}
