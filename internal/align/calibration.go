package align

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CalibrationPeriods are the daily polarisation calibration slots, HH:MM-HH:MM UTC.
var CalibrationPeriods = []string{"02:31-02:41", "17:31-17:41", "21:31-21:41"}

// ParsePeriod converts an HH:MM-HH:MM period into a Range on the day of base.
func ParsePeriod(base time.Time, period string) (Range, error) {
	startStr, endStr, ok := strings.Cut(period, "-")
	if !ok {
		return Range{}, fmt.Errorf("period %q: want HH:MM-HH:MM", period)
	}
	day := time.Date(base.Year(), base.Month(), base.Day(), 0, 0, 0, 0, base.Location())

	start, err := clockOffset(startStr)
	if err != nil {
		return Range{}, fmt.Errorf("period %q: %w", period, err)
	}
	end, err := clockOffset(endStr)
	if err != nil {
		return Range{}, fmt.Errorf("period %q: %w", period, err)
	}
	return Range{Start: day.Add(start), End: day.Add(end)}, nil
}

func clockOffset(s string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("bad hour %q", hh)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute %q", mm)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// CalibrationRanges returns the calibration slots that lie strictly inside
// measured, on the day measured starts.
func CalibrationRanges(measured Range) []Range {
	var out []Range
	for _, p := range CalibrationPeriods {
		r, err := ParsePeriod(measured.Start, p)
		if err != nil {
			continue
		}
		if r.Start.After(measured.Start) && r.End.Before(measured.End) {
			out = append(out, r)
		}
	}
	return out
}
