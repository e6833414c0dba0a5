// Package metadata resolves the station metadata a product needs (SCC
// station code, coordinates, system configuration ids, channel ids) from a
// pluggable Source, caching each lookup for the lifetime of one run.
package metadata

import (
	"fmt"
	"strings"
	"time"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/db"
)

// Station is the metadata of one station over a validity period.
// Values handed out by a Cache are shared and must not be modified.
type Station struct {
	StationID     string
	Name          string
	SCCCode       string
	Latitude      float64
	Longitude     float64
	Altitude      float64
	SystemIDDay   int
	SystemIDNight int
	ChannelIDs    []int
	ValidFrom     time.Time
	ValidTo       *time.Time // nil: open ended
}

// Covers reports whether at lies inside [ValidFrom, ValidTo). A zero
// ValidFrom means valid since forever.
func (s *Station) Covers(at time.Time) bool {
	if !s.ValidFrom.IsZero() && at.Before(s.ValidFrom) {
		return false
	}
	return s.ValidTo == nil || at.Before(*s.ValidTo)
}

// ConfigurationID returns the day system id when start lies strictly
// between 04:00 and 16:00 of its own day, otherwise the night one.
func (s *Station) ConfigurationID(start time.Time) int {
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	if start.After(day.Add(4*time.Hour)) && start.Before(day.Add(16*time.Hour)) {
		return s.SystemIDDay
	}
	return s.SystemIDNight
}

func (s *Station) validate() error {
	if strings.TrimSpace(s.StationID) == "" {
		return fmt.Errorf("station has no id")
	}
	if s.ValidTo != nil && !s.ValidTo.After(s.ValidFrom) {
		return fmt.Errorf("station %s: validity ends before it starts", s.StationID)
	}
	return nil
}

func stationFromPeriod(p *db.StationPeriod) *Station {
	s := &Station{
		StationID:     p.StationID,
		Name:          p.Name,
		SCCCode:       p.SCCCode,
		Latitude:      p.Latitude,
		Longitude:     p.Longitude,
		Altitude:      p.Altitude,
		SystemIDDay:   p.SystemIDDay,
		SystemIDNight: p.SystemIDNight,
		ChannelIDs:    append([]int(nil), p.ChannelIDs...),
		ValidFrom:     p.ValidFrom,
	}
	if p.ValidTo != nil {
		to := *p.ValidTo
		s.ValidTo = &to
	}
	return s
}

func periodFromStation(s *Station, source string, fetchedAt time.Time) *db.StationPeriod {
	p := &db.StationPeriod{
		StationID:     s.StationID,
		Name:          s.Name,
		SCCCode:       s.SCCCode,
		Latitude:      s.Latitude,
		Longitude:     s.Longitude,
		Altitude:      s.Altitude,
		SystemIDDay:   s.SystemIDDay,
		SystemIDNight: s.SystemIDNight,
		ChannelIDs:    append([]int(nil), s.ChannelIDs...),
		ValidFrom:     s.ValidFrom,
		FetchedAt:     fetchedAt,
		Source:        source,
	}
	if s.ValidTo != nil {
		to := *s.ValidTo
		p.ValidTo = &to
	}
	return p
}
