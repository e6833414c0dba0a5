package metadata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned by a Source that has no metadata for the
// requested station and date.
var ErrNotFound = errors.New("station metadata not found")

// Source resolves station metadata valid at date.
type Source interface {
	Lookup(ctx context.Context, stationID string, date time.Time) (*Station, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, stationID string, date time.Time) (*Station, error)

func (f SourceFunc) Lookup(ctx context.Context, stationID string, date time.Time) (*Station, error) {
	return f(ctx, stationID, date)
}

// UnavailableError is returned by the Enricher when metadata could not be
// obtained. Err wraps either ErrNotFound or the last transport error.
type UnavailableError struct {
	StationID string
	Date      time.Time
	Attempts  int
	Err       error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("metadata for station %q on %s unavailable after %d attempt(s): %v",
		e.StationID, e.Date.UTC().Format("2006-01-02"), e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// NotFound reports whether the station is known to be missing, as opposed
// to the source being unreachable.
func (e *UnavailableError) NotFound() bool { return errors.Is(e.Err, ErrNotFound) }

// StaticSource serves a fixed set of stations from memory.
type StaticSource struct {
	mu       sync.RWMutex
	stations map[string][]*Station
}

// NewStaticSource returns a source holding stations.
func NewStaticSource(stations ...*Station) *StaticSource {
	s := &StaticSource{stations: make(map[string][]*Station)}
	for _, st := range stations {
		s.Add(st)
	}
	return s
}

// Add registers st; later additions win when validity periods overlap.
func (s *StaticSource) Add(st *Station) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations[st.StationID] = append(s.stations[st.StationID], st)
}

func (s *StaticSource) Lookup(ctx context.Context, stationID string, date time.Time) (*Station, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.stations[stationID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Covers(date) {
			return list[i], nil
		}
	}
	return nil, fmt.Errorf("%w: station %q", ErrNotFound, stationID)
}

// Stations returns every registered station ordered by id then start.
func (s *StaticSource) Stations() []*Station {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Station
	for _, list := range s.stations {
		out = append(out, list...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StationID != out[j].StationID {
			return out[i].StationID < out[j].StationID
		}
		return out[i].ValidFrom.Before(out[j].ValidFrom)
	})
	return out
}
