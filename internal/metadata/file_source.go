package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/db"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/monitoring"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/timeutil"
)

// FileCacheSource answers from the local station catalog. When Upstream is
// set, misses are read through it and the answer is saved to the catalog so
// later runs work offline.
type FileCacheSource struct {
	DB       *db.DB
	Upstream Source
	// Name is recorded as the origin of periods saved from Upstream.
	Name  string
	Clock timeutil.Clock
}

// NewFileCacheSource returns a catalog-backed source. upstream may be nil.
func NewFileCacheSource(catalog *db.DB, upstream Source, name string) *FileCacheSource {
	return &FileCacheSource{DB: catalog, Upstream: upstream, Name: name, Clock: timeutil.RealClock{}}
}

func (s *FileCacheSource) Lookup(ctx context.Context, stationID string, date time.Time) (*Station, error) {
	p, err := s.DB.FindStationPeriod(ctx, stationID, date)
	if err == nil {
		return stationFromPeriod(p), nil
	}
	if !errors.Is(err, db.ErrNoStationPeriod) {
		return nil, err
	}
	if s.Upstream == nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	st, err := s.Upstream.Lookup(ctx, stationID, date)
	if err != nil {
		return nil, err
	}

	fetchedAt := time.Now()
	if s.Clock != nil {
		fetchedAt = s.Clock.Now()
	}
	if err := s.DB.SaveStationPeriod(ctx, periodFromStation(st, s.Name, fetchedAt)); err != nil {
		// the answer is still good for this run
		monitoring.Logf("warning: failed to cache station %s in catalog: %v", stationID, err)
	}
	return st, nil
}

// Stations lists every station period held in the catalog.
func (s *FileCacheSource) Stations(ctx context.Context) ([]*Station, error) {
	periods, err := s.DB.ListStationPeriods(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]*Station, 0, len(periods))
	for _, p := range periods {
		out = append(out, stationFromPeriod(p))
	}
	return out, nil
}
