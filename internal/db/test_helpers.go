package db

import (
	"path/filepath"
	"testing"
	"time"
)

// setupTestDB opens a migrated catalog in the test's temp dir.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("failed to open test catalog: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// testStationPeriod returns a valid period for stationID starting at from.
func testStationPeriod(stationID string, from time.Time, to *time.Time) *StationPeriod {
	return &StationPeriod{
		StationID:     stationID,
		Name:          "Test station " + stationID,
		SCCCode:       "tst",
		Latitude:      37.9,
		Longitude:     23.7,
		Altitude:      212,
		SystemIDDay:   375,
		SystemIDNight: 376,
		ChannelIDs:    []int{493, 500, 497},
		ValidFrom:     from,
		ValidTo:       to,
		FetchedAt:     from,
		Source:        "test",
	}
}
