// Package testutil provides shared test fixtures: synthetic PollyXT blocks,
// files on disk and station metadata.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/metadata"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/monitoring"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/pollyxt"
)

// DefaultChannelIDs are the SCC channel ids of a 12-channel PollyXT.
var DefaultChannelIDs = []int{493, 500, 497, 499, 494, 496, 498, 495, 501, 941, 940, 502}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// MuteLogs silences the monitoring logger for the duration of the test.
func MuteLogs(t testing.TB) {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
}

// NewBlock builds a block of rows at a fixed cadence starting at start.
// Row i, channel c holds 10*i + c.
func NewBlock(stationID string, start time.Time, cadence time.Duration, rows, channels int) *pollyxt.Block {
	b := &pollyxt.Block{
		StationID:       stationID,
		FirmwareVersion: "fw-3.1",
		Latitude:        35.86,
		Longitude:       23.31,
		Altitude:        193,
		ZenithAngle:     5,
		ChannelCount:    channels,
		Rows:            make([]pollyxt.Row, rows),
	}
	for i := range b.Rows {
		values := make([]float64, channels)
		for c := range values {
			values[c] = float64(10*i + c)
		}
		b.Rows[i] = pollyxt.Row{
			Timestamp:  start.Add(time.Duration(i) * cadence),
			LaserShots: 600,
			Values:     values,
		}
	}
	return b
}

// EncodeBlock encodes b, failing the test on error.
func EncodeBlock(t testing.TB, b *pollyxt.Block) []byte {
	t.Helper()
	data, err := pollyxt.Encode(b)
	AssertNoError(t, err)
	return data
}

// WriteBlock encodes b into dir/name and returns the path.
func WriteBlock(t testing.TB, dir, name string, b *pollyxt.Block) string {
	t.Helper()
	return WriteFile(t, dir, name, EncodeBlock(t, b))
}

// WriteFile writes raw bytes into dir/name and returns the path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	AssertNoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	AssertNoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// NewStation returns station metadata valid from the zero time onwards,
// mapping the default channel ids.
func NewStation(stationID, sccCode string) *metadata.Station {
	return &metadata.Station{
		StationID:     stationID,
		Name:          "Station " + stationID,
		SCCCode:       sccCode,
		Latitude:      35.86,
		Longitude:     23.31,
		Altitude:      193,
		SystemIDDay:   375,
		SystemIDNight: 376,
		ChannelIDs:    append([]int(nil), DefaultChannelIDs...),
	}
}
