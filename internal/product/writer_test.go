package product

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/align"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/metadata"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

var start = time.Date(2023, 7, 14, 17, 0, 0, 0, time.UTC)

func testStation() *metadata.Station {
	return &metadata.Station{
		StationID:     "arm",
		Name:          "Antikythera",
		SCCCode:       "arm",
		Latitude:      35.86,
		Longitude:     23.31,
		Altitude:      193,
		SystemIDDay:   375,
		SystemIDNight: 376,
		ChannelIDs:    []int{493, 500, 497},
	}
}

func testWindows(n, channels int) []align.Window {
	windows := make([]align.Window, n)
	for i := range windows {
		w := align.Window{
			Index:      i,
			Start:      start.Add(time.Duration(i) * 5 * time.Minute),
			Stop:       start.Add(time.Duration(i+1) * 5 * time.Minute),
			RowCount:   5,
			LaserShots: 3000,
			Values:     make([]float64, channels),
		}
		for c := range w.Values {
			w.Values[c] = float64(i*10 + c)
		}
		windows[i] = w
	}
	return windows
}

func testProvenance() Provenance {
	return Provenance{
		SourceFiles:     []string{"/data/2023_07_14_Fri_ARM_17_00_01.pxt"},
		ProcessedAt:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		PipelineVersion: "1.2.0",
		RunID:           "run-1",
	}
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestMeasurementID(t *testing.T) {
	assert.Equal(t, "20230714arm1719", MeasurementID(start, start.Add(150*time.Minute), "arm"))
	assert.Equal(t, "20230714arm17", CalibrationID(start, "arm"))
	assert.Equal(t, "20230714arm1719.sqlite", FileName(KindMeasurement, "20230714arm1719"))
	assert.Equal(t, "calibration_20230714arm17.sqlite", FileName(KindCalibration, "20230714arm17"))
	assert.Equal(t, "rs_20230714arm17.nc", SoundingFileName("20230714arm1719"))
}

func TestWrite_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	windows := testWindows(4, 3)
	windows[2].Empty = true
	windows[2].RowCount = 0
	windows[2].LaserShots = 0
	for c := range windows[2].Values {
		windows[2].Values[c] = align.FillValue
	}

	p, err := NewWriter(KindMeasurement).Write(windows, testStation(), testProvenance(), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20230714arm1717.sqlite"), p.Path)
	assert.Equal(t, []string{"20230714arm1717.sqlite"}, dirEntries(t, dir), "no temp files left")
	assert.Equal(t, 4, p.WindowCount)
	assert.Equal(t, 3, p.ChannelCount)

	attrs, err := ReadAttributes(p.Path)
	require.NoError(t, err)
	assert.Equal(t, p.Attributes, attrs)
	for name, want := range map[string]string{
		"Measurement_ID":            "20230714arm1717",
		"RawData_Start_Date":        "20230714",
		"RawData_Start_Time_UT":     "170000",
		"RawData_Stop_Time_UT":      "172000",
		"Sounding_File_Name":        "rs_20230714arm17.nc",
		"NOAReACT_Configuration_ID": "376",
		"station_id":                "arm",
		"channel_count":             "3",
		"window_seconds":            "300",
		"software_version":          "1.2.0",
	} {
		got, ok := p.Attribute(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	_, ok := p.Attribute("processed_at")
	assert.False(t, ok, "processed_at belongs to provenance, not attributes")

	got, err := ReadWindows(p.Path)
	require.NoError(t, err)
	if diff := cmp.Diff(windows, got, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("windows mismatch (-want +got):\n%s", diff)
	}

	prov, err := ReadProvenance(p.Path)
	require.NoError(t, err)
	if diff := cmp.Diff(testProvenance(), prov); diff != "" {
		t.Errorf("provenance mismatch (-want +got):\n%s", diff)
	}
}

func TestWrite_MissingStationIDLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	st := testStation()
	st.StationID = ""

	_, err := NewWriter(KindMeasurement).Write(testWindows(2, 3), st, testProvenance(), dir)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "station_id", verr.Field)
	assert.Empty(t, dirEntries(t, dir))
}

func TestWrite_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		windows []align.Window
		station func() *metadata.Station
		prov    func() Provenance
		field   string
	}{
		{"nil station", testWindows(2, 3), func() *metadata.Station { return nil }, testProvenance, "station_id"},
		{"no scc code", testWindows(2, 3), func() *metadata.Station { s := testStation(); s.SCCCode = ""; return s }, testProvenance, "scc_code"},
		{"no version", testWindows(2, 3), testStation, func() Provenance { p := testProvenance(); p.PipelineVersion = ""; return p }, "pipeline_version"},
		{"no windows", nil, testStation, testProvenance, "windows"},
		{"too few channel ids", testWindows(2, 4), testStation, testProvenance, "channel_ids"},
		{"ragged windows", append(testWindows(1, 3), testWindows(2, 2)[1]), testStation, testProvenance, "channel_count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "out")
			_, err := NewWriter(KindMeasurement).Write(tt.windows, tt.station(), tt.prov(), dir)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Empty(t, dirEntries(t, dir))
		})
	}
}

func TestWrite_DestinationNotWritable(t *testing.T) {
	parent := t.TempDir()
	// a regular file where the destination directory should be
	blocker := filepath.Join(parent, "out")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := NewWriter(KindMeasurement).Write(testWindows(2, 3), testStation(), testProvenance(), blocker)
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, []string{"out"}, dirEntries(t, parent))
}

func TestWrite_OverwriteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(KindMeasurement)

	first, err := w.Write(testWindows(3, 3), testStation(), testProvenance(), dir)
	require.NoError(t, err)
	prov := testProvenance()
	prov.ProcessedAt = prov.ProcessedAt.Add(time.Hour)
	prov.RunID = "run-2"
	second, err := w.Write(testWindows(3, 3), testStation(), prov, dir)
	require.NoError(t, err)

	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, AttributeSet(first.Attributes), AttributeSet(second.Attributes))
	assert.Len(t, dirEntries(t, dir), 1)
}

func TestWrite_Calibration(t *testing.T) {
	dir := t.TempDir()
	windows := testWindows(10, 3)
	for i := range windows {
		windows[i].Start = start.Add(31*time.Minute + time.Duration(i)*time.Minute)
		windows[i].Stop = windows[i].Start.Add(time.Minute)
	}

	p, err := NewWriter(KindCalibration).Write(windows, testStation(), testProvenance(), dir)
	require.NoError(t, err)
	assert.Equal(t, "calibration_20230714arm17.sqlite", filepath.Base(p.Path))
	assert.Equal(t, "20230714arm1753", p.MeasurementID)
	attrs, err := ReadAttributes(p.Path)
	require.NoError(t, err)
	id, _ := lookupAttribute(attrs, "Measurement_ID")
	assert.Equal(t, "20230714arm1753", id)
	_, ok := p.Attribute("Sounding_File_Name")
	assert.False(t, ok)
	kind, _ := p.Attribute("product_kind")
	assert.Equal(t, "calibration", kind)

	conn, err := openContainer(p.Path)
	require.NoError(t, err)
	defer conn.Close()
	var lo, hi float64
	require.NoError(t, conn.QueryRow(`SELECT pol_calib_range_min, pol_calib_range_max FROM channels WHERE channel_index = 2`).Scan(&lo, &hi))
	assert.Equal(t, DefaultPolCalibRangeMin, lo)
	assert.Equal(t, DefaultPolCalibRangeMax, hi)
}

func TestWrite_Quicklook(t *testing.T) {
	dir := t.TempDir()
	windows := testWindows(6, 3)
	windows[3].Values[1] = math.NaN()

	w := NewWriter(KindMeasurement)
	w.Quicklook = true
	p, err := w.Write(windows, testStation(), testProvenance(), dir)
	require.NoError(t, err)
	require.NotEmpty(t, p.Quicklook)

	data, err := os.ReadFile(p.Quicklook)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), data[:4])
	assert.Len(t, dirEntries(t, dir), 2)
}

func TestWrite_SCCCodeCannotEscapeDestination(t *testing.T) {
	dir := t.TempDir()
	station := testStation()
	station.SCCCode = "../../evil"

	p, err := NewWriter(KindMeasurement).Write(testWindows(2, 3), station, testProvenance(), dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(p.Path))
	assert.Equal(t, []string{filepath.Base(p.Path)}, dirEntries(t, dir))
	assert.Equal(t, "20230714.._.._evil1717.sqlite", filepath.Base(p.Path))
}

func TestWrite_ClaimedPathIsNotReplaced(t *testing.T) {
	dir := t.TempDir()
	claims := NewClaims()
	w := NewWriter(KindMeasurement)
	w.Claims = claims

	first := testProvenance()
	first.SourceFiles = []string{"a.pxt"}
	p, err := w.Write(testWindows(2, 3), testStation(), first, dir)
	require.NoError(t, err)
	before, err := os.ReadFile(p.Path)
	require.NoError(t, err)

	// same source again, e.g. a retry, is allowed
	_, err = w.Write(testWindows(2, 3), testStation(), first, dir)
	require.NoError(t, err)

	second := testProvenance()
	second.SourceFiles = []string{"b.pxt"}
	windows := testWindows(2, 3)
	windows[0].Values[0] = 999
	_, err = w.Write(windows, testStation(), second, dir)
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.ErrorIs(t, err, ErrAlreadyWritten)
	assert.Equal(t, p.Path, werr.Path)

	after, err := os.ReadFile(p.Path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "the first product is kept")
	assert.Len(t, dirEntries(t, dir), 1)
}

func TestClaims_ReleaseOnlyByOwner(t *testing.T) {
	c := NewClaims()
	require.NoError(t, c.Claim("x.sqlite", "a.pxt"))
	c.Release("x.sqlite", "b.pxt")
	assert.ErrorIs(t, c.Claim("x.sqlite", "b.pxt"), ErrAlreadyWritten)
	c.Release("x.sqlite", "a.pxt")
	assert.NoError(t, c.Claim("x.sqlite", "b.pxt"))
}

func TestProduct_Remove(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(KindMeasurement)
	w.Quicklook = true
	p, err := w.Write(testWindows(6, 3), testStation(), testProvenance(), dir)
	require.NoError(t, err)
	require.Len(t, dirEntries(t, dir), 2)

	require.NoError(t, p.Remove())
	assert.Empty(t, dirEntries(t, dir))
	assert.NoError(t, p.Remove(), "removing twice is fine")
}
