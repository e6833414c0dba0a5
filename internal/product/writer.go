package product

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/align"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/metadata"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/monitoring"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/security"
)

// Default polarisation calibration range, in metres.
const (
	DefaultPolCalibRangeMin = 1200.0
	DefaultPolCalibRangeMax = 2500.0
)

// Writer produces one product per call.
type Writer struct {
	Kind Kind
	// Quicklook also renders a PNG preview next to the product.
	Quicklook bool
	// PolCalibRange is written to every channel of calibration products.
	PolCalibRange [2]float64
	// ZenithAngle is the laser pointing angle recorded in the attributes.
	ZenithAngle float64
	// Claims, when set, refuses a path another source already wrote
	// during the run.
	Claims *Claims
}

// NewWriter returns a Writer for products of kind.
func NewWriter(kind Kind) *Writer {
	if kind == "" {
		kind = KindMeasurement
	}
	return &Writer{
		Kind:          kind,
		PolCalibRange: [2]float64{DefaultPolCalibRangeMin, DefaultPolCalibRangeMax},
	}
}

// Write stores windows as a product in the destination directory. The
// container is built in a temporary file beside its final path, re-opened
// to check the required attributes, and renamed into place. On any error
// nothing is left behind in destination.
func (w *Writer) Write(windows []align.Window, station *metadata.Station, prov Provenance, destination string) (*Product, error) {
	channels, err := w.validateInputs(windows, station, prov)
	if err != nil {
		return nil, err
	}

	start, stop := windows[0].Start, windows[len(windows)-1].Stop
	id := MeasurementID(start, stop, station.SCCCode)
	name := FileName(w.Kind, id)
	if w.Kind == KindCalibration {
		base := CalibrationID(start, station.SCCCode)
		name = FileName(w.Kind, base)
		id = base + CalibrationIDSuffix
	}
	attrs := w.attributes(id, windows, station, prov, channels)
	finalPath := filepath.Join(destination, name)

	if err := os.MkdirAll(destination, 0o755); err != nil {
		return nil, &WriteError{Path: destination, Op: "create directory", Err: err}
	}
	if err := security.ValidatePathWithinDirectory(finalPath, destination); err != nil {
		return nil, &ValidationError{Path: finalPath, Field: "destination", Reason: err.Error()}
	}
	committed := false
	if w.Claims != nil {
		owner := strings.Join(prov.SourceFiles, ",")
		if err := w.Claims.Claim(finalPath, owner); err != nil {
			return nil, &WriteError{Path: finalPath, Op: "claim", Err: err}
		}
		defer func() {
			if !committed {
				w.Claims.Release(finalPath, owner)
			}
		}()
	}
	tmp, err := os.CreateTemp(destination, "."+name+".*.tmp")
	if err != nil {
		return nil, &WriteError{Path: finalPath, Op: "create temp file", Err: err}
	}
	tmpPath := tmp.Name()
	defer func() {
		if !committed {
			removeArtifacts(tmpPath)
		}
	}()
	if err := tmp.Close(); err != nil {
		return nil, &WriteError{Path: tmpPath, Op: "close temp file", Err: err}
	}

	rows := make([]channelRow, channels)
	for i := range rows {
		rows[i].id = station.ChannelIDs[i]
		if w.Kind == KindCalibration {
			cal := w.PolCalibRange
			rows[i].calibration = &cal
		}
	}
	if err := writeContainer(context.Background(), tmpPath, attrs, rows, windows, prov); err != nil {
		return nil, &WriteError{Path: finalPath, Op: "write container", Err: err}
	}

	if err := validateContainer(tmpPath, finalPath, attrs); err != nil {
		return nil, err
	}
	if err := syncFile(tmpPath); err != nil {
		return nil, &WriteError{Path: tmpPath, Op: "sync", Err: err}
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, &WriteError{Path: finalPath, Op: "rename", Err: err}
	}
	committed = true

	p := &Product{
		Path:          finalPath,
		MeasurementID: id,
		Kind:          w.Kind,
		Attributes:    attrs,
		WindowCount:   len(windows),
		ChannelCount:  channels,
		Provenance:    prov,
	}
	if w.Quicklook {
		path := strings.TrimSuffix(finalPath, ".sqlite") + ".png"
		if err := RenderQuicklook(path, id, windows, station.ChannelIDs[:channels]); err != nil {
			monitoring.Logf("warning: quicklook for %s: %v", id, err)
		} else {
			p.Quicklook = path
		}
	}
	monitoring.Logf("wrote %s product %s (%d windows, %d channels)", w.Kind, finalPath, len(windows), channels)
	return p, nil
}

func (w *Writer) validateInputs(windows []align.Window, station *metadata.Station, prov Provenance) (int, error) {
	if station == nil || strings.TrimSpace(station.StationID) == "" {
		return 0, &ValidationError{Field: "station_id", Reason: "missing"}
	}
	if strings.TrimSpace(station.SCCCode) == "" {
		return 0, &ValidationError{Field: "scc_code", Reason: "station " + station.StationID + " has no SCC code"}
	}
	if prov.PipelineVersion == "" {
		return 0, &ValidationError{Field: "pipeline_version", Reason: "missing"}
	}
	if len(windows) == 0 {
		return 0, &ValidationError{Field: "windows", Reason: "no windows to write"}
	}
	channels := len(windows[0].Values)
	if channels == 0 {
		return 0, &ValidationError{Field: "channel_count", Reason: "windows carry no channels"}
	}
	for i, win := range windows {
		if len(win.Values) != channels {
			return 0, &ValidationError{Field: "channel_count", Reason: fmt.Sprintf("window %d has %d channels, want %d", i, len(win.Values), channels)}
		}
		if win.Index != i {
			return 0, &ValidationError{Field: "windows", Reason: fmt.Sprintf("window at position %d has index %d", i, win.Index)}
		}
	}
	if len(station.ChannelIDs) < channels {
		return 0, &ValidationError{Field: "channel_ids", Reason: fmt.Sprintf("station %s maps %d channel ids, data has %d channels", station.StationID, len(station.ChannelIDs), channels)}
	}
	return channels, nil
}

func (w *Writer) attributes(id string, windows []align.Window, station *metadata.Station, prov Provenance, channels int) []Attribute {
	start, stop := windows[0].Start.UTC(), windows[len(windows)-1].Stop.UTC()
	ftoa := func(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

	attrs := []Attribute{
		{"Measurement_ID", id},
		{"RawData_Start_Date", start.Format("20060102")},
		{"RawData_Start_Time_UT", start.Format("150405")},
		{"RawData_Stop_Time_UT", stop.Format("150405")},
		{"RawBck_Start_Date", start.Format("20060102")},
		{"RawBck_Start_Time_UT", start.Format("150405")},
		{"RawBck_Stop_Time_UT", stop.Format("150405")},
	}
	if w.Kind == KindMeasurement {
		attrs = append(attrs,
			Attribute{"Sounding_File_Name", SoundingFileName(id)},
			Attribute{"NOAReACT_Configuration_ID", strconv.Itoa(station.ConfigurationID(start))},
		)
	}
	attrs = append(attrs,
		Attribute{"Laser_Pointing_Angle", ftoa(w.ZenithAngle)},
		Attribute{"Molecular_Calc", "1"},
		Attribute{"Pressure_at_Lidar_Station", "1008"},
		Attribute{"Temperature_at_Lidar_Station", "20"},
		Attribute{"product_kind", string(w.Kind)},
		Attribute{"station_id", station.StationID},
		Attribute{"station_name", station.Name},
		Attribute{"scc_code", station.SCCCode},
		Attribute{"latitude", ftoa(station.Latitude)},
		Attribute{"longitude", ftoa(station.Longitude)},
		Attribute{"altitude", ftoa(station.Altitude)},
		Attribute{"time_start", start.Format(time.RFC3339)},
		Attribute{"time_stop", stop.Format(time.RFC3339)},
		Attribute{"window_count", strconv.Itoa(len(windows))},
		Attribute{"window_seconds", ftoa(windows[0].Stop.Sub(windows[0].Start).Seconds())},
		Attribute{"channel_count", strconv.Itoa(channels)},
		Attribute{"software_version", prov.PipelineVersion},
	)
	return attrs
}

// requiredAttributes must be present in every product and match what was
// intended to be written.
var requiredAttributes = []string{"station_id", "time_start", "time_stop", "channel_count", "software_version"}

func validateContainer(tmpPath, finalPath string, want []Attribute) error {
	got, err := ReadAttributes(tmpPath)
	if err != nil {
		return &WriteError{Path: finalPath, Op: "re-open", Err: err}
	}
	for _, name := range requiredAttributes {
		wantValue, _ := lookupAttribute(want, name)
		gotValue, ok := lookupAttribute(got, name)
		if !ok || gotValue == "" {
			return &ValidationError{Path: finalPath, Field: name, Reason: "missing from written container"}
		}
		if gotValue != wantValue {
			return &ValidationError{Path: finalPath, Field: name, Reason: fmt.Sprintf("written as %q, want %q", gotValue, wantValue)}
		}
	}
	return nil
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// removeArtifacts deletes a temp container and any SQLite side files.
func removeArtifacts(path string) {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			monitoring.Logf("warning: failed to remove %s: %v", p, err)
		}
	}
}
