// Package product writes the SCC-ready data products. A product is a
// self-describing SQLite container holding the global attributes, the
// channel table, the window time axis, the window values and a provenance
// block. Files appear at their final path only once fully written and
// validated.
package product

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/security"
)

// Kind distinguishes regular measurement products from polarisation
// calibration products.
type Kind string

const (
	KindMeasurement Kind = "measurement"
	KindCalibration Kind = "calibration"
)

// Provenance records where a product came from. ProcessedAt and RunID
// differ between runs; everything else about a product is reproducible.
type Provenance struct {
	SourceFiles     []string
	ProcessedAt     time.Time
	PipelineVersion string
	RunID           string
}

// Attribute is one global attribute of a product.
type Attribute struct {
	Name  string
	Value string
}

// Product describes a written container.
type Product struct {
	Path          string
	MeasurementID string
	Kind          Kind
	Attributes    []Attribute
	WindowCount   int
	ChannelCount  int
	Provenance    Provenance
	// Quicklook is the path of the PNG preview, if one was written.
	Quicklook string
}

// Attribute returns the value of the named attribute.
func (p *Product) Attribute(name string) (string, bool) {
	return lookupAttribute(p.Attributes, name)
}

// Remove deletes the container and its quicklook.
func (p *Product) Remove() error {
	var errs []error
	for _, path := range []string{p.Path, p.Quicklook} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func lookupAttribute(attrs []Attribute, name string) (string, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// MeasurementID builds the SCC measurement id: start date, station code,
// start hour and end hour, e.g. 20230714arm1719.
func MeasurementID(start, end time.Time, sccCode string) string {
	start, end = start.UTC(), end.UTC()
	return start.Format("20060102") + sccCode + start.Format("15") + end.Format("15")
}

// CalibrationIDSuffix ends the Measurement_ID of every calibration product.
// The file name keeps the bare CalibrationID.
const CalibrationIDSuffix = "53"

// CalibrationID builds the id of a calibration product: start date,
// station code and start hour.
func CalibrationID(start time.Time, sccCode string) string {
	start = start.UTC()
	return start.Format("20060102") + sccCode + start.Format("15")
}

// FileName returns the container file name for a product of kind with id.
// The SCC code inside id comes from remote metadata, so it is sanitized.
func FileName(kind Kind, id string) string {
	id = security.SanitizeFilename(id)
	if kind == KindCalibration {
		return "calibration_" + id + ".sqlite"
	}
	return id + ".sqlite"
}

// SoundingFileName names the radiosonde file SCC pairs with a measurement.
func SoundingFileName(measurementID string) string {
	if len(measurementID) > 2 {
		measurementID = measurementID[:len(measurementID)-2]
	}
	return fmt.Sprintf("rs_%s.nc", measurementID)
}

// AttributeSet renders attrs as name=value lines, for comparisons and logs.
func AttributeSet(attrs []Attribute) string {
	var b strings.Builder
	for _, a := range attrs {
		fmt.Fprintf(&b, "%s=%s\n", a.Name, a.Value)
	}
	return b.String()
}
