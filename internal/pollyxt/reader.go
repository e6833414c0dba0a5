package pollyxt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/fsutil"
	"github.com/inamattis/PollyXT-SCC-Pipelines/internal/monitoring"
)

// Reader loads PollyXT files through a FileSystem.
type Reader struct {
	fs fsutil.FileSystem
}

// NewReader returns a Reader over fs; a nil fs means the OS filesystem.
func NewReader(fs fsutil.FileSystem) *Reader {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &Reader{fs: fs}
}

// Read decodes the file at path.
func (r *Reader) Read(path string) (*Block, error) {
	data, err := r.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Decode(path, data)
}

// MeasurementPeriod returns the first and last row timestamps of the file at
// path without decoding channel values.
func (r *Reader) MeasurementPeriod(path string) (time.Time, time.Time, error) {
	data, err := r.fs.ReadFile(path)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("read %s: %w", path, err)
	}
	h, err := decodeHeader(path, data)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if h.rows == 0 {
		return time.Time{}, time.Time{}, &FormatError{Path: path, Reason: "no rows"}
	}
	var first, last time.Time
	off := HeaderSize
	for i := 0; i < h.rows; i++ {
		row, next, err := h.rowAt(path, data, i, off)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		if i == 0 {
			first = row.ts
		}
		last = row.ts
		off = next
	}
	return first, last, nil
}

type header struct {
	station   string
	firmware  string
	latitude  float64
	longitude float64
	altitude  float64
	zenith    float64
	rows      int
	channels  int
}

func decodeHeader(path string, data []byte) (*header, error) {
	if len(data) < len(Magic) || string(data[:len(Magic)]) != Magic {
		return nil, &FormatError{Path: path, Reason: "missing PXT1 signature"}
	}
	if len(data) < HeaderSize {
		return nil, &TruncatedDataError{Path: path, Needed: HeaderSize, Available: len(data)}
	}
	if v := binary.LittleEndian.Uint16(data[offVersion:]); v != FormatVersion {
		return nil, &FormatError{Path: path, Reason: fmt.Sprintf("unsupported format version %d", v)}
	}

	h := &header{
		station:   readIdent(data[offStation : offStation+IdentFieldSize]),
		firmware:  readIdent(data[offFirmware : offFirmware+IdentFieldSize]),
		latitude:  readFloat(data[offLatitude:]),
		longitude: readFloat(data[offLongitude:]),
		altitude:  readFloat(data[offAltitude:]),
		zenith:    readFloat(data[offZenith:]),
		rows:      int(binary.LittleEndian.Uint32(data[offRowCount:])),
		channels:  int(binary.LittleEndian.Uint32(data[offChannels:])),
	}
	if h.channels == 0 || h.channels > MaxChannels {
		return nil, &FormatError{Path: path, Reason: fmt.Sprintf("declared channel count %d out of range 1..%d", h.channels, MaxChannels)}
	}
	return h, nil
}

type rowPrefix struct {
	ts    time.Time
	shots uint32
}

// rowAt checks the row of index i starting at off and returns its prefix and
// the offset just past it. Rows are checked one at a time, so a row with a
// wrong value count is a ChannelMismatchError even when it also leaves the
// file short.
func (h *header) rowAt(path string, data []byte, i, off int) (rowPrefix, int, error) {
	truncated := func() error {
		return &TruncatedDataError{Path: path, Rows: h.rows, Needed: h.rows * RowSize(h.channels), Available: len(data) - HeaderSize}
	}
	if off+RowPrefixSize > len(data) {
		return rowPrefix{}, 0, truncated()
	}
	row := rowPrefix{
		ts:    readTimestamp(data[off:]),
		shots: binary.LittleEndian.Uint32(data[off+8:]),
	}
	if n := int(binary.LittleEndian.Uint16(data[off+12:])); n != h.channels {
		return rowPrefix{}, 0, &ChannelMismatchError{Path: path, Row: i, Want: h.channels, Got: n}
	}
	next := off + RowSize(h.channels)
	if next > len(data) {
		return rowPrefix{}, 0, truncated()
	}
	return row, next, nil
}

// Decode parses a PollyXT file image. NaN and sentinel readings are returned
// as-is; only structural problems are errors.
func Decode(path string, data []byte) (*Block, error) {
	h, err := decodeHeader(path, data)
	if err != nil {
		return nil, err
	}
	block := &Block{
		Path:            path,
		StationID:       h.station,
		FirmwareVersion: h.firmware,
		Latitude:        h.latitude,
		Longitude:       h.longitude,
		Altitude:        h.altitude,
		ZenithAngle:     h.zenith,
		ChannelCount:    h.channels,
		Rows:            make([]Row, 0, min(h.rows, len(data)/RowSize(h.channels))),
	}

	off := HeaderSize
	for i := 0; i < h.rows; i++ {
		row, next, err := h.rowAt(path, data, i, off)
		if err != nil {
			return nil, err
		}
		if i > 0 && !row.ts.After(block.Rows[i-1].Timestamp) {
			return nil, &FormatError{Path: path, Reason: fmt.Sprintf("row %d timestamp %s not after %s",
				i, row.ts.Format(time.RFC3339), block.Rows[i-1].Timestamp.Format(time.RFC3339))}
		}

		values := make([]float64, h.channels)
		for c := range values {
			values[c] = readFloat(data[off+RowPrefixSize+c*ValueSize:])
		}
		block.Rows = append(block.Rows, Row{Timestamp: row.ts, LaserShots: row.shots, Values: values})
		off = next
	}

	if extra := len(data) - off; extra > 0 {
		monitoring.Debugf("%s: ignoring %d trailing bytes after %d rows", path, extra, h.rows)
	}
	return block, nil
}

func readTimestamp(b []byte) time.Time {
	return time.UnixMilli(int64(binary.LittleEndian.Uint64(b))).UTC()
}

func readFloat(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func readIdent(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimSpace(b))
}
