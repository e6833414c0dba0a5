// Package pollyxt decodes PollyXT lidar raw files into measurement blocks.
//
// A file is a fixed 80-byte little-endian header followed by row-major records:
//
//	0   4  magic "PXT1"
//	4   2  format version (1)
//	6   2  flags (reserved)
//	8  16  station id, ASCII, NUL padded
//	24 16  firmware version, ASCII, NUL padded
//	40  8  latitude (float64, degrees)
//	48  8  longitude (float64, degrees)
//	56  8  altitude (float64, metres)
//	64  8  zenith angle (float64, degrees)
//	72  4  declared row count (uint32)
//	76  4  declared channel count (uint32)
//
// Each row is an int64 unix-millisecond timestamp, a uint32 laser shot count,
// a uint16 channel count and that many float64 channel values.
package pollyxt

import (
	"time"
)

const (
	Magic         = "PXT1"
	FormatVersion = 1

	HeaderSize     = 80
	IdentFieldSize = 16

	offVersion   = 4
	offStation   = 8
	offFirmware  = 24
	offLatitude  = 40
	offLongitude = 48
	offAltitude  = 56
	offZenith    = 64
	offRowCount  = 72
	offChannels  = 76

	// RowPrefixSize is timestamp (8) + laser shots (4) + row channel count (2).
	RowPrefixSize = 14
	ValueSize     = 8

	// MaxChannels bounds the declared channel count so a corrupt header cannot
	// drive huge allocations.
	MaxChannels = 64

	// SentinelValue marks a channel reading the instrument flagged as invalid.
	// It is carried through as data.
	SentinelValue = -999.0
)

// Row is one timestamped channel vector.
type Row struct {
	Timestamp  time.Time
	LaserShots uint32
	Values     []float64
}

// Block is the decoded content of one PollyXT file.
type Block struct {
	Path            string
	StationID       string
	FirmwareVersion string
	Latitude        float64
	Longitude       float64
	Altitude        float64
	ZenithAngle     float64
	ChannelCount    int
	Rows            []Row
}

// Start returns the first row timestamp, or the zero time for an empty block.
func (b *Block) Start() time.Time {
	if len(b.Rows) == 0 {
		return time.Time{}
	}
	return b.Rows[0].Timestamp
}

// End returns the last row timestamp, or the zero time for an empty block.
func (b *Block) End() time.Time {
	if len(b.Rows) == 0 {
		return time.Time{}
	}
	return b.Rows[len(b.Rows)-1].Timestamp
}

// RowSize is the encoded size of a row with n channels.
func RowSize(n int) int {
	return RowPrefixSize + n*ValueSize
}
