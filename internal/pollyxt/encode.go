package pollyxt

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode serialises a block in the PollyXT raw layout. Each row is written
// with its own value count, so a block with ragged rows encodes to a file that
// Decode rejects with ChannelMismatchError. ChannelCount falls back to the
// first row's length when zero.
func Encode(b *Block) ([]byte, error) {
	if len(b.StationID) > IdentFieldSize {
		return nil, fmt.Errorf("station id %q longer than %d bytes", b.StationID, IdentFieldSize)
	}
	if len(b.FirmwareVersion) > IdentFieldSize {
		return nil, fmt.Errorf("firmware version %q longer than %d bytes", b.FirmwareVersion, IdentFieldSize)
	}
	channels := b.ChannelCount
	if channels == 0 && len(b.Rows) > 0 {
		channels = len(b.Rows[0].Values)
	}

	size := HeaderSize
	for _, row := range b.Rows {
		size += RowSize(len(row.Values))
	}
	buf := make([]byte, HeaderSize, size)

	copy(buf, Magic)
	binary.LittleEndian.PutUint16(buf[offVersion:], FormatVersion)
	copy(buf[offStation:offStation+IdentFieldSize], b.StationID)
	copy(buf[offFirmware:offFirmware+IdentFieldSize], b.FirmwareVersion)
	binary.LittleEndian.PutUint64(buf[offLatitude:], math.Float64bits(b.Latitude))
	binary.LittleEndian.PutUint64(buf[offLongitude:], math.Float64bits(b.Longitude))
	binary.LittleEndian.PutUint64(buf[offAltitude:], math.Float64bits(b.Altitude))
	binary.LittleEndian.PutUint64(buf[offZenith:], math.Float64bits(b.ZenithAngle))
	binary.LittleEndian.PutUint32(buf[offRowCount:], uint32(len(b.Rows)))
	binary.LittleEndian.PutUint32(buf[offChannels:], uint32(channels))

	for _, row := range b.Rows {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(row.Timestamp.UnixMilli()))
		buf = binary.LittleEndian.AppendUint32(buf, row.LaserShots)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(row.Values)))
		for _, v := range row.Values {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}
	return buf, nil
}
