package pollyxt

import "fmt"

// FormatError reports a file whose header or structure is not a PollyXT raw file.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: invalid PollyXT file: %s", e.Path, e.Reason)
}

// TruncatedDataError reports a file holding fewer bytes than its header declares.
type TruncatedDataError struct {
	Path      string
	Rows      int
	Needed    int
	Available int
}

func (e *TruncatedDataError) Error() string {
	return fmt.Sprintf("%s: truncated data: %d rows need %d bytes, %d available",
		e.Path, e.Rows, e.Needed, e.Available)
}

// ChannelMismatchError reports a row whose channel count differs from the header.
type ChannelMismatchError struct {
	Path string
	Row  int
	Want int
	Got  int
}

func (e *ChannelMismatchError) Error() string {
	return fmt.Sprintf("%s: row %d has %d channels, header declares %d", e.Path, e.Row, e.Got, e.Want)
}
