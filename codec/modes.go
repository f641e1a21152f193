package codec

import "errors"

// Codec2 wire packets carry a one-byte header identifying the narrowband
// mode before the encoded subframes. The header values are stable wire
// constants; the library mode numbers they map to follow the codec2 mode
// enumeration.
//
//	header  library mode  bitrate
//	0x00    8             700C
//	0x01    5             1200
//	0x02    4             1300
//	0x03    3             1400
//	0x04    2             1600
//	0x05    1             2400
//	0x06    0             3200
var headerModes = [7]int{8, 5, 4, 3, 2, 1, 0}

var (
	// ErrUnknownHeader reports a codec2 wire header byte outside the mode
	// table.
	ErrUnknownHeader = errors.New("unknown codec2 mode header")
	// ErrUnknownMode reports a codec2 library mode with no wire header
	// assignment.
	ErrUnknownMode = errors.New("unknown codec2 library mode")
)

// HeaderToMode maps a codec2 wire header byte to its library mode.
//
// Returns:
//   - int: library mode number
//   - error: ErrUnknownHeader if the byte is outside the table
func HeaderToMode(header byte) (int, error) {
	if int(header) >= len(headerModes) {
		return 0, ErrUnknownHeader
	}
	return headerModes[header], nil
}

// ModeToHeader maps a codec2 library mode to its wire header byte.
//
// Returns:
//   - byte: wire header value
//   - error: ErrUnknownMode if the mode has no header assignment
func ModeToHeader(mode int) (byte, error) {
	for h, m := range headerModes {
		if m == mode {
			return byte(h), nil
		}
	}
	return 0, ErrUnknownMode
}
