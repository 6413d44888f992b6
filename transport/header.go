package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the length of the wire header in bytes.
const HeaderSize = 6

// MaxPacketLength is the largest total length the header can carry.
const MaxPacketLength = 0xFFFF

var ErrShortPacket = errors.New("packet shorter than transport header")

// Header is the datagram header: source port, destination port and total
// length including the header, all big endian.
type Header struct {
	SourcePort      uint16
	DestinationPort uint16
	Length          uint16
}

// Marshal encodes h.
func (h Header) Marshal() []byte {
	b := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(b[0:2], h.SourcePort)
	binary.BigEndian.PutUint16(b[2:4], h.DestinationPort)
	binary.BigEndian.PutUint16(b[4:6], h.Length)
	return b
}

// ParseHeader decodes the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	return Header{
		SourcePort:      binary.BigEndian.Uint16(b[0:2]),
		DestinationPort: binary.BigEndian.Uint16(b[2:4]),
		Length:          binary.BigEndian.Uint16(b[4:6]),
	}, nil
}
