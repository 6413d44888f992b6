package model

import (
	"errors"
	"fmt"

	"github.com/rs/xid"
)

// ErrHeaderTooLong is returned when more header bytes are removed than the
// packet holds.
var ErrHeaderTooLong = errors.New("header longer than packet")

// PacketPriority is the traffic class carried with a packet.
type PacketPriority uint8

// Packet is a byte buffer that grows at the front as headers are added on
// the way down the stack and shrinks as they are stripped on the way up.
type Packet struct {
	ID   string
	data []byte
}

// NewPacket copies payload into a new packet with a fresh id.
func NewPacket(payload []byte) *Packet {
	data := make([]byte, len(payload))
	copy(data, payload)
	return &Packet{ID: xid.New().String(), data: data}
}

// AddHeader prepends header.
func (p *Packet) AddHeader(header []byte) {
	data := make([]byte, 0, len(header)+len(p.data))
	data = append(data, header...)
	p.data = append(data, p.data...)
}

// DeleteHeader removes the first n bytes.
func (p *Packet) DeleteHeader(n int) error {
	if n < 0 || n > len(p.data) {
		return fmt.Errorf("%w: remove %d of %d bytes", ErrHeaderTooLong, n, len(p.data))
	}
	p.data = p.data[n:]
	return nil
}

// Bytes returns the current contents. The slice aliases the packet.
func (p *Packet) Bytes() []byte {
	return p.data
}

// LengthBytes returns the current packet length including headers.
func (p *Packet) LengthBytes() int {
	return len(p.data)
}

// Clone returns a deep copy that keeps the same id, used when a frame is
// delivered to several receivers.
func (p *Packet) Clone() *Packet {
	data := make([]byte, len(p.data))
	copy(data, p.data)
	return &Packet{ID: p.ID, data: data}
}
