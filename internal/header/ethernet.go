// Package header encodes and decodes fixed-layout protocol headers.
//
// Decoders copy every field out of the input slice; no returned value
// aliases the buffer it was decoded from.
package header

import (
	"encoding/binary"

	"github.com/xuanhao44/net-lab-2023/internal/core"
)

const (
	// EthernetLen is the Ethernet II header length.
	EthernetLen = 14
	// EthernetMinPayload is the smallest payload carried without padding.
	EthernetMinPayload = 46
)

// Ethernet is an Ethernet II header.
type Ethernet struct {
	Dst  core.HardwareAddr
	Src  core.HardwareAddr
	Type core.EtherType
}

// DecodeEthernet decodes an Ethernet header and returns the remaining payload.
func DecodeEthernet(data []byte) (Ethernet, []byte, error) {
	if len(data) < EthernetLen {
		return Ethernet{}, nil, core.ErrPacketTooShort
	}

	eth := Ethernet{}

	// Destination MAC (6 bytes)
	copy(eth.Dst[:], data[0:6])

	// Source MAC (6 bytes)
	copy(eth.Src[:], data[6:12])

	// EtherType (2 bytes)
	eth.Type = core.EtherType(binary.BigEndian.Uint16(data[12:14]))

	return eth, data[EthernetLen:], nil
}

// Encode writes the header into b[:EthernetLen].
func (h Ethernet) Encode(b []byte) {
	_ = b[EthernetLen-1]
	copy(b[0:6], h.Dst[:])
	copy(b[6:12], h.Src[:])
	binary.BigEndian.PutUint16(b[12:14], uint16(h.Type))
}
