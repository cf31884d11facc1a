package header

import (
	"encoding/binary"

	"github.com/xuanhao44/net-lab-2023/internal/core"
)

// UDPLen is the UDP header length.
const UDPLen = 8

// UDP is a UDP header.
type UDP struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16 // header + payload
	Checksum uint16
}

// DecodeUDP decodes a UDP header and returns the bytes following it.
func DecodeUDP(data []byte) (UDP, []byte, error) {
	if len(data) < UDPLen {
		return UDP{}, nil, core.ErrPacketTooShort
	}

	u := UDP{}

	// Source Port (2 bytes at offset 0)
	u.SrcPort = binary.BigEndian.Uint16(data[0:2])

	// Destination Port (2 bytes at offset 2)
	u.DstPort = binary.BigEndian.Uint16(data[2:4])

	// Length (2 bytes at offset 4) - includes header and data
	u.Length = binary.BigEndian.Uint16(data[4:6])

	// Checksum (2 bytes at offset 6), zero when unused
	u.Checksum = binary.BigEndian.Uint16(data[6:8])

	return u, data[UDPLen:], nil
}

// Encode writes the header into b[:UDPLen] with a zero checksum.
func (h UDP) Encode(b []byte) {
	_ = b[UDPLen-1]
	binary.BigEndian.PutUint16(b[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], h.DstPort)
	binary.BigEndian.PutUint16(b[4:6], h.Length)
	b[6], b[7] = 0, 0
}

// SetUDPChecksum computes the checksum of the datagram in seg and stores it.
// A computed value of zero is sent as 0xffff.
func SetUDPChecksum(src, dst core.IPv4, seg []byte) {
	seg[6], seg[7] = 0, 0
	sum := TransportChecksum(src, dst, core.ProtocolUDP, seg)
	if sum == 0 {
		sum = 0xffff
	}
	binary.BigEndian.PutUint16(seg[6:8], sum)
}
