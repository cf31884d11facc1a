package header

import (
	"encoding/binary"
	"strings"

	"github.com/xuanhao44/net-lab-2023/internal/core"
)

// TCPMinLen is the length of a TCP header without options.
const TCPMinLen = 20

// TCPFlags is the TCP control bit field.
type TCPFlags uint8

// TCP control bits.
const (
	TCPFin TCPFlags = 1 << iota
	TCPSyn
	TCPRst
	TCPPsh
	TCPAck
	TCPUrg
)

// Has reports whether every bit in mask is set.
func (f TCPFlags) Has(mask TCPFlags) bool { return f&mask == mask }

func (f TCPFlags) String() string {
	if f == 0 {
		return "none"
	}
	names := []struct {
		bit  TCPFlags
		name string
	}{
		{TCPSyn, "SYN"}, {TCPFin, "FIN"}, {TCPRst, "RST"},
		{TCPPsh, "PSH"}, {TCPAck, "ACK"}, {TCPUrg, "URG"},
	}
	var parts []string
	for _, n := range names {
		if f&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// TCP is a TCP header. Options are skipped on decode and never emitted.
type TCP struct {
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	Ack        uint32
	DataOffset uint8 // header length in 32-bit words
	Flags      TCPFlags
	Window     uint16
	Checksum   uint16
	Urgent     uint16
}

// DecodeTCP decodes a TCP header and returns the segment payload.
func DecodeTCP(data []byte) (TCP, []byte, error) {
	if len(data) < TCPMinLen {
		return TCP{}, nil, core.ErrPacketTooShort
	}

	t := TCP{}

	// Source Port (2 bytes at offset 0)
	t.SrcPort = binary.BigEndian.Uint16(data[0:2])

	// Destination Port (2 bytes at offset 2)
	t.DstPort = binary.BigEndian.Uint16(data[2:4])

	// Sequence Number (4 bytes at offset 4)
	t.Seq = binary.BigEndian.Uint32(data[4:8])

	// Acknowledgment Number (4 bytes at offset 8)
	t.Ack = binary.BigEndian.Uint32(data[8:12])

	// Data Offset (4 bits at offset 12, upper 4 bits)
	t.DataOffset = data[12] >> 4
	hdrLen := int(t.DataOffset) * 4
	if hdrLen < TCPMinLen {
		return TCP{}, nil, core.ErrMalformedHeader
	}
	if len(data) < hdrLen {
		return TCP{}, nil, core.ErrPacketTooShort
	}

	// Flags (low 6 bits at offset 13)
	t.Flags = TCPFlags(data[13] & 0x3f)

	// Window, Checksum, Urgent pointer (2 bytes each)
	t.Window = binary.BigEndian.Uint16(data[14:16])
	t.Checksum = binary.BigEndian.Uint16(data[16:18])
	t.Urgent = binary.BigEndian.Uint16(data[18:20])

	return t, data[hdrLen:], nil
}

// Encode writes a 20-byte header into b with a zero checksum.
func (h TCP) Encode(b []byte) {
	_ = b[TCPMinLen-1]
	binary.BigEndian.PutUint16(b[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], h.DstPort)
	binary.BigEndian.PutUint32(b[4:8], h.Seq)
	binary.BigEndian.PutUint32(b[8:12], h.Ack)
	b[12] = (TCPMinLen / 4) << 4
	b[13] = uint8(h.Flags)
	binary.BigEndian.PutUint16(b[14:16], h.Window)
	b[16], b[17] = 0, 0
	binary.BigEndian.PutUint16(b[18:20], h.Urgent)
}

// SetTCPChecksum computes the checksum of the segment in seg and stores it.
func SetTCPChecksum(src, dst core.IPv4, seg []byte) {
	seg[16], seg[17] = 0, 0
	binary.BigEndian.PutUint16(seg[16:18], TransportChecksum(src, dst, core.ProtocolTCP, seg))
}
