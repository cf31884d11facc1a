package header

import (
	"encoding/binary"

	"github.com/xuanhao44/net-lab-2023/internal/core"
)

const (
	// IPv4MinLen is the length of an IPv4 header without options.
	IPv4MinLen = 20

	// IPv4 flags, in the top three bits of the flags/offset word.
	IPv4DontFragment  uint16 = 0x4000
	IPv4MoreFragments uint16 = 0x2000
	ipv4OffsetMask    uint16 = 0x1fff
)

// IPv4 is an IPv4 header. Options, if present, are skipped on decode and
// never emitted on encode.
type IPv4 struct {
	Version    uint8
	IHL        uint8 // header length in 32-bit words
	TOS        uint8
	TotalLen   uint16
	ID         uint16
	Flags      uint16 // IPv4DontFragment | IPv4MoreFragments
	FragOffset uint16 // in 8-byte units
	TTL        uint8
	Protocol   core.IPProtocol
	Checksum   uint16
	Src        core.IPv4
	Dst        core.IPv4
}

// HeaderLen returns the header length in bytes.
func (h IPv4) HeaderLen() int { return int(h.IHL) * 4 }

// DecodeIPv4 decodes an IPv4 header and returns the bytes following it.
// Only structural checks are made here; the caller decides what to accept.
func DecodeIPv4(data []byte) (IPv4, []byte, error) {
	if len(data) < IPv4MinLen {
		return IPv4{}, nil, core.ErrPacketTooShort
	}

	ip := IPv4{}

	// Version (4 bits) + IHL (4 bits)
	ip.Version = data[0] >> 4
	ip.IHL = data[0] & 0x0f
	hdrLen := ip.HeaderLen()
	if hdrLen < IPv4MinLen {
		return IPv4{}, nil, core.ErrMalformedHeader
	}
	if len(data) < hdrLen {
		return IPv4{}, nil, core.ErrPacketTooShort
	}

	// Type of service (1 byte)
	ip.TOS = data[1]

	// Total Length (2 bytes)
	ip.TotalLen = binary.BigEndian.Uint16(data[2:4])

	// Identification (2 bytes)
	ip.ID = binary.BigEndian.Uint16(data[4:6])

	// Flags (3 bits) + Fragment Offset (13 bits)
	flagsOffset := binary.BigEndian.Uint16(data[6:8])
	ip.Flags = flagsOffset &^ ipv4OffsetMask
	ip.FragOffset = flagsOffset & ipv4OffsetMask

	// TTL (1 byte), Protocol (1 byte), Checksum (2 bytes)
	ip.TTL = data[8]
	ip.Protocol = core.IPProtocol(data[9])
	ip.Checksum = binary.BigEndian.Uint16(data[10:12])

	// Source and destination addresses (4 bytes each)
	copy(ip.Src[:], data[12:16])
	copy(ip.Dst[:], data[16:20])

	return ip, data[hdrLen:], nil
}

// Encode writes a 20-byte header into b and fills in its checksum.
func (h IPv4) Encode(b []byte) {
	_ = b[IPv4MinLen-1]
	b[0] = 4<<4 | 5
	b[1] = h.TOS
	binary.BigEndian.PutUint16(b[2:4], h.TotalLen)
	binary.BigEndian.PutUint16(b[4:6], h.ID)
	binary.BigEndian.PutUint16(b[6:8], h.Flags&^ipv4OffsetMask|h.FragOffset&ipv4OffsetMask)
	b[8] = h.TTL
	b[9] = uint8(h.Protocol)
	b[10], b[11] = 0, 0
	copy(b[12:16], h.Src[:])
	copy(b[16:20], h.Dst[:])
	binary.BigEndian.PutUint16(b[10:12], Checksum(b[:IPv4MinLen]))
}

// VerifyIPv4Checksum reports whether the header checksum in hdr is correct.
// hdr must hold exactly the declared header length.
func VerifyIPv4Checksum(hdr []byte) bool {
	return Checksum(hdr) == 0
}
