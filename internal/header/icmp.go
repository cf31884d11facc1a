package header

import (
	"encoding/binary"

	"github.com/xuanhao44/net-lab-2023/internal/core"
)

// ICMPLen is the length of the fixed ICMP header including id and sequence.
const ICMPLen = 8

// ICMP types and destination-unreachable codes.
const (
	ICMPEchoReply   uint8 = 0
	ICMPUnreachable uint8 = 3
	ICMPEchoRequest uint8 = 8

	ICMPCodeProtocolUnreachable uint8 = 2
	ICMPCodePortUnreachable     uint8 = 3
)

// ICMP is the 8-byte ICMP header.
type ICMP struct {
	Type     uint8
	Code     uint8
	Checksum uint16
	ID       uint16
	Seq      uint16
}

// DecodeICMP decodes an ICMP header and returns the message body.
func DecodeICMP(data []byte) (ICMP, []byte, error) {
	if len(data) < ICMPLen {
		return ICMP{}, nil, core.ErrPacketTooShort
	}
	return ICMP{
		Type:     data[0],
		Code:     data[1],
		Checksum: binary.BigEndian.Uint16(data[2:4]),
		ID:       binary.BigEndian.Uint16(data[4:6]),
		Seq:      binary.BigEndian.Uint16(data[6:8]),
	}, data[ICMPLen:], nil
}

// Encode writes the header into b[:ICMPLen] with a zero checksum. Use
// SetICMPChecksum once the body is in place.
func (h ICMP) Encode(b []byte) {
	_ = b[ICMPLen-1]
	b[0] = h.Type
	b[1] = h.Code
	b[2], b[3] = 0, 0
	binary.BigEndian.PutUint16(b[4:6], h.ID)
	binary.BigEndian.PutUint16(b[6:8], h.Seq)
}

// SetICMPChecksum computes the checksum over the whole message in msg and
// stores it.
func SetICMPChecksum(msg []byte) {
	msg[2], msg[3] = 0, 0
	binary.BigEndian.PutUint16(msg[2:4], Checksum(msg))
}
