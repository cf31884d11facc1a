package header

import (
	"encoding/binary"

	"github.com/xuanhao44/net-lab-2023/internal/core"
)

const (
	// ARPLen is the length of an Ethernet/IPv4 ARP packet.
	ARPLen = 28

	ARPHardwareEthernet uint16 = 1

	ARPRequest uint16 = 1
	ARPReply   uint16 = 2
)

// ARP is an Ethernet/IPv4 address resolution packet.
type ARP struct {
	HardwareType uint16
	ProtocolType core.EtherType
	HardwareLen  uint8
	ProtocolLen  uint8
	Opcode       uint16
	SenderMAC    core.HardwareAddr
	SenderIP     core.IPv4
	TargetMAC    core.HardwareAddr
	TargetIP     core.IPv4
}

// NewARP returns an Ethernet/IPv4 ARP packet with the fixed fields filled in.
func NewARP(op uint16) ARP {
	return ARP{
		HardwareType: ARPHardwareEthernet,
		ProtocolType: core.EtherTypeIPv4,
		HardwareLen:  6,
		ProtocolLen:  4,
		Opcode:       op,
	}
}

// DecodeARP decodes an ARP packet. Field values are not validated.
func DecodeARP(data []byte) (ARP, error) {
	if len(data) < ARPLen {
		return ARP{}, core.ErrPacketTooShort
	}

	a := ARP{}

	// Hardware type (2 bytes at offset 0), protocol type (2 bytes at offset 2)
	a.HardwareType = binary.BigEndian.Uint16(data[0:2])
	a.ProtocolType = core.EtherType(binary.BigEndian.Uint16(data[2:4]))

	// Address lengths (1 byte each at offsets 4 and 5)
	a.HardwareLen = data[4]
	a.ProtocolLen = data[5]

	// Opcode (2 bytes at offset 6)
	a.Opcode = binary.BigEndian.Uint16(data[6:8])

	// Sender MAC/IP (offsets 8 and 14), target MAC/IP (offsets 18 and 24)
	copy(a.SenderMAC[:], data[8:14])
	copy(a.SenderIP[:], data[14:18])
	copy(a.TargetMAC[:], data[18:24])
	copy(a.TargetIP[:], data[24:28])

	return a, nil
}

// Valid reports whether a is a well-formed Ethernet/IPv4 request or reply.
func (a ARP) Valid() bool {
	return a.HardwareType == ARPHardwareEthernet &&
		a.ProtocolType == core.EtherTypeIPv4 &&
		a.HardwareLen == 6 &&
		a.ProtocolLen == 4 &&
		(a.Opcode == ARPRequest || a.Opcode == ARPReply)
}

// Encode writes the packet into b[:ARPLen].
func (a ARP) Encode(b []byte) {
	_ = b[ARPLen-1]
	binary.BigEndian.PutUint16(b[0:2], a.HardwareType)
	binary.BigEndian.PutUint16(b[2:4], uint16(a.ProtocolType))
	b[4] = a.HardwareLen
	b[5] = a.ProtocolLen
	binary.BigEndian.PutUint16(b[6:8], a.Opcode)
	copy(b[8:14], a.SenderMAC[:])
	copy(b[14:18], a.SenderIP[:])
	copy(b[18:24], a.TargetMAC[:])
	copy(b[24:28], a.TargetIP[:])
}
