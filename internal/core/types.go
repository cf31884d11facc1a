// Package core defines core types with zero external dependencies.
package core

import (
	"fmt"
	"net"
	"net/netip"
)

// HardwareAddr is a 6-byte Ethernet MAC address.
type HardwareAddr [6]byte

// BroadcastHardwareAddr is the Ethernet broadcast address.
var BroadcastHardwareAddr = HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseHardwareAddr parses a 6-byte MAC in any notation accepted by net.ParseMAC.
func ParseHardwareAddr(s string) (HardwareAddr, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return HardwareAddr{}, err
	}
	if len(hw) != 6 {
		return HardwareAddr{}, fmt.Errorf("%w: %q is not a 6-byte MAC address", ErrConfigInvalid, s)
	}
	var mac HardwareAddr
	copy(mac[:], hw)
	return mac, nil
}

func (m HardwareAddr) String() string {
	return net.HardwareAddr(m[:]).String()
}

// IsZero reports whether m is 00:00:00:00:00:00.
func (m HardwareAddr) IsZero() bool {
	return m == HardwareAddr{}
}

// IPv4 is a 4-byte IPv4 address in network byte order.
type IPv4 [4]byte

// ParseIPv4 parses a dotted-quad IPv4 address.
func ParseIPv4(s string) (IPv4, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return IPv4{}, err
	}
	if !addr.Is4() {
		return IPv4{}, fmt.Errorf("%w: %q is not an IPv4 address", ErrConfigInvalid, s)
	}
	return IPv4(addr.As4()), nil
}

// Addr converts ip to a netip.Addr.
func (ip IPv4) Addr() netip.Addr {
	return netip.AddrFrom4(ip)
}

func (ip IPv4) String() string {
	return ip.Addr().String()
}

// EtherType is the 16-bit protocol type carried in an Ethernet header.
type EtherType uint16

// EtherTypes handled by the stack.
const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
)

func (e EtherType) String() string {
	switch e {
	case EtherTypeIPv4:
		return "ipv4"
	case EtherTypeARP:
		return "arp"
	}
	return fmt.Sprintf("ethertype(0x%04x)", uint16(e))
}

// IPProtocol is the IPv4 protocol field.
type IPProtocol uint8

// Transport protocols handled by the stack.
const (
	ProtocolICMP IPProtocol = 1
	ProtocolTCP  IPProtocol = 6
	ProtocolUDP  IPProtocol = 17
)

func (p IPProtocol) String() string {
	switch p {
	case ProtocolICMP:
		return "icmp"
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	}
	return fmt.Sprintf("protocol(%d)", uint8(p))
}
