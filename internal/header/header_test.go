package header

import (
	"encoding/binary"
	"math/rand"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuanhao44/net-lab-2023/internal/core"
)

func TestChecksumRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{2, 3, 20, 21, 64, 1501} {
		data := make([]byte, n)
		rng.Read(data)
		data[0], data[1] = 0, 0

		sum := Checksum(data)
		binary.BigEndian.PutUint16(data[0:2], sum)
		if got := Checksum(data); got != 0 {
			t.Errorf("len %d: checksum after insert = %#04x, want 0", n, got)
		}
	}
}

func TestChecksumKnownHeader(t *testing.T) {
	// RFC 1071 style example: IPv4 header from a capture
	hdr := []byte{
		0x45, 0x00, 0x00, 0x73, // version/ihl, tos, total length
		0x00, 0x00, 0x40, 0x00, // id, flags/offset
		0x40, 0x11, 0x00, 0x00, // ttl, protocol, checksum
		0xc0, 0xa8, 0x00, 0x01, // src
		0xc0, 0xa8, 0x00, 0xc7, // dst
	}
	assert.Equal(t, uint16(0xb861), Checksum(hdr))
}

func TestEthernetRoundTrip(t *testing.T) {
	h := Ethernet{
		Dst:  core.BroadcastHardwareAddr,
		Src:  core.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		Type: core.EtherTypeARP,
	}
	b := make([]byte, EthernetLen+2)
	h.Encode(b)
	b[14], b[15] = 0xde, 0xad

	got, payload, err := DecodeEthernet(b)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, []byte{0xde, 0xad}, payload)

	_, _, err = DecodeEthernet(b[:13])
	assert.ErrorIs(t, err, core.ErrPacketTooShort)
}

func TestARPEncodeMatchesGopacket(t *testing.T) {
	a := NewARP(ARPRequest)
	a.SenderMAC = core.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	a.SenderIP = core.IPv4{192, 168, 1, 2}
	a.TargetIP = core.IPv4{192, 168, 1, 1}
	b := make([]byte, ARPLen)
	a.Encode(b)

	pkt := gopacket.NewPacket(b, layers.LayerTypeARP, gopacket.Default)
	l, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	require.True(t, ok)
	assert.Equal(t, layers.ARPRequest, int(l.Operation))
	assert.Equal(t, layers.LinkTypeEthernet, l.AddrType)
	assert.Equal(t, layers.EthernetTypeIPv4, l.Protocol)
	assert.Equal(t, []byte(a.SenderIP[:]), l.SourceProtAddress)
	assert.Equal(t, []byte(a.TargetIP[:]), l.DstProtAddress)
	assert.Equal(t, make([]byte, 6), l.DstHwAddress)

	got, err := DecodeARP(b)
	require.NoError(t, err)
	assert.Equal(t, a, got)
	assert.True(t, got.Valid())

	got.HardwareLen = 8
	assert.False(t, got.Valid())
}

func TestDecodeIPv4FromGopacket(t *testing.T) {
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Id:       0x1234,
		Flags:    layers.IPv4MoreFragments,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip, gopacket.Payload([]byte{1, 2, 3, 4})))
	data := buf.Bytes()

	h, payload, err := DecodeIPv4(data)
	require.NoError(t, err)
	assert.Equal(t, uint8(4), h.Version)
	assert.Equal(t, 20, h.HeaderLen())
	assert.Equal(t, uint16(24), h.TotalLen)
	assert.Equal(t, uint16(0x1234), h.ID)
	assert.Equal(t, IPv4MoreFragments, h.Flags)
	assert.Equal(t, core.ProtocolUDP, h.Protocol)
	assert.Equal(t, core.IPv4{10, 0, 0, 1}, h.Src)
	assert.Equal(t, core.IPv4{10, 0, 0, 2}, h.Dst)
	assert.Equal(t, []byte{1, 2, 3, 4}, payload)
	assert.True(t, VerifyIPv4Checksum(data[:20]))

	data[8]-- // TTL change invalidates the checksum
	assert.False(t, VerifyIPv4Checksum(data[:20]))
}

func TestDecodeIPv4Malformed(t *testing.T) {
	data := make([]byte, 20)
	data[0] = 0x44 // IHL 4
	_, _, err := DecodeIPv4(data)
	assert.ErrorIs(t, err, core.ErrMalformedHeader)

	data[0] = 0x46 // IHL 6, 24 bytes claimed
	_, _, err = DecodeIPv4(data)
	assert.ErrorIs(t, err, core.ErrPacketTooShort)
}

func TestIPv4EncodeMatchesGopacket(t *testing.T) {
	h := IPv4{
		TotalLen:   40,
		ID:         7,
		Flags:      IPv4MoreFragments,
		FragOffset: 185,
		TTL:        64,
		Protocol:   core.ProtocolTCP,
		Src:        core.IPv4{192, 168, 0, 1},
		Dst:        core.IPv4{192, 168, 0, 2},
	}
	b := make([]byte, 40)
	h.Encode(b)

	pkt := gopacket.NewPacket(b, layers.LayerTypeIPv4, gopacket.Lazy)
	l, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.True(t, ok)
	assert.Equal(t, uint16(7), l.Id)
	assert.Equal(t, layers.IPv4MoreFragments, l.Flags)
	assert.Equal(t, uint16(185), l.FragOffset)
	assert.Equal(t, layers.IPProtocolTCP, l.Protocol)
	assert.Equal(t, uint16(0), Checksum(b[:20]))
}

func TestUDPChecksumMatchesGopacket(t *testing.T) {
	src, dst := core.IPv4{10, 0, 0, 1}, core.IPv4{10, 0, 0, 2}
	payload := []byte("odd")
	seg := make([]byte, UDPLen+len(payload))
	UDP{SrcPort: 5000, DstPort: 60000, Length: uint16(len(seg))}.Encode(seg)
	copy(seg[UDPLen:], payload)
	SetUDPChecksum(src, dst, seg)

	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IP(src[:]), DstIP: net.IP(dst[:])}
	udp := &layers.UDP{SrcPort: 5000, DstPort: 60000}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, udp, gopacket.Payload(payload)))

	assert.Equal(t, buf.Bytes(), seg)
	assert.Equal(t, uint16(0), TransportChecksum(src, dst, core.ProtocolUDP, seg))

	h, body, err := DecodeUDP(seg)
	require.NoError(t, err)
	assert.Equal(t, uint16(11), h.Length)
	assert.Equal(t, payload, body)
}

func TestTCPRoundTrip(t *testing.T) {
	src, dst := core.IPv4{10, 0, 0, 1}, core.IPv4{10, 0, 0, 2}
	h := TCP{
		SrcPort: 80,
		DstPort: 40000,
		Seq:     191810,
		Ack:     1001,
		Flags:   TCPSyn | TCPAck,
		Window:  65535,
	}
	seg := make([]byte, TCPMinLen)
	h.Encode(seg)
	SetTCPChecksum(src, dst, seg)
	assert.Equal(t, uint16(0), TransportChecksum(src, dst, core.ProtocolTCP, seg))

	pkt := gopacket.NewPacket(seg, layers.LayerTypeTCP, gopacket.Default)
	l, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
	require.True(t, ok)
	assert.True(t, l.SYN)
	assert.True(t, l.ACK)
	assert.False(t, l.FIN)
	assert.Equal(t, uint32(1001), l.Ack)

	got, payload, err := DecodeTCP(seg)
	require.NoError(t, err)
	assert.Empty(t, payload)
	assert.Equal(t, uint8(5), got.DataOffset)
	assert.Equal(t, h.Flags, got.Flags)
	assert.Equal(t, "SYN|ACK", got.Flags.String())
	assert.True(t, got.Flags.Has(TCPSyn))
	assert.False(t, got.Flags.Has(TCPSyn|TCPFin))
}

func TestICMPDecode(t *testing.T) {
	msg := []byte{
		0x08, 0x00, // echo request, code 0
		0x00, 0x00, // checksum
		0x00, 0x01, // id
		0x00, 0x02, // seq
		'p', 'i', 'n', 'g',
	}
	SetICMPChecksum(msg)
	assert.Equal(t, uint16(0), Checksum(msg))

	h, body, err := DecodeICMP(msg)
	require.NoError(t, err)
	assert.Equal(t, ICMPEchoRequest, h.Type)
	assert.Equal(t, uint16(1), h.ID)
	assert.Equal(t, uint16(2), h.Seq)
	assert.Equal(t, []byte("ping"), body)

	_, _, err = DecodeICMP(msg[:7])
	assert.ErrorIs(t, err, core.ErrPacketTooShort)
}
