package stack

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuanhao44/net-lab-2023/internal/core"
	"github.com/xuanhao44/net-lab-2023/internal/header"
	"github.com/xuanhao44/net-lab-2023/internal/metrics"
)

type datagram struct {
	payload []byte
	src     core.IPv4
	srcPort uint16
}

func udpToUs(srcPort, dstPort uint16, data []byte) []gopacket.SerializableLayer {
	ip4 := ipFromPeer(layers.IPProtocolUDP)
	u := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	_ = u.SetNetworkLayerForChecksum(ip4)
	return []gopacket.SerializableLayer{ethFromPeer(layers.EthernetTypeIPv4), ip4, u, gopacket.Payload(data)}
}

func openRecorder(t *testing.T, h *harness, port uint16) *[]datagram {
	t.Helper()
	var got []datagram
	require.NoError(t, h.s.OpenUDP(port, func(payload []byte, src core.IPv4, srcPort uint16) {
		got = append(got, datagram{append([]byte(nil), payload...), src, srcPort})
	}))
	return &got
}

func TestUDPDelivery(t *testing.T) {
	h := newReadyHarness(t)
	got := openRecorder(t, h, 60000)

	h.inject(udpToUs(40000, 60000, []byte("hello"))...)

	require.Len(t, *got, 1)
	assert.Equal(t, datagram{[]byte("hello"), peerIP, 40000}, (*got)[0])
	assert.Empty(t, h.sent())
}

func TestUDPZeroChecksumAccepted(t *testing.T) {
	h := newReadyHarness(t)
	got := openRecorder(t, h, 60000)

	frame := h.serialize(udpToUs(40000, 60000, []byte("no checksum"))...)
	off := header.EthernetLen + header.IPv4MinLen + 6
	frame[off], frame[off+1] = 0, 0
	h.injectRaw(frame)

	require.Len(t, *got, 1)
	assert.Equal(t, []byte("no checksum"), (*got)[0].payload)
}

func TestUDPBadChecksumDropped(t *testing.T) {
	h := newReadyHarness(t)
	got := openRecorder(t, h, 60000)
	drops := metrics.DropsTotal.WithLabelValues("udp", "checksum")
	before := testutil.ToFloat64(drops)

	frame := h.serialize(udpToUs(40000, 60000, []byte("corrupt"))...)
	frame[header.EthernetLen+header.IPv4MinLen+header.UDPLen] ^= 0xff
	h.injectRaw(frame)

	assert.Equal(t, before+1, testutil.ToFloat64(drops))
	assert.Empty(t, *got)
	assert.Empty(t, h.sent())
}

func TestUDPBadLengthDropped(t *testing.T) {
	h := newReadyHarness(t)
	got := openRecorder(t, h, 60000)

	frame := h.serialize(udpToUs(40000, 60000, []byte("length"))...)
	off := header.EthernetLen + header.IPv4MinLen + 4
	frame[off], frame[off+1] = 0x01, 0x00
	h.injectRaw(frame)

	assert.Empty(t, *got)
}

func TestUDPPortUnreachable(t *testing.T) {
	h := newReadyHarness(t)

	frame := h.serialize(udpToUs(40000, 60001, []byte("anyone there?"))...)
	h.injectRaw(frame)

	pkt := h.sentOne()
	ip4 := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	assert.Equal(t, netIP(peerIP).To4(), ip4.DstIP.To4())
	icmp4, ok := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	require.True(t, ok)
	assert.Equal(t, layers.CreateICMPv4TypeCode(layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodePort), icmp4.TypeCode)

	// original IP header followed by the UDP header
	quoted := frame[header.EthernetLen : header.EthernetLen+header.IPv4MinLen+header.UDPLen]
	assert.Equal(t, quoted, icmp4.Payload)
	assert.Zero(t, header.Checksum(ip4.Payload))
}

func TestUDPSend(t *testing.T) {
	h := newReadyHarness(t)

	require.NoError(t, h.s.SendUDP([]byte("reply"), 60000, peerIP, 40000))

	pkt := h.sentOne()
	ip4 := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	u, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	require.True(t, ok)
	assert.Equal(t, layers.UDPPort(60000), u.SrcPort)
	assert.Equal(t, layers.UDPPort(40000), u.DstPort)
	assert.Equal(t, uint16(header.UDPLen+5), u.Length)
	assert.Equal(t, []byte("reply"), u.Payload)
	assert.NotZero(t, u.Checksum)
	assert.Zero(t, header.TransportChecksum(localIP, peerIP, core.ProtocolUDP, ip4.Payload))
}

func TestUDPSendTooLarge(t *testing.T) {
	h := newReadyHarness(t)
	err := h.s.SendUDP(make([]byte, 70000), 60000, peerIP, 7)
	assert.ErrorIs(t, err, core.ErrBufferOverflow)
}

func TestOpenUDPTwice(t *testing.T) {
	h := newReadyHarness(t)
	openRecorder(t, h, 60000)

	err := h.s.OpenUDP(60000, func([]byte, core.IPv4, uint16) {})
	assert.ErrorIs(t, err, core.ErrPortInUse)
}

func TestCloseUDP(t *testing.T) {
	h := newReadyHarness(t)
	got := openRecorder(t, h, 60000)
	require.NoError(t, h.s.CloseUDP(60000))
	assert.ErrorIs(t, h.s.CloseUDP(60000), core.ErrPortNotOpen)

	h.inject(udpToUs(40000, 60000, []byte("late"))...)

	assert.Empty(t, *got)
	pkt := h.sentOne()
	_, ok := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	assert.True(t, ok)
}

func TestUDPTableFull(t *testing.T) {
	h := newHarness(t, Config{TableCapacity: 2})
	noop := func([]byte, core.IPv4, uint16) {}
	require.NoError(t, h.s.OpenUDP(1, noop))
	require.NoError(t, h.s.OpenUDP(2, noop))
	assert.ErrorIs(t, h.s.OpenUDP(3, noop), core.ErrTableFull)
}
