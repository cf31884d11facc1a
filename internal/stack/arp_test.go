package stack

import (
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuanhao44/net-lab-2023/internal/core"
)

func arpOf(t *testing.T, h *harness) *layers.ARP {
	t.Helper()
	pkt := h.sentOne()
	a, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	require.True(t, ok, "expected an ARP frame, got %v", pkt)
	return a
}

func TestGratuitousARPOnStart(t *testing.T) {
	h := newHarness(t, Config{})

	pkt := h.sentOne()
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	assert.Equal(t, hw(core.BroadcastHardwareAddr), eth.DstMAC)
	assert.Len(t, pkt.Data(), 60)

	a := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	assert.Equal(t, uint16(layers.ARPRequest), a.Operation)
	assert.Equal(t, []byte(netIP(localIP)), a.SourceProtAddress)
	assert.Equal(t, []byte(netIP(localIP)), a.DstProtAddress)
	assert.Equal(t, []byte(hw(localMAC)), a.SourceHwAddress)
}

func TestARPRequestForUsIsAnswered(t *testing.T) {
	h := newHarness(t, Config{})
	h.drv.Drain()

	h.inject(arpLayers(layers.ARPRequest, peerMAC, peerIP, core.HardwareAddr{}, localIP)...)

	a := arpOf(t, h)
	assert.Equal(t, uint16(layers.ARPReply), a.Operation)
	assert.Equal(t, []byte(hw(localMAC)), a.SourceHwAddress)
	assert.Equal(t, []byte(netIP(localIP)), a.SourceProtAddress)
	assert.Equal(t, []byte(hw(peerMAC)), a.DstHwAddress)
	assert.Equal(t, []byte(netIP(peerIP)), a.DstProtAddress)

	mac, ok := h.s.Resolve(peerIP)
	require.True(t, ok)
	assert.Equal(t, peerMAC, mac)
}

func TestARPRequestForOtherHostOnlyLearns(t *testing.T) {
	h := newHarness(t, Config{})
	h.drv.Drain()

	h.inject(arpLayers(layers.ARPRequest, peerMAC, peerIP, core.HardwareAddr{}, core.IPv4{192, 168, 163, 1})...)

	assert.Empty(t, h.sent())
	_, ok := h.s.Resolve(peerIP)
	assert.True(t, ok)
}

func TestARPMalformedDropped(t *testing.T) {
	h := newHarness(t, Config{})
	h.drv.Drain()

	ls := arpLayers(layers.ARPRequest, peerMAC, peerIP, core.HardwareAddr{}, localIP)
	ls[1].(*layers.ARP).Protocol = layers.EthernetTypeIPv6
	h.inject(ls...)

	assert.Empty(t, h.sent())
	_, ok := h.s.Resolve(peerIP)
	assert.False(t, ok)
}

func TestARPPendingQueue(t *testing.T) {
	h := newHarness(t, Config{})
	h.drv.Drain()

	require.NoError(t, h.s.SendUDP([]byte("first"), 60000, peerIP, 7))
	a := arpOf(t, h)
	assert.Equal(t, uint16(layers.ARPRequest), a.Operation)
	assert.Equal(t, []byte(netIP(peerIP)), a.DstProtAddress)

	// a second datagram while the request is outstanding is dropped
	// without another request
	require.NoError(t, h.s.SendUDP([]byte("second"), 60000, peerIP, 7))
	assert.Empty(t, h.sent())

	h.inject(arpLayers(layers.ARPReply, peerMAC, peerIP, localMAC, localIP)...)

	pkt := h.sentOne()
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	assert.Equal(t, hw(peerMAC), eth.DstMAC)
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	require.True(t, ok)
	assert.Equal(t, []byte("first"), udp.Payload)

	// resolved: further datagrams go out directly
	require.NoError(t, h.s.SendUDP([]byte("third"), 60000, peerIP, 7))
	pkt = h.sentOne()
	udp = pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	assert.Equal(t, []byte("third"), udp.Payload)
}

func TestARPPendingRequestRepeatedAfterInterval(t *testing.T) {
	h := newHarness(t, Config{})
	h.drv.Drain()

	require.NoError(t, h.s.SendUDP([]byte("a"), 60000, peerIP, 7))
	arpOf(t, h)

	h.clock.Advance(500 * time.Millisecond)
	require.NoError(t, h.s.SendUDP([]byte("b"), 60000, peerIP, 7))
	assert.Empty(t, h.sent())

	h.clock.Advance(time.Second)
	require.NoError(t, h.s.SendUDP([]byte("c"), 60000, peerIP, 7))
	a := arpOf(t, h)
	assert.Equal(t, []byte(netIP(peerIP)), a.DstProtAddress)

	h.inject(arpLayers(layers.ARPReply, peerMAC, peerIP, localMAC, localIP)...)
	udp := h.sentOne().Layer(layers.LayerTypeUDP).(*layers.UDP)
	assert.Equal(t, []byte("c"), udp.Payload)
}

func TestARPCacheExpiry(t *testing.T) {
	h := newReadyHarness(t)

	h.clock.Advance(DefaultARPTimeout - time.Second)
	_, ok := h.s.Resolve(peerIP)
	assert.True(t, ok)

	h.clock.Advance(2 * time.Second)
	_, ok = h.s.Resolve(peerIP)
	assert.False(t, ok)

	require.NoError(t, h.s.SendUDP([]byte("x"), 60000, peerIP, 7))
	a := arpOf(t, h)
	assert.Equal(t, uint16(layers.ARPRequest), a.Operation)
}

func TestARPEntries(t *testing.T) {
	h := newReadyHarness(t)

	var seen []core.IPv4
	h.s.ARPEntries(func(ip core.IPv4, mac core.HardwareAddr, _ time.Time) bool {
		seen = append(seen, ip)
		assert.Equal(t, peerMAC, mac)
		return true
	})
	assert.Equal(t, []core.IPv4{peerIP}, seen)
}
