package stack

import (
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuanhao44/net-lab-2023/internal/header"
)

func TestEchoReply(t *testing.T) {
	h := newReadyHarness(t)

	h.inject(echoRequest(0x4242, 7, []byte("abcdefghijklmnopqrstuvwabcdefghi"))...)

	pkt := h.sentOne()
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	assert.Equal(t, hw(peerMAC), eth.DstMAC)
	ip4 := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	assert.Equal(t, netIP(localIP).To4(), ip4.SrcIP.To4())
	assert.Equal(t, netIP(peerIP).To4(), ip4.DstIP.To4())
	assert.Equal(t, layers.IPProtocolICMPv4, ip4.Protocol)

	icmp4, ok := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	require.True(t, ok)
	assert.Equal(t, layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoReply, 0), icmp4.TypeCode)
	assert.Equal(t, uint16(0x4242), icmp4.Id)
	assert.Equal(t, uint16(7), icmp4.Seq)
	assert.Equal(t, []byte("abcdefghijklmnopqrstuvwabcdefghi"), icmp4.Payload)
	assert.Zero(t, header.Checksum(ip4.Payload))
}

func TestEchoReplyLargePayload(t *testing.T) {
	h := newReadyHarness(t)

	data := make([]byte, 1400)
	for i := range data {
		data[i] = byte(i)
	}
	h.inject(echoRequest(1, 1, data)...)

	ip4 := h.sentOne().Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	assert.Len(t, ip4.Payload, 1408)
	assert.Zero(t, header.Checksum(ip4.Payload))
}

func TestEchoBadChecksumDropped(t *testing.T) {
	h := newReadyHarness(t)

	frame := h.serialize(echoRequest(1, 1, []byte("ping"))...)
	frame[header.EthernetLen+header.IPv4MinLen+header.ICMPLen] ^= 0xff
	h.injectRaw(frame)

	assert.Empty(t, h.sent())
}

func TestEchoReplyIgnored(t *testing.T) {
	h := newReadyHarness(t)

	ls := echoRequest(1, 1, []byte("pong"))
	ls[2].(*layers.ICMPv4).TypeCode = layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoReply, 0)
	h.inject(ls...)

	assert.Empty(t, h.sent())
}
