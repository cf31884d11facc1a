package stack

import (
	"strconv"

	"github.com/xuanhao44/net-lab-2023/internal/buffer"
	"github.com/xuanhao44/net-lab-2023/internal/core"
	"github.com/xuanhao44/net-lab-2023/internal/header"
	"github.com/xuanhao44/net-lab-2023/internal/metrics"
)

type icmp struct {
	s *Stack
}

func (c *icmp) receive(buf *buffer.Buffer, src core.IPv4) {
	msg := buf.Bytes()
	hdr, _, err := header.DecodeICMP(msg)
	if err != nil {
		c.s.drop("icmp", "short")
		return
	}
	if header.Checksum(msg) != 0 {
		c.s.drop("icmp", "checksum")
		return
	}
	metrics.PacketsTotal.WithLabelValues("icmp", metrics.DirectionRx).Inc()

	if hdr.Type != header.ICMPEchoRequest {
		return
	}
	reply := c.s.newTxBuffer(len(msg))
	out := reply.Bytes()
	copy(out, msg)
	out[0] = header.ICMPEchoReply
	header.SetICMPChecksum(out)
	if err := c.s.ip.send(reply, src, core.ProtocolICMP); err != nil {
		c.s.log.WithError(err).Debug("echo reply not sent")
		return
	}
	metrics.PacketsTotal.WithLabelValues("icmp", metrics.DirectionTx).Inc()
}

// unreachable reports datagram, which starts with its IPv4 header, back to
// dst as undeliverable. The message quotes the header and the first 8
// payload bytes.
func (c *icmp) unreachable(datagram []byte, dst core.IPv4, code uint8) {
	if len(datagram) < header.IPv4MinLen {
		return
	}
	quoted := min(len(datagram), int(datagram[0]&0x0f)*4+8)

	msg := c.s.newTxBuffer(header.ICMPLen + quoted)
	out := msg.Bytes()
	header.ICMP{Type: header.ICMPUnreachable, Code: code}.Encode(out)
	copy(out[header.ICMPLen:], datagram[:quoted])
	header.SetICMPChecksum(out)

	if err := c.s.ip.send(msg, dst, core.ProtocolICMP); err != nil {
		c.s.log.WithError(err).Debug("icmp unreachable not sent")
		return
	}
	metrics.ICMPErrorsTotal.WithLabelValues(strconv.Itoa(int(code))).Inc()
	metrics.PacketsTotal.WithLabelValues("icmp", metrics.DirectionTx).Inc()
}
