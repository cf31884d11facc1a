package stack

import (
	"fmt"

	"github.com/xuanhao44/net-lab-2023/internal/buffer"
	"github.com/xuanhao44/net-lab-2023/internal/core"
	"github.com/xuanhao44/net-lab-2023/internal/header"
	"github.com/xuanhao44/net-lab-2023/internal/metrics"
)

// netHandler consumes an IPv4 payload for one protocol.
type netHandler interface {
	receive(buf *buffer.Buffer, src core.IPv4)
}

// ipv4 validates inbound datagrams and fragments outbound ones. Received
// fragments are passed up individually; there is no reassembly.
type ipv4 struct {
	s        *Stack
	handlers map[core.IPProtocol]netHandler
	nextID   uint16
	// raw header of the datagram being delivered, for ICMP errors raised
	// by upper layers
	lastHeader []byte
}

func newIPv4(s *Stack) *ipv4 {
	return &ipv4{s: s, handlers: make(map[core.IPProtocol]netHandler)}
}

func (ip *ipv4) register(p core.IPProtocol, h netHandler) {
	ip.handlers[p] = h
}

// maxFragment is the largest payload carried in one datagram, rounded down
// to the 8-byte fragment offset unit.
func (ip *ipv4) maxFragment() int {
	return (ip.s.cfg.MTU - header.IPv4MinLen) &^ 7
}

func (ip *ipv4) receive(buf *buffer.Buffer, _ core.HardwareAddr) {
	data := buf.Bytes()
	hdr, _, err := header.DecodeIPv4(data)
	if err != nil {
		ip.s.drop("ipv4", "short")
		return
	}
	hdrLen := hdr.HeaderLen()
	switch {
	case hdr.Version != 4:
		ip.s.drop("ipv4", "version")
		return
	case int(hdr.TotalLen) > len(data) || int(hdr.TotalLen) < hdrLen:
		ip.s.drop("ipv4", "length")
		return
	case hdr.Dst != ip.s.cfg.IP:
		ip.s.drop("ipv4", "not_local")
		return
	case !header.VerifyIPv4Checksum(data[:hdrLen]):
		ip.s.drop("ipv4", "checksum")
		return
	}

	// strip Ethernet padding
	if err := buf.Truncate(int(hdr.TotalLen)); err != nil {
		ip.s.drop("ipv4", "length")
		return
	}
	metrics.PacketsTotal.WithLabelValues("ipv4", metrics.DirectionRx).Inc()

	h, ok := ip.handlers[hdr.Protocol]
	if !ok {
		ip.s.drop("ipv4", "unknown_protocol")
		ip.s.icmp.unreachable(buf.Bytes(), hdr.Src, header.ICMPCodeProtocolUnreachable)
		return
	}

	ip.lastHeader = append(ip.lastHeader[:0], data[:hdrLen]...)
	if err := buf.RemoveHeader(hdrLen); err != nil {
		ip.s.drop("ipv4", "short")
		return
	}
	h.receive(buf, hdr.Src)
}

// send transmits the payload in buf to dst, splitting it into fragments of
// at most maxFragment bytes. All fragments share one identifier.
func (ip *ipv4) send(buf *buffer.Buffer, dst core.IPv4, proto core.IPProtocol) error {
	if buf.Len() > 65535-header.IPv4MinLen {
		return fmt.Errorf("%w: datagram payload %d", core.ErrBufferOverflow, buf.Len())
	}
	id := ip.nextID
	ip.nextID++

	limit := ip.maxFragment()
	if buf.Len() <= limit {
		return ip.sendFragment(buf, dst, proto, id, 0, false)
	}

	data := buf.Bytes()
	for off := 0; off < len(data); off += limit {
		end := min(off+limit, len(data))
		frag := ip.s.newTxBuffer(end - off)
		copy(frag.Bytes(), data[off:end])
		if err := ip.sendFragment(frag, dst, proto, id, off, end < len(data)); err != nil {
			return err
		}
	}
	return nil
}

func (ip *ipv4) sendFragment(buf *buffer.Buffer, dst core.IPv4, proto core.IPProtocol, id uint16, offset int, more bool) error {
	if err := buf.AddHeader(header.IPv4MinLen); err != nil {
		return err
	}
	hdr := header.IPv4{
		TotalLen:   uint16(buf.Len()),
		ID:         id,
		FragOffset: uint16(offset / 8),
		TTL:        ip.s.cfg.TTL,
		Protocol:   proto,
		Src:        ip.s.cfg.IP,
		Dst:        dst,
	}
	if more {
		hdr.Flags = header.IPv4MoreFragments
	}
	hdr.Encode(buf.Bytes())
	metrics.PacketsTotal.WithLabelValues("ipv4", metrics.DirectionTx).Inc()
	return ip.s.arp.send(buf, dst)
}
