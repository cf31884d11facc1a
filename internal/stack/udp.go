package stack

import (
	"fmt"

	"github.com/xuanhao44/net-lab-2023/internal/buffer"
	"github.com/xuanhao44/net-lab-2023/internal/core"
	"github.com/xuanhao44/net-lab-2023/internal/header"
	"github.com/xuanhao44/net-lab-2023/internal/metrics"
	"github.com/xuanhao44/net-lab-2023/internal/table"
)

// UDPHandler receives datagrams for an open port. payload is only valid
// for the duration of the call.
type UDPHandler func(payload []byte, src core.IPv4, srcPort uint16)

type udp struct {
	s     *Stack
	ports *table.Map[uint16, UDPHandler]
}

func newUDP(s *Stack) *udp {
	return &udp{s: s, ports: table.New[uint16, UDPHandler](s.cfg.TableCapacity, 0)}
}

func (u *udp) receive(buf *buffer.Buffer, src core.IPv4) {
	hdr, _, err := header.DecodeUDP(buf.Bytes())
	if err != nil {
		u.s.drop("udp", "short")
		return
	}
	if int(hdr.Length) < header.UDPLen || int(hdr.Length) > buf.Len() {
		u.s.drop("udp", "length")
		return
	}
	if err := buf.Truncate(int(hdr.Length)); err != nil {
		u.s.drop("udp", "length")
		return
	}
	if hdr.Checksum != 0 && header.TransportChecksum(src, u.s.cfg.IP, core.ProtocolUDP, buf.Bytes()) != 0 {
		u.s.drop("udp", "checksum")
		return
	}
	metrics.PacketsTotal.WithLabelValues("udp", metrics.DirectionRx).Inc()

	handler, ok := u.ports.Get(hdr.DstPort)
	if !ok {
		u.s.drop("udp", "port_unreachable")
		ipHdr := u.s.ip.lastHeader
		if err := buf.AddHeader(len(ipHdr)); err != nil {
			return
		}
		copy(buf.Bytes(), ipHdr)
		u.s.icmp.unreachable(buf.Bytes(), src, header.ICMPCodePortUnreachable)
		return
	}

	if err := buf.RemoveHeader(header.UDPLen); err != nil {
		return
	}
	handler(buf.Bytes(), src, hdr.SrcPort)
}

func (u *udp) send(data []byte, srcPort uint16, dst core.IPv4, dstPort uint16) error {
	if len(data) > 65535-header.IPv4MinLen-header.UDPLen {
		return fmt.Errorf("%w: udp payload %d", core.ErrBufferOverflow, len(data))
	}
	buf := u.s.newTxBuffer(len(data))
	copy(buf.Bytes(), data)
	if err := buf.AddHeader(header.UDPLen); err != nil {
		return err
	}
	seg := buf.Bytes()
	header.UDP{SrcPort: srcPort, DstPort: dstPort, Length: uint16(len(seg))}.Encode(seg)
	header.SetUDPChecksum(u.s.cfg.IP, dst, seg)
	metrics.PacketsTotal.WithLabelValues("udp", metrics.DirectionTx).Inc()
	return u.s.ip.send(buf, dst, core.ProtocolUDP)
}

// OpenUDP registers handler for datagrams addressed to port.
func (s *Stack) OpenUDP(port uint16, handler UDPHandler) error {
	if _, ok := s.udp.ports.Get(port); ok {
		return fmt.Errorf("%w: udp %d", core.ErrPortInUse, port)
	}
	if err := s.udp.ports.Set(port, handler); err != nil {
		return fmt.Errorf("open udp %d: %w", port, err)
	}
	s.log.WithField("port", port).Info("udp port opened")
	return nil
}

// CloseUDP removes the handler for port.
func (s *Stack) CloseUDP(port uint16) error {
	if _, ok := s.udp.ports.Get(port); !ok {
		return fmt.Errorf("%w: udp %d", core.ErrPortNotOpen, port)
	}
	s.udp.ports.Delete(port)
	s.log.WithField("port", port).Info("udp port closed")
	return nil
}

// SendUDP sends data from srcPort to dstIP:dstPort.
func (s *Stack) SendUDP(data []byte, srcPort uint16, dstIP core.IPv4, dstPort uint16) error {
	return s.udp.send(data, srcPort, dstIP, dstPort)
}
