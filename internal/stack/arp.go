package stack

import (
	"github.com/xuanhao44/net-lab-2023/internal/buffer"
	"github.com/xuanhao44/net-lab-2023/internal/core"
	"github.com/xuanhao44/net-lab-2023/internal/header"
	"github.com/xuanhao44/net-lab-2023/internal/metrics"
	"github.com/xuanhao44/net-lab-2023/internal/table"
)

// arp resolves IPv4 addresses. While a request is outstanding, at most one
// datagram per destination waits in the pending queue; its expiry also
// bounds how often a destination is re-requested.
type arp struct {
	s       *Stack
	cache   *table.Map[core.IPv4, core.HardwareAddr]
	pending *table.Map[core.IPv4, *buffer.Buffer]
}

func newARP(s *Stack) *arp {
	return &arp{
		s: s,
		cache: table.New(s.cfg.TableCapacity, s.cfg.ARPTimeout,
			table.WithClock[core.IPv4, core.HardwareAddr](s.now)),
		pending: table.New(s.cfg.TableCapacity, s.cfg.ARPMinInterval,
			table.WithClock[core.IPv4, *buffer.Buffer](s.now)),
	}
}

func (a *arp) updateGauges() {
	metrics.ARPCacheEntries.Set(float64(a.cache.Len()))
	metrics.ARPPendingEntries.Set(float64(a.pending.Len()))
}

func (a *arp) emit(op uint16, dstMAC core.HardwareAddr, targetIP core.IPv4, targetMAC core.HardwareAddr) error {
	pkt := header.NewARP(op)
	pkt.SenderMAC = a.s.cfg.MAC
	pkt.SenderIP = a.s.cfg.IP
	pkt.TargetMAC = targetMAC
	pkt.TargetIP = targetIP

	buf := a.s.newTxBuffer(header.ARPLen)
	pkt.Encode(buf.Bytes())
	if err := a.s.eth.send(buf, dstMAC, core.EtherTypeARP); err != nil {
		return err
	}

	opName := "request"
	if op == header.ARPReply {
		opName = "reply"
	}
	metrics.ARPPacketsTotal.WithLabelValues(opName, metrics.DirectionTx).Inc()
	return nil
}

// request broadcasts a who-has for ip.
func (a *arp) request(ip core.IPv4) error {
	return a.emit(header.ARPRequest, core.BroadcastHardwareAddr, ip, core.HardwareAddr{})
}

// reply answers ip/mac with our binding.
func (a *arp) reply(ip core.IPv4, mac core.HardwareAddr) error {
	return a.emit(header.ARPReply, mac, ip, mac)
}

func (a *arp) receive(buf *buffer.Buffer, _ core.HardwareAddr) {
	pkt, err := header.DecodeARP(buf.Bytes())
	if err != nil {
		a.s.drop("arp", "short")
		return
	}
	if !pkt.Valid() {
		a.s.drop("arp", "malformed")
		return
	}
	opName := "request"
	if pkt.Opcode == header.ARPReply {
		opName = "reply"
	}
	metrics.ARPPacketsTotal.WithLabelValues(opName, metrics.DirectionRx).Inc()

	if err := a.cache.Set(pkt.SenderIP, pkt.SenderMAC); err != nil {
		a.s.log.WithError(err).WithField("ip", pkt.SenderIP.String()).Warn("arp cache update failed")
	}
	defer a.updateGauges()

	if queued, ok := a.pending.Get(pkt.SenderIP); ok {
		a.pending.Delete(pkt.SenderIP)
		if err := a.s.eth.send(queued, pkt.SenderMAC, core.EtherTypeIPv4); err != nil {
			a.s.log.WithError(err).Warn("pending datagram send failed")
		}
		return
	}

	if pkt.Opcode == header.ARPRequest && pkt.TargetIP == a.s.cfg.IP {
		if err := a.reply(pkt.SenderIP, pkt.SenderMAC); err != nil {
			a.s.log.WithError(err).Warn("arp reply failed")
		}
	}
}

// send delivers the IPv4 datagram in buf to dst, resolving its hardware
// address first if needed. buf is owned by the callee from here on.
func (a *arp) send(buf *buffer.Buffer, dst core.IPv4) error {
	if mac, ok := a.cache.Get(dst); ok {
		return a.s.eth.send(buf, mac, core.EtherTypeIPv4)
	}
	if _, ok := a.pending.Get(dst); ok {
		// a request for dst is already outstanding
		a.s.drop("arp", "pending")
		return nil
	}
	if err := a.pending.Set(dst, buf); err != nil {
		a.s.log.WithError(err).WithField("ip", dst.String()).Warn("arp pending queue full")
		return err
	}
	a.updateGauges()
	return a.request(dst)
}
