package stack

import (
	"fmt"
	"time"

	"github.com/xuanhao44/net-lab-2023/internal/buffer"
	"github.com/xuanhao44/net-lab-2023/internal/core"
	"github.com/xuanhao44/net-lab-2023/internal/header"
	"github.com/xuanhao44/net-lab-2023/internal/metrics"
	"github.com/xuanhao44/net-lab-2023/internal/table"
)

// tcp is the passive-open TCP engine. Segments must arrive in order: any
// sequence gap resets the connection, and nothing is retransmitted.
type tcp struct {
	s         *Stack
	listeners *table.Map[uint16, TCPHandler]
	conns     *table.Map[connKey, *Conn]
}

func newTCP(s *Stack) *tcp {
	return &tcp{
		s:         s,
		listeners: table.New[uint16, TCPHandler](s.cfg.TableCapacity, 0),
		conns:     table.New[connKey, *Conn](s.cfg.TableCapacity, 0),
	}
}

// mss is the largest payload sent in one segment.
func (t *tcp) mss() int {
	return t.s.cfg.MTU - header.IPv4MinLen - header.TCPMinLen
}

func (t *tcp) receive(buf *buffer.Buffer, src core.IPv4) {
	seg := buf.Bytes()
	hdr, payload, err := header.DecodeTCP(seg)
	if err != nil {
		t.s.drop("tcp", "short")
		return
	}
	if header.TransportChecksum(src, t.s.cfg.IP, core.ProtocolTCP, seg) != 0 {
		t.s.drop("tcp", "checksum")
		return
	}
	metrics.PacketsTotal.WithLabelValues("tcp", metrics.DirectionRx).Inc()

	handler, ok := t.listeners.Get(hdr.DstPort)
	if !ok {
		t.s.drop("tcp", "no_listener")
		if !hdr.Flags.Has(header.TCPRst) {
			t.resetPeer(src, hdr, len(payload))
		}
		return
	}

	key := connKey{ip: src, remotePort: hdr.SrcPort, localPort: hdr.DstPort}
	c, ok := t.conns.Get(key)
	if !ok {
		c = &Conn{t: t, key: key, state: StateListen, handler: handler}
		if err := t.conns.Set(key, c); err != nil {
			t.s.log.WithError(err).WithField("peer", src.String()).Warn("tcp connection table full")
			if !hdr.Flags.Has(header.TCPRst) {
				t.resetPeer(src, hdr, len(payload))
			}
			return
		}
		metrics.TCPConnections.Set(float64(t.conns.Len()))
	}
	t.process(c, hdr, payload)
}

func (t *tcp) process(c *Conn, hdr header.TCP, payload []byte) {
	if c.state == StateListen {
		t.listen(c, hdr, payload)
		return
	}
	if hdr.Flags.Has(header.TCPRst) {
		t.s.log.WithField("conn", c.String()).Info("tcp connection reset by peer")
		t.close(c)
		return
	}
	if hdr.Seq != c.ack {
		t.s.drop("tcp", "sequence")
		t.reset(c, hdr, len(payload))
		return
	}
	c.remoteWindow = hdr.Window

	switch c.state {
	case StateSynRcvd:
		t.synRcvd(c, hdr, payload)
	case StateEstablished:
		t.established(c, hdr, payload)
	case StateFinWait1:
		t.finWait1(c, hdr, payload)
	case StateFinWait2:
		t.finWait2(c, hdr, payload)
	case StateLastAck:
		t.lastAck(c, hdr)
	default:
		panic(fmt.Sprintf("tcp: connection %s in unexpected state", c))
	}
}

// listen handles the first segment of a connection. An RST is absorbed,
// anything other than a SYN is reset.
func (t *tcp) listen(c *Conn, hdr header.TCP, payload []byte) {
	if hdr.Flags.Has(header.TCPRst) {
		t.close(c)
		return
	}
	if !hdr.Flags.Has(header.TCPSyn) {
		t.reset(c, hdr, len(payload))
		return
	}

	rx, err := buffer.NewWithCapacity(t.s.cfg.BufferSize, 0)
	if err != nil {
		t.close(c)
		return
	}
	tx, err := buffer.NewWithCapacity(t.s.cfg.BufferSize, 0)
	if err != nil {
		t.close(c)
		return
	}
	c.rx, c.tx = rx, tx

	isn := t.s.isn()
	c.unackSeq = isn
	c.nextSeq = isn
	c.ack = hdr.Seq + 1
	c.remoteWindow = hdr.Window
	t.setState(c, StateSynRcvd)
	t.sendSegment(c, nil, header.TCPSyn|header.TCPAck)
}

func (t *tcp) synRcvd(c *Conn, hdr header.TCP, payload []byte) {
	if !hdr.Flags.Has(header.TCPAck) {
		return
	}
	c.unackSeq++
	t.setState(c, StateEstablished)
	t.s.log.WithField("conn", c.String()).Info("tcp connection established")
	c.handler(c, EventConnected)

	if c.state != StateEstablished {
		return
	}
	if len(payload) > 0 || hdr.Flags.Has(header.TCPFin) {
		t.established(c, hdr, payload)
	}
}

func (t *tcp) established(c *Conn, hdr header.TCP, payload []byte) {
	if !hdr.Flags.Has(header.TCPAck) && !hdr.Flags.Has(header.TCPFin) {
		return
	}
	if len(payload) > c.rx.Free() {
		t.s.drop("tcp", "receive_buffer_full")
		return
	}
	if hdr.Flags.Has(header.TCPAck) {
		t.acknowledge(c, hdr.Ack)
	}
	t.absorb(c, payload)

	if hdr.Flags.Has(header.TCPFin) {
		c.ack++
		t.setState(c, StateLastAck)
		t.flush(c, header.TCPFin|header.TCPAck, true)
		return
	}

	if len(payload) > 0 {
		c.handler(c, EventDataReceived)
		if c.state != StateEstablished {
			return
		}
	}
	t.flush(c, header.TCPAck, false)
	if c.ackSent != c.ack {
		t.sendSegment(c, nil, header.TCPAck)
	}
}

func (t *tcp) finWait1(c *Conn, hdr header.TCP, payload []byte) {
	if !hdr.Flags.Has(header.TCPAck) {
		return
	}
	t.acknowledge(c, hdr.Ack)
	t.absorb(c, payload)
	if hdr.Flags.Has(header.TCPFin) {
		c.ack++
		t.sendSegment(c, nil, header.TCPAck)
		t.close(c)
		return
	}
	t.setState(c, StateFinWait2)
	if len(payload) > 0 {
		t.sendSegment(c, nil, header.TCPAck)
	}
}

func (t *tcp) finWait2(c *Conn, hdr header.TCP, payload []byte) {
	t.absorb(c, payload)
	if hdr.Flags.Has(header.TCPFin) {
		c.ack++
		t.sendSegment(c, nil, header.TCPAck)
		t.close(c)
		return
	}
	if len(payload) > 0 {
		t.sendSegment(c, nil, header.TCPAck)
	}
}

func (t *tcp) lastAck(c *Conn, hdr header.TCP) {
	if !hdr.Flags.Has(header.TCPAck) {
		return
	}
	t.acknowledge(c, hdr.Ack)
	c.handler(c, EventClosed)
	t.close(c)
}

// acknowledge releases send-buffer bytes covered by ack. Acks for data
// never sent are ignored.
func (t *tcp) acknowledge(c *Conn, ack uint32) {
	acked := int32(ack - c.unackSeq)
	if acked <= 0 || uint32(acked) > c.nextSeq-c.unackSeq {
		return
	}
	c.unackSeq = ack
	if err := c.tx.RemoveHeader(min(int(acked), c.tx.Len())); err != nil {
		return
	}
	if c.tx.Len() == 0 {
		c.tx.Compact()
	}
}

// absorb appends in-order payload to the receive buffer and advances ack.
func (t *tcp) absorb(c *Conn, payload []byte) {
	if len(payload) == 0 {
		return
	}
	if err := c.rx.Append(payload); err != nil {
		t.s.drop("tcp", "receive_buffer_full")
		return
	}
	c.ack += uint32(len(payload))
}

// flush sends queued data the peer's window allows, in MSS-sized segments.
// flags go on the last segment; a FIN is only sent once every queued byte
// is on its way, and bytes the window cannot take are discarded first.
// With force set, a bare segment carrying flags is sent when there is no
// data.
func (t *tcp) flush(c *Conn, flags header.TCPFlags, force bool) {
	if c.tx == nil {
		return
	}
	sent := min(int(c.nextSeq-c.unackSeq), c.tx.Len())
	unsent := c.tx.Len() - sent
	window := max(int(c.remoteWindow)-sent, 0)
	n := min(unsent, window)

	if flags.Has(header.TCPFin) && n < unsent {
		t.s.log.WithField("conn", c.String()).Debugf("discarding %d unsent bytes on close", unsent-n)
		_ = c.tx.Truncate(sent + n)
	}

	if n == 0 {
		if force {
			t.sendSegment(c, nil, flags)
		}
		return
	}

	data := c.tx.Bytes()[sent : sent+n]
	mss := t.mss()
	for off := 0; off < n; off += mss {
		end := min(off+mss, n)
		f := header.TCPAck
		if end == n {
			f = flags
		}
		c.nextSeq += uint32(end - off)
		t.sendSegment(c, data[off:end], f)
	}
}

// sendSegment sends payload as the bytes ending at nextSeq. SYN and FIN
// consume one sequence number after the segment is sent.
func (t *tcp) sendSegment(c *Conn, payload []byte, flags header.TCPFlags) {
	seq := c.nextSeq - uint32(len(payload))
	if err := t.emit(c.key.localPort, c.key.remotePort, c.key.ip, seq, c.ack, flags, c.advertisedWindow(), payload); err != nil {
		t.s.log.WithError(err).WithField("conn", c.String()).Debug("tcp segment not sent")
	}
	c.ackSent = c.ack
	if flags.Has(header.TCPSyn) || flags.Has(header.TCPFin) {
		c.nextSeq++
	}
}

// reset answers the offending segment with RST and releases c.
func (t *tcp) reset(c *Conn, hdr header.TCP, payloadLen int) {
	t.s.log.WithFields(map[string]interface{}{
		"conn":  c.String(),
		"flags": hdr.Flags.String(),
		"seq":   hdr.Seq,
	}).Info("tcp connection reset")
	t.resetPeer(c.key.ip, hdr, payloadLen)
	t.close(c)
}

// resetPeer sends RST+ACK for hdr. The sequence number is taken from the
// segment's acknowledgment field so the peer accepts it.
func (t *tcp) resetPeer(dst core.IPv4, hdr header.TCP, payloadLen int) {
	var seq uint32
	if hdr.Flags.Has(header.TCPAck) {
		seq = hdr.Ack
	}
	ack := hdr.Seq + uint32(payloadLen)
	if hdr.Flags.Has(header.TCPSyn) {
		ack++
	}
	if hdr.Flags.Has(header.TCPFin) {
		ack++
	}
	if err := t.emit(hdr.DstPort, hdr.SrcPort, dst, seq, ack, header.TCPRst|header.TCPAck, 0, nil); err != nil {
		t.s.log.WithError(err).Debug("tcp reset not sent")
		return
	}
	metrics.TCPResetsTotal.Inc()
}

func (t *tcp) emit(srcPort, dstPort uint16, dst core.IPv4, seq, ack uint32, flags header.TCPFlags, window uint16, payload []byte) error {
	buf := t.s.newTxBuffer(len(payload))
	copy(buf.Bytes(), payload)
	if err := buf.AddHeader(header.TCPMinLen); err != nil {
		return err
	}
	seg := buf.Bytes()
	header.TCP{
		SrcPort: srcPort,
		DstPort: dstPort,
		Seq:     seq,
		Ack:     ack,
		Flags:   flags,
		Window:  window,
	}.Encode(seg)
	header.SetTCPChecksum(t.s.cfg.IP, dst, seg)
	metrics.PacketsTotal.WithLabelValues("tcp", metrics.DirectionTx).Inc()
	return t.s.ip.send(buf, dst, core.ProtocolTCP)
}

func (t *tcp) setState(c *Conn, st State) {
	if t.s.log.IsDebugEnabled() {
		t.s.log.WithFields(map[string]interface{}{
			"conn": c.String(),
			"to":   st.String(),
		}).Debug("tcp state change")
	}
	c.state = st
	metrics.TCPTransitionsTotal.WithLabelValues(st.String()).Inc()
}

// close releases c's buffers, returns it to LISTEN and removes it from the
// connection table. Closing a released connection is a no-op.
func (t *tcp) close(c *Conn) {
	wasOpen := c.state != StateListen
	c.rx, c.tx = nil, nil
	if wasOpen {
		t.setState(c, StateListen)
	}
	if cur, ok := t.conns.Get(c.key); ok && cur == c {
		t.conns.Delete(c.key)
		metrics.TCPConnections.Set(float64(t.conns.Len()))
	}
	if wasOpen {
		t.s.log.WithField("conn", c.String()).Debug("tcp connection released")
	}
}

// OpenTCP starts listening on port.
func (s *Stack) OpenTCP(port uint16, handler TCPHandler) error {
	if _, ok := s.tcp.listeners.Get(port); ok {
		return fmt.Errorf("%w: tcp %d", core.ErrPortInUse, port)
	}
	if err := s.tcp.listeners.Set(port, handler); err != nil {
		return fmt.Errorf("open tcp %d: %w", port, err)
	}
	s.log.WithField("port", port).Info("tcp port opened")
	return nil
}

// CloseTCP stops listening on port and releases its connections without
// notifying the peers.
func (s *Stack) CloseTCP(port uint16) error {
	if _, ok := s.tcp.listeners.Get(port); !ok {
		return fmt.Errorf("%w: tcp %d", core.ErrPortNotOpen, port)
	}
	var victims []*Conn
	s.tcp.conns.Foreach(func(k connKey, c *Conn, _ time.Time) bool {
		if k.localPort == port {
			victims = append(victims, c)
		}
		return true
	})
	for _, c := range victims {
		s.tcp.close(c)
	}
	s.tcp.listeners.Delete(port)
	s.log.WithFields(map[string]interface{}{
		"port":        port,
		"connections": len(victims),
	}).Info("tcp port closed")
	return nil
}

// Lookup returns the connection from ip:remotePort to localPort.
func (s *Stack) Lookup(ip core.IPv4, remotePort, localPort uint16) (*Conn, bool) {
	return s.tcp.conns.Get(connKey{ip: ip, remotePort: remotePort, localPort: localPort})
}

// Connections visits every connection in the table.
func (s *Stack) Connections(fn func(c *Conn) bool) {
	s.tcp.conns.Foreach(func(_ connKey, c *Conn, _ time.Time) bool {
		return fn(c)
	})
}
