package stack

import (
	"fmt"

	"github.com/xuanhao44/net-lab-2023/internal/buffer"
	"github.com/xuanhao44/net-lab-2023/internal/core"
	"github.com/xuanhao44/net-lab-2023/internal/header"
)

// State is a TCP connection state.
type State int

const (
	StateListen State = iota
	StateSynRcvd
	StateEstablished
	StateFinWait1
	StateFinWait2
	// StateCloseWait is never entered: a peer FIN in ESTABLISHED moves
	// straight to StateLastAck.
	StateCloseWait
	StateLastAck
)

func (s State) String() string {
	switch s {
	case StateListen:
		return "LISTEN"
	case StateSynRcvd:
		return "SYN_RCVD"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN_WAIT_1"
	case StateFinWait2:
		return "FIN_WAIT_2"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateLastAck:
		return "LAST_ACK"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Event is passed to a TCPHandler.
type Event int

const (
	EventConnected Event = iota
	EventDataReceived
	EventClosed
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDataReceived:
		return "data_received"
	case EventClosed:
		return "closed"
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// TCPHandler is notified of connection events on a listening port. It runs
// inside Poll and may call Read, Write and Close on c.
type TCPHandler func(c *Conn, ev Event)

type connKey struct {
	ip         core.IPv4
	remotePort uint16
	localPort  uint16
}

// Conn is one TCP connection. Once released it reports StateListen and
// every data call fails with core.ErrConnClosed.
type Conn struct {
	t       *tcp
	key     connKey
	state   State
	handler TCPHandler

	rx *buffer.Buffer
	tx *buffer.Buffer // unacknowledged data followed by unsent data

	unackSeq     uint32 // oldest unacknowledged sequence number
	nextSeq      uint32 // next sequence number to send
	ack          uint32 // next sequence number expected from the peer
	ackSent      uint32 // ack carried by the last segment sent
	remoteWindow uint16
}

func (c *Conn) State() State        { return c.state }
func (c *Conn) RemoteIP() core.IPv4 { return c.key.ip }
func (c *Conn) RemotePort() uint16  { return c.key.remotePort }
func (c *Conn) LocalPort() uint16   { return c.key.localPort }

func (c *Conn) String() string {
	return fmt.Sprintf("%s:%d->:%d %s", c.key.ip, c.key.remotePort, c.key.localPort, c.state)
}

// Buffered returns the number of received bytes waiting for Read.
func (c *Conn) Buffered() int {
	if c.rx == nil {
		return 0
	}
	return c.rx.Len()
}

// Pending returns the number of bytes written but not yet acknowledged.
func (c *Conn) Pending() int {
	if c.tx == nil {
		return 0
	}
	return c.tx.Len()
}

// Read copies received bytes into p.
func (c *Conn) Read(p []byte) (int, error) {
	if c.rx == nil {
		return 0, core.ErrConnClosed
	}
	n := copy(p, c.rx.Bytes())
	if err := c.rx.RemoveHeader(n); err != nil {
		return 0, err
	}
	if c.rx.Len() == 0 {
		c.rx.Compact()
	}
	return n, nil
}

// Write queues up to len(p) bytes and sends as much as the peer's window
// allows. It accepts no more than the free send-buffer space and the part
// of the peer's window not already taken by queued data. When nothing
// fits it returns 0 with a nil error; retry after further Polls.
func (c *Conn) Write(p []byte) (int, error) {
	if c.state != StateEstablished {
		return 0, core.ErrConnClosed
	}
	room := min(c.tx.Free(), int(c.remoteWindow)-c.tx.Len())
	n := min(len(p), room)
	if n <= 0 {
		c.t.flush(c, header.TCPAck, false)
		return 0, nil
	}
	if err := c.tx.Append(p[:n]); err != nil {
		return 0, err
	}
	c.t.flush(c, header.TCPAck, false)
	return n, nil
}

// Flush sends queued data that fits the peer's window.
func (c *Conn) Flush() error {
	if c.state != StateEstablished {
		return core.ErrConnClosed
	}
	c.t.flush(c, header.TCPAck, false)
	return nil
}

// Close starts an active close. An established connection sends its
// remaining data with FIN and moves to FIN_WAIT_1; any other connection is
// released at once.
func (c *Conn) Close() error {
	if c.state == StateEstablished {
		c.t.flush(c, header.TCPFin|header.TCPAck, true)
		c.t.setState(c, StateFinWait1)
		return nil
	}
	c.t.close(c)
	return nil
}

// advertisedWindow is the free receive-buffer space, capped to the 16-bit
// window field.
func (c *Conn) advertisedWindow() uint16 {
	if c.rx == nil {
		return 0
	}
	return uint16(min(c.rx.Free(), 65535))
}
