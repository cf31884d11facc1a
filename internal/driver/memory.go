package driver

import (
	"github.com/xuanhao44/net-lab-2023/internal/core"
)

const defaultQueueLen = 256

// Memory is an in-process driver backed by two frame queues. Frames given to
// Inject are returned by Recv; frames given to Send are collected for Read
// or Drain.
type Memory struct {
	inbound  chan []byte
	outbound chan []byte
	closed   chan struct{}
}

// MemoryOptions are the options accepted by the "memory" driver.
type MemoryOptions struct {
	QueueLen int `mapstructure:"queue_len"`
}

func init() {
	Register("memory", func(options map[string]interface{}, _ core.HardwareAddr) (Driver, error) {
		var opts MemoryOptions
		if err := decodeOptions(options, &opts); err != nil {
			return nil, err
		}
		return NewMemory(opts.QueueLen), nil
	})
}

// NewMemory returns a memory driver whose queues hold queueLen frames each.
func NewMemory(queueLen int) *Memory {
	if queueLen <= 0 {
		queueLen = defaultQueueLen
	}
	return &Memory{
		inbound:  make(chan []byte, queueLen),
		outbound: make(chan []byte, queueLen),
		closed:   make(chan struct{}),
	}
}

// Inject queues a copy of frame for Recv. It reports false when the inbound
// queue is full or the driver is closed.
func (m *Memory) Inject(frame []byte) bool {
	select {
	case <-m.closed:
		return false
	default:
	}
	select {
	case m.inbound <- append([]byte(nil), frame...):
		return true
	default:
		return false
	}
}

// Send queues a copy of frame on the outbound queue.
func (m *Memory) Send(frame []byte) error {
	select {
	case <-m.closed:
		return core.ErrDriverClosed
	default:
	}
	select {
	case m.outbound <- append([]byte(nil), frame...):
		return nil
	default:
		return core.ErrBufferOverflow
	}
}

// Recv copies the next injected frame into buf, truncating it if buf is
// shorter.
func (m *Memory) Recv(buf []byte) (int, error) {
	select {
	case frame := <-m.inbound:
		return copy(buf, frame), nil
	case <-m.closed:
		return 0, core.ErrDriverClosed
	default:
		return 0, nil
	}
}

// Read returns the next sent frame, if any.
func (m *Memory) Read() ([]byte, bool) {
	select {
	case frame := <-m.outbound:
		return frame, true
	default:
		return nil, false
	}
}

// Drain returns every frame sent since the last Drain.
func (m *Memory) Drain() [][]byte {
	var frames [][]byte
	for {
		frame, ok := m.Read()
		if !ok {
			return frames
		}
		frames = append(frames, frame)
	}
}

// Close makes further Send and Recv calls fail with ErrDriverClosed.
func (m *Memory) Close() error {
	select {
	case <-m.closed:
	default:
		close(m.closed)
	}
	return nil
}
