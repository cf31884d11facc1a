package driver

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

// Tap records every frame passing through the wrapped driver, in both
// directions, to a pcap stream.
type Tap struct {
	inner  Driver
	mu     sync.Mutex
	writer *pcapgo.Writer
	closer io.Closer
}

// NewTap wraps inner. If w is also an io.Closer it is closed with the tap.
func NewTap(inner Driver, w io.Writer, snapLen int) (*Tap, error) {
	pw, err := newPacketWriter(w, snapLen)
	if err != nil {
		return nil, err
	}
	t := &Tap{inner: inner, writer: pw}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	return t, nil
}

func (t *Tap) record(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := t.writer.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("capture write: %w", err)
	}
	return nil
}

func (t *Tap) Send(frame []byte) error {
	if err := t.inner.Send(frame); err != nil {
		return err
	}
	return t.record(frame)
}

func (t *Tap) Recv(buf []byte) (int, error) {
	n, err := t.inner.Recv(buf)
	if n > 0 {
		if rerr := t.record(buf[:n]); rerr != nil && err == nil {
			err = rerr
		}
	}
	return n, err
}

func (t *Tap) Close() error {
	err := t.inner.Close()
	if t.closer != nil {
		if cerr := t.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
