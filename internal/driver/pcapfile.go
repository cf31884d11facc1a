package driver

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/xuanhao44/net-lab-2023/internal/core"
)

// DefaultSnapLen is the snapshot length written into capture file headers.
const DefaultSnapLen = 65536

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// PcapFileOptions are the options accepted by the "pcap" driver.
type PcapFileOptions struct {
	In      string `mapstructure:"in"`
	Out     string `mapstructure:"out"`
	SnapLen int    `mapstructure:"snap_len"`
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// PcapFile replays frames from a pcap or pcapng capture and records sent
// frames to a pcap file. Recv returns io.EOF once the input is exhausted.
type PcapFile struct {
	reader packetReader
	writer *pcapgo.Writer
	files  []*os.File
	now    func() time.Time
}

func init() {
	Register("pcap", func(options map[string]interface{}, _ core.HardwareAddr) (Driver, error) {
		var opts PcapFileOptions
		if err := decodeOptions(options, &opts); err != nil {
			return nil, err
		}
		return OpenPcapFile(opts)
	})
}

// OpenPcapFile opens the input and creates the output named in opts. Either
// may be empty.
func OpenPcapFile(opts PcapFileOptions) (*PcapFile, error) {
	p := &PcapFile{now: time.Now}
	if opts.In != "" {
		f, err := os.Open(opts.In)
		if err != nil {
			return nil, fmt.Errorf("failed to open pcap file %s: %w", opts.In, err)
		}
		p.files = append(p.files, f)
		if p.reader, err = newPacketReader(f); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("failed to read pcap file %s: %w", opts.In, err)
		}
	}
	if opts.Out != "" {
		f, err := os.Create(opts.Out)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("failed to create pcap file %s: %w", opts.Out, err)
		}
		p.files = append(p.files, f)
		if p.writer, err = newPacketWriter(f, opts.SnapLen); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
	return p, nil
}

// NewPcapFile builds a driver over already open streams. Either may be nil.
func NewPcapFile(in io.Reader, out io.Writer) (*PcapFile, error) {
	p := &PcapFile{now: time.Now}
	var err error
	if in != nil {
		if p.reader, err = newPacketReader(in); err != nil {
			return nil, err
		}
	}
	if out != nil {
		if p.writer, err = newPacketWriter(out, 0); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func newPacketReader(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(magic, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, err
		}
		if ng.LinkType() != layers.LinkTypeEthernet {
			return nil, fmt.Errorf("%w: link type %s", core.ErrUnsupportedProto, ng.LinkType())
		}
		return ng, nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, err
	}
	if pr.LinkType() != layers.LinkTypeEthernet {
		return nil, fmt.Errorf("%w: link type %s", core.ErrUnsupportedProto, pr.LinkType())
	}
	return pr, nil
}

func newPacketWriter(w io.Writer, snapLen int) (*pcapgo.Writer, error) {
	if snapLen <= 0 {
		snapLen = DefaultSnapLen
	}
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(uint32(snapLen), layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return pw, nil
}

// Send appends frame to the output capture. Without an output it is a no-op.
func (p *PcapFile) Send(frame []byte) error {
	if p.writer == nil {
		return nil
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     p.now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	return p.writer.WritePacket(ci, frame)
}

// Recv copies the next captured frame into buf.
func (p *PcapFile) Recv(buf []byte) (int, error) {
	if p.reader == nil {
		return 0, io.EOF
	}
	data, _, err := p.reader.ReadPacketData()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("failed to read packet: %w", err)
	}
	return copy(buf, data), nil
}

// Close closes any files opened by OpenPcapFile.
func (p *PcapFile) Close() error {
	var errs []error
	for _, f := range p.files {
		errs = append(errs, f.Close())
	}
	p.files = nil
	return errors.Join(errs...)
}
