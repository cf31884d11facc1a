//go:build linux && cgo

package driver

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/gopacket/afpacket"
	"golang.org/x/net/bpf"

	"github.com/xuanhao44/net-lab-2023/internal/core"
	"github.com/xuanhao44/net-lab-2023/internal/log"
)

// AFPacket is a live driver on a Linux interface using a TPACKET_V3 ring.
type AFPacket struct {
	handle *afpacket.TPacket
	device string
}

func init() {
	Register("afpacket", func(options map[string]interface{}, mac core.HardwareAddr) (Driver, error) {
		opts := AFPacketOptions{
			SnapLen:      defaultAFPacketSnapLen,
			BufferSizeMB: defaultAFPacketBufferMB,
			PollTimeout:  defaultAFPacketPollTimeout,
			HostFilter:   true,
		}
		if err := decodeOptions(options, &opts); err != nil {
			return nil, err
		}
		return OpenAFPacket(opts, mac)
	})
}

// OpenAFPacket opens opts.Device. When opts.HostFilter is set the kernel
// only delivers ARP frames and frames addressed to mac or broadcast.
func OpenAFPacket(opts AFPacketOptions, mac core.HardwareAddr) (*AFPacket, error) {
	if opts.Device == "" {
		return nil, fmt.Errorf("%w: afpacket driver requires a device", core.ErrConfigInvalid)
	}
	frameSize, blockSize, numBlocks, err := ringSize(opts.BufferSizeMB, opts.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(opts.Device),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(opts.PollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", opts.Device, err)
	}

	if opts.HostFilter {
		raw, err := bpf.Assemble(HostFilter(mac))
		if err != nil {
			tp.Close()
			return nil, err
		}
		if err := tp.SetBPF(raw); err != nil {
			tp.Close()
			return nil, fmt.Errorf("failed to set BPF filter: %w", err)
		}
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"device":     opts.Device,
		"frame_size": frameSize,
		"block_size": blockSize,
		"num_blocks": numBlocks,
	}).Info("afpacket handle opened")

	return &AFPacket{handle: tp, device: opts.Device}, nil
}

func (a *AFPacket) Send(frame []byte) error {
	return a.handle.WritePacketData(frame)
}

// Recv waits at most the configured poll timeout for a frame.
func (a *AFPacket) Recv(buf []byte) (int, error) {
	data, _, err := a.handle.ReadPacketData()
	if err != nil {
		if errors.Is(err, afpacket.ErrTimeout) {
			return 0, nil
		}
		return 0, err
	}
	return copy(buf, data), nil
}

func (a *AFPacket) Close() error {
	a.handle.Close()
	log.GetLogger().WithField("device", a.device).Info("afpacket handle closed")
	return nil
}
