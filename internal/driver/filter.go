package driver

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/net/bpf"

	"github.com/xuanhao44/net-lab-2023/internal/core"
	"github.com/xuanhao44/net-lab-2023/internal/metrics"
)

const acceptLen = 0x40000

// HostFilter returns a classic BPF program accepting ARP frames and frames
// addressed to mac or to the broadcast address.
func HostFilter(mac core.HardwareAddr) []bpf.Instruction {
	hi := binary.BigEndian.Uint32(mac[0:4])
	lo := uint32(binary.BigEndian.Uint16(mac[4:6]))
	return []bpf.Instruction{
		// EtherType == ARP
		/* 0 */ bpf.LoadAbsolute{Off: 12, Size: 2},
		/* 1 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(core.EtherTypeARP), SkipTrue: 8},
		// destination == mac
		/* 2 */ bpf.LoadAbsolute{Off: 0, Size: 4},
		/* 3 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: hi, SkipFalse: 2},
		/* 4 */ bpf.LoadAbsolute{Off: 4, Size: 2},
		/* 5 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: lo, SkipTrue: 4},
		// destination == ff:ff:ff:ff:ff:ff
		/* 6 */ bpf.LoadAbsolute{Off: 0, Size: 4},
		/* 7 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0xffffffff, SkipFalse: 3},
		/* 8 */ bpf.LoadAbsolute{Off: 4, Size: 2},
		/* 9 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0xffff, SkipFalse: 1},
		/* 10 */ bpf.RetConstant{Val: acceptLen},
		/* 11 */ bpf.RetConstant{Val: 0},
	}
}

// Filter drops received frames rejected by a BPF program. Rejected frames
// are reported to the caller as "nothing available".
type Filter struct {
	inner Driver
	vm    *bpf.VM
}

// NewFilter wraps inner with prog.
func NewFilter(inner Driver, prog []bpf.Instruction) (*Filter, error) {
	vm, err := bpf.NewVM(prog)
	if err != nil {
		return nil, fmt.Errorf("failed to load BPF program: %w", err)
	}
	return &Filter{inner: inner, vm: vm}, nil
}

// Accept reports whether frame passes the program.
func (f *Filter) Accept(frame []byte) bool {
	n, err := f.vm.Run(frame)
	return err == nil && n > 0
}

func (f *Filter) Send(frame []byte) error { return f.inner.Send(frame) }

func (f *Filter) Recv(buf []byte) (int, error) {
	n, err := f.inner.Recv(buf)
	if n == 0 || err != nil {
		return n, err
	}
	if !f.Accept(buf[:n]) {
		metrics.DropsTotal.WithLabelValues("driver", "filtered").Inc()
		return 0, nil
	}
	return n, nil
}

func (f *Filter) Close() error { return f.inner.Close() }
