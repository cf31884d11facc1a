package stack

import (
	"github.com/xuanhao44/net-lab-2023/internal/buffer"
	"github.com/xuanhao44/net-lab-2023/internal/core"
	"github.com/xuanhao44/net-lab-2023/internal/header"
	"github.com/xuanhao44/net-lab-2023/internal/metrics"
)

// linkHandler consumes a frame payload for one EtherType.
type linkHandler interface {
	receive(buf *buffer.Buffer, src core.HardwareAddr)
}

type ethernet struct {
	s        *Stack
	handlers map[core.EtherType]linkHandler
}

func newEthernet(s *Stack) *ethernet {
	return &ethernet{s: s, handlers: make(map[core.EtherType]linkHandler)}
}

func (e *ethernet) register(t core.EtherType, h linkHandler) {
	e.handlers[t] = h
}

func (e *ethernet) receive(buf *buffer.Buffer) {
	hdr, _, err := header.DecodeEthernet(buf.Bytes())
	if err != nil {
		e.s.drop("ethernet", "short")
		return
	}
	if err := buf.RemoveHeader(header.EthernetLen); err != nil {
		e.s.drop("ethernet", "short")
		return
	}
	h, ok := e.handlers[hdr.Type]
	if !ok {
		e.s.drop("ethernet", "unknown_type")
		return
	}
	h.receive(buf, hdr.Src)
}

// send pads buf to the minimum payload, frames it and hands it to the driver.
func (e *ethernet) send(buf *buffer.Buffer, dst core.HardwareAddr, t core.EtherType) error {
	if buf.Len() < header.EthernetMinPayload {
		if err := buf.AddPadding(header.EthernetMinPayload - buf.Len()); err != nil {
			return err
		}
	}
	if err := buf.AddHeader(header.EthernetLen); err != nil {
		return err
	}
	header.Ethernet{Dst: dst, Src: e.s.cfg.MAC, Type: t}.Encode(buf.Bytes())

	if err := e.s.drv.Send(buf.Bytes()); err != nil {
		metrics.DriverErrorsTotal.WithLabelValues("send").Inc()
		e.s.log.WithError(err).Warn("driver send failed")
		return err
	}
	metrics.FramesTotal.WithLabelValues(metrics.DirectionTx).Inc()
	return nil
}
