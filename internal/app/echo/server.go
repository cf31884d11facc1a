// Package echo implements a UDP echo service.
package echo

import (
	"github.com/xuanhao44/net-lab-2023/internal/core"
	"github.com/xuanhao44/net-lab-2023/internal/log"
	"github.com/xuanhao44/net-lab-2023/internal/metrics"
	"github.com/xuanhao44/net-lab-2023/internal/stack"
)

const appName = "echo"

// UDPStack is the part of the stack the service needs.
type UDPStack interface {
	OpenUDP(port uint16, handler stack.UDPHandler) error
	CloseUDP(port uint16) error
	SendUDP(data []byte, srcPort uint16, dstIP core.IPv4, dstPort uint16) error
}

// Server sends every datagram it receives back to its source.
type Server struct {
	st   UDPStack
	port uint16
	log  log.Logger
}

func New(st UDPStack, port uint16, logger log.Logger) *Server {
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Server{st: st, port: port, log: logger.WithField("app", appName)}
}

func (s *Server) Open() error {
	if err := s.st.OpenUDP(s.port, s.handle); err != nil {
		return err
	}
	s.log.WithField("port", s.port).Info("echo server listening")
	return nil
}

func (s *Server) Close() {
	if err := s.st.CloseUDP(s.port); err != nil {
		s.log.WithError(err).Warn("echo close failed")
	}
}

func (s *Server) handle(payload []byte, src core.IPv4, srcPort uint16) {
	if s.log.IsDebugEnabled() {
		s.log.WithFields(map[string]interface{}{
			"src":  src.String(),
			"port": srcPort,
			"len":  len(payload),
		}).Debug("echo datagram")
	}
	if err := s.st.SendUDP(payload, s.port, src, srcPort); err != nil {
		s.log.WithError(err).Warn("echo reply failed")
		metrics.AppEventsTotal.WithLabelValues(appName, "error").Inc()
		return
	}
	metrics.AppEventsTotal.WithLabelValues(appName, "echoed").Inc()
}
