// Package httpd serves static files over HTTP/1.0 on top of the stack's TCP
// connections.
//
// The server never blocks: the TCP handler only queues new connections, and
// Step, called once per poll iteration, moves every queued session as far as
// the connection allows.
package httpd

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/xuanhao44/net-lab-2023/internal/log"
	"github.com/xuanhao44/net-lab-2023/internal/metrics"
	"github.com/xuanhao44/net-lab-2023/internal/stack"
)

const (
	// QueueSize bounds the number of connections being served at once.
	QueueSize = 40

	maxRequestLine = 1024
	chunkSize      = 1024
	appName        = "httpd"
)

// Config configures a Server.
type Config struct {
	Port    uint16
	DocRoot string
}

// TCPStack is the part of the stack the server needs.
type TCPStack interface {
	OpenTCP(port uint16, handler stack.TCPHandler) error
	CloseTCP(port uint16) error
}

// Conn is the connection surface a session drives.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	State() stack.State
	String() string
}

var _ Conn = (*stack.Conn)(nil)

// Server is an HTTP/1.0 GET-only file server.
type Server struct {
	st   TCPStack
	port uint16
	docs fs.FS
	log  log.Logger

	queue *fifo
}

// New returns a server for cfg. It does not open the port.
func New(st TCPStack, cfg Config, logger log.Logger) (*Server, error) {
	info, err := os.Stat(cfg.DocRoot)
	if err != nil {
		return nil, fmt.Errorf("httpd: doc root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("httpd: doc root %s is not a directory", cfg.DocRoot)
	}
	return NewFS(st, cfg.Port, os.DirFS(cfg.DocRoot), logger), nil
}

// NewFS returns a server that serves files from docs.
func NewFS(st TCPStack, port uint16, docs fs.FS, logger log.Logger) *Server {
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Server{
		st:    st,
		port:  port,
		docs:  docs,
		log:   logger.WithField("app", appName),
		queue: newFIFO(QueueSize),
	}
}

// Open starts listening.
func (s *Server) Open() error {
	if err := s.st.OpenTCP(s.port, s.handle); err != nil {
		return err
	}
	s.log.WithField("port", s.port).Info("http server listening")
	return nil
}

// Close closes every queued session, sending FIN on established
// connections, then stops listening.
func (s *Server) Close() {
	for {
		sess, ok := s.queue.pop()
		if !ok {
			break
		}
		sess.finish()
	}
	if err := s.st.CloseTCP(s.port); err != nil {
		s.log.WithError(err).Warn("http close failed")
	}
}

// Pending returns the number of sessions in progress.
func (s *Server) Pending() int { return s.queue.len() }

func (s *Server) handle(c *stack.Conn, ev stack.Event) {
	switch ev {
	case stack.EventConnected:
		s.accept(c)
	case stack.EventDataReceived:
		// the request is read by Step
	case stack.EventClosed:
		s.log.WithField("conn", c.String()).Debug("http connection closed by peer")
		metrics.AppEventsTotal.WithLabelValues(appName, "closed").Inc()
	}
}

// accept queues a new connection, closing it when the queue is full.
func (s *Server) accept(c Conn) {
	metrics.AppEventsTotal.WithLabelValues(appName, "connected").Inc()
	if !s.queue.push(newSession(s, c)) {
		s.log.WithField("conn", c.String()).Warn("http queue full, closing connection")
		metrics.AppEventsTotal.WithLabelValues(appName, "rejected").Inc()
		_ = c.Close()
		return
	}
	s.log.WithField("conn", c.String()).Debug("http connection queued")
}

// Step advances every queued session once. Finished sessions leave the
// queue; the rest keep their order.
func (s *Server) Step() {
	for n := s.queue.len(); n > 0; n-- {
		sess, _ := s.queue.pop()
		if sess.step() {
			continue
		}
		s.queue.push(sess)
	}
}
