package httpd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/xuanhao44/net-lab-2023/internal/log"
	"github.com/xuanhao44/net-lab-2023/internal/metrics"
	"github.com/xuanhao44/net-lab-2023/internal/stack"
)

const (
	statusOK       = "200 OK"
	statusNotFound = "404 NOT FOUND"
	serverName     = "xnet"

	notFoundBody = "<html><body><h1>404 Not Found</h1></body></html>\n"
)

var errBadRequest = errors.New("httpd: bad request")

type phase int

const (
	phaseRequest phase = iota
	phaseResponse
)

// session serves one request on one connection.
type session struct {
	srv   *Server
	c     Conn
	phase phase

	line  []byte
	out   []byte // response bytes not yet accepted by the connection
	body  fs.File
	chunk []byte
}

func newSession(srv *Server, c Conn) *session {
	return &session{srv: srv, c: c}
}

// step advances the session and reports whether it is finished.
func (s *session) step() bool {
	if s.c.State() == stack.StateListen {
		// released by a reset or by the peer's close
		s.release()
		return true
	}

	if s.phase == phaseRequest {
		line, complete, err := s.readLine()
		if err == nil && complete && strings.TrimSpace(line) == "" {
			err = fmt.Errorf("%w: empty request line", errBadRequest)
		}
		if err != nil {
			s.srv.log.WithError(err).WithField("conn", s.c.String()).Debug("http request rejected")
			metrics.AppEventsTotal.WithLabelValues(appName, "bad_request").Inc()
			s.finish()
			return true
		}
		if !complete {
			return false
		}
		if err := s.respond(line); err != nil {
			s.srv.log.WithError(err).WithField("conn", s.c.String()).Debug("http request rejected")
			metrics.AppEventsTotal.WithLabelValues(appName, "bad_request").Inc()
			s.finish()
			return true
		}
		s.phase = phaseResponse
	}

	done, err := s.flush()
	if err != nil {
		s.srv.log.WithError(err).WithField("conn", s.c.String()).Debug("http response aborted")
		s.release()
		return true
	}
	if !done {
		return false
	}
	s.finish()
	return true
}

// readLine accumulates the request line and reports whether all of it has
// arrived. Anything after the line is ignored.
func (s *session) readLine() (string, bool, error) {
	var buf [256]byte
	for {
		n, err := s.c.Read(buf[:])
		if err != nil {
			return "", false, err
		}
		if n == 0 {
			break
		}
		s.line = append(s.line, buf[:n]...)
		if i := bytes.IndexByte(s.line, '\n'); i >= 0 {
			return string(bytes.TrimRight(s.line[:i], "\r")), true, nil
		}
		if len(s.line) > maxRequestLine {
			return "", false, fmt.Errorf("%w: request line longer than %d bytes", errBadRequest, maxRequestLine)
		}
	}
	if s.c.State() != stack.StateEstablished {
		return "", false, fmt.Errorf("%w: connection closed before request line", errBadRequest)
	}
	return "", false, nil
}

// respond parses the request line and queues the response.
func (s *session) respond(line string) error {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "GET" {
		return fmt.Errorf("%w: %q", errBadRequest, line)
	}
	logger := s.srv.log.WithFields(map[string]interface{}{
		"conn":   s.c.String(),
		"target": fields[1],
	})

	name, ok := resolve(fields[1])
	if !ok {
		return s.notFound(logger)
	}
	f, err := s.srv.docs.Open(name)
	if err != nil {
		return s.notFound(logger)
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		_ = f.Close()
		return s.notFound(logger)
	}

	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	s.out = responseHeader(statusOK, ctype, info.Size())
	s.body = f
	s.chunk = make([]byte, chunkSize)
	logger.Info("http request served")
	metrics.AppEventsTotal.WithLabelValues(appName, "ok").Inc()
	return nil
}

func (s *session) notFound(logger log.Logger) error {
	s.out = append(responseHeader(statusNotFound, "text/html", int64(len(notFoundBody))), notFoundBody...)
	logger.Info("http request not found")
	metrics.AppEventsTotal.WithLabelValues(appName, "not_found").Inc()
	return nil
}

func responseHeader(status, ctype string, length int64) []byte {
	return []byte(fmt.Sprintf("HTTP/1.0 %s\r\nServer: %s\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n",
		status, serverName, ctype, length))
}

// flush writes as much of the response as the connection accepts and
// reports whether all of it has been accepted.
func (s *session) flush() (bool, error) {
	for {
		for len(s.out) > 0 {
			n, err := s.c.Write(s.out)
			if err != nil {
				return false, err
			}
			if n == 0 {
				return false, nil
			}
			s.out = s.out[n:]
		}
		if s.body == nil {
			return true, nil
		}
		n, err := s.body.Read(s.chunk)
		if n > 0 {
			s.out = s.chunk[:n]
			continue
		}
		if errors.Is(err, io.EOF) {
			s.closeBody()
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
}

// finish closes the connection once the response is handed over.
func (s *session) finish() {
	s.closeBody()
	if err := s.c.Close(); err != nil {
		s.srv.log.WithError(err).Debug("http close failed")
	}
}

func (s *session) release() {
	s.closeBody()
}

func (s *session) closeBody() {
	if s.body != nil {
		_ = s.body.Close()
		s.body = nil
	}
}

// resolve maps a request target to a name in the document tree. The root
// maps to index.html; nothing resolves outside the tree.
func resolve(target string) (string, bool) {
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}
	p, err := url.PathUnescape(target)
	if err != nil || !strings.HasPrefix(p, "/") {
		return "", false
	}
	p = path.Clean(p)
	if p == "/" {
		return "index.html", true
	}
	name := strings.TrimPrefix(p, "/")
	return name, fs.ValidPath(name)
}
