package httpd

// fifo is a fixed-size ring of sessions.
type fifo struct {
	buf         []*session
	front, tail int
	count       int
}

func newFIFO(size int) *fifo {
	return &fifo{buf: make([]*session, size)}
}

func (f *fifo) push(s *session) bool {
	if f.count == len(f.buf) {
		return false
	}
	f.buf[f.front] = s
	f.front = (f.front + 1) % len(f.buf)
	f.count++
	return true
}

func (f *fifo) pop() (*session, bool) {
	if f.count == 0 {
		return nil, false
	}
	s := f.buf[f.tail]
	f.buf[f.tail] = nil
	f.tail = (f.tail + 1) % len(f.buf)
	f.count--
	return s, true
}

func (f *fifo) len() int { return f.count }
