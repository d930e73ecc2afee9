// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the socket layer.

package fake

import (
	"io"
	"sync"

	"github.com/momentics/hioload-app/api"
	"github.com/momentics/hioload-app/transport"
)

// Socket is an in-memory transport.Socket. Bytes queued with Feed are
// returned by Read; writes are captured for inspection. When nothing is
// queued Read reports transport.ErrWouldBlock, or io.EOF after FeedEOF.
type Socket struct {
	mu         sync.Mutex
	in         [][]byte
	out        []byte
	eof        bool
	closed     bool
	writeLimit int
	blocked    bool
	readErr    error
	writeErr   error
	fd         int
}

var _ transport.Socket = (*Socket)(nil)

// NewSocket creates a new fake socket.
func NewSocket() *Socket {
	return &Socket{fd: -1}
}

// Feed queues b as one chunk for Read.
func (s *Socket) Feed(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.in = append(s.in, append([]byte(nil), b...))
}

// FeedString queues a string chunk.
func (s *Socket) FeedString(str string) { s.Feed([]byte(str)) }

// FeedEOF makes Read report io.EOF once the queued data is consumed.
func (s *Socket) FeedEOF() {
	s.mu.Lock()
	s.eof = true
	s.mu.Unlock()
}

// SetWriteLimit caps the number of bytes accepted by each Write call.
// Zero removes the cap.
func (s *Socket) SetWriteLimit(n int) {
	s.mu.Lock()
	s.writeLimit = n
	s.mu.Unlock()
}

// SetBlocked makes Write report transport.ErrWouldBlock until cleared.
func (s *Socket) SetBlocked(b bool) {
	s.mu.Lock()
	s.blocked = b
	s.mu.Unlock()
}

// SetReadError injects an error returned by the next Read calls.
func (s *Socket) SetReadError(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

// SetWriteError injects an error returned by the next Write calls.
func (s *Socket) SetWriteError(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

// Read implements transport.Socket.
func (s *Socket) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, api.ErrConnectionClosed
	}
	if s.readErr != nil {
		return 0, s.readErr
	}
	if len(s.in) == 0 {
		if s.eof {
			return 0, io.EOF
		}
		return 0, transport.ErrWouldBlock
	}
	n := copy(p, s.in[0])
	if n == len(s.in[0]) {
		s.in = s.in[1:]
	} else {
		s.in[0] = s.in[0][n:]
	}
	return n, nil
}

// Write implements transport.Socket.
func (s *Socket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, api.ErrConnectionClosed
	}
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	if s.blocked {
		return 0, transport.ErrWouldBlock
	}
	if s.writeLimit > 0 && len(p) > s.writeLimit {
		p = p[:s.writeLimit]
	}
	s.out = append(s.out, p...)
	return len(p), nil
}

// Close implements transport.Socket.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return api.ErrConnectionClosed
	}
	s.closed = true
	return nil
}

// Fd implements transport.Socket. Fake sockets have no descriptor.
func (s *Socket) Fd() int { return s.fd }

// Written returns a copy of everything written so far.
func (s *Socket) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.out...)
}

// TakeWritten returns and clears the captured output.
func (s *Socket) TakeWritten() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.out
	s.out = nil
	return out
}

// Closed reports whether Close was called.
func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
