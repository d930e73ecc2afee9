// File: connection/connection.go
// Author: momentics <momentics@gmail.com>
//
// Per-socket state machine owned by the event loop: read buffer and
// request parser, response write buffer, and the WebSocket extension
// attached after an upgrade.

package connection

import (
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/momentics/hioload-app/reactor"
	"github.com/momentics/hioload-app/transport"
)

// State is the connection lifecycle tag.
type State uint8

const (
	StateReading State = iota
	StateWriting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateWriting:
		return "writing"
	default:
		return "closed"
	}
}

const (
	initialReadBuf = 4096
	// retained write buffers above this size are released on Reset
	maxRetainedWriteBuf = 1 << 20
)

// Options tune per-connection limits.
type Options struct {
	// BodyLimit rejects requests whose Content-Length exceeds it. Zero disables.
	BodyLimit int64
	// MaxMessageSize bounds WebSocket frames and reassembled messages.
	MaxMessageSize int
	// MessagesPerSecond and Burst configure the WebSocket rate limiter.
	// Zero MessagesPerSecond disables limiting.
	MessagesPerSecond float64
	Burst             int
}

// Connection is a single client socket. Not safe for concurrent use.
type Connection struct {
	ID         string
	Index      int
	RemoteAddr string

	sock  transport.Socket
	state State
	opts  Options

	rbuf []byte
	rpos int
	req  request

	wbuf            []byte
	wpos            int
	closeAfterWrite bool

	upgrade *pendingUpgrade
	ws      *WsData
}

// New wraps sock. index is the slot in the owner's connection table.
func New(sock transport.Socket, index int, opts Options) *Connection {
	return &Connection{
		ID:    uuid.NewString(),
		Index: index,
		sock:  sock,
		opts:  opts,
		rbuf:  make([]byte, 0, initialReadBuf),
		req:   request{headers: make([]headerSpan, 0, 16)},
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State { return c.state }

// Socket returns the underlying socket.
func (c *Connection) Socket() transport.Socket { return c.sock }

// Interest derives the poll interest from the state alone.
func (c *Connection) Interest() reactor.Interest {
	switch c.state {
	case StateReading:
		if c.ws != nil && c.ws.queue.Length() > 0 {
			return reactor.Readable | reactor.Writable
		}
		return reactor.Readable
	case StateWriting:
		return reactor.Writable
	default:
		return reactor.None
	}
}

// fill performs one non-blocking read into the spare capacity of rbuf,
// growing it when full.
func (c *Connection) fill() (int, error) {
	if len(c.rbuf) == cap(c.rbuf) {
		grown := make([]byte, len(c.rbuf), 2*cap(c.rbuf)+initialReadBuf)
		copy(grown, c.rbuf)
		c.rbuf = grown
	}
	n, err := c.sock.Read(c.rbuf[len(c.rbuf):cap(c.rbuf)])
	if n > 0 {
		c.rbuf = c.rbuf[:len(c.rbuf)+n]
	}
	return n, err
}

// readErr classifies a read error: would-block is not an error, EOF closes
// quietly, anything else closes and is returned.
func (c *Connection) readErr(err error) error {
	if errors.Is(err, transport.ErrWouldBlock) {
		return nil
	}
	c.state = StateClosed
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// TryRead reads until the socket would block or a complete request is
// buffered. It reports true once the request (headers plus Content-Length
// body) is available. EOF and parse failures move the connection to
// StateClosed and report false.
func (c *Connection) TryRead() (bool, error) {
	if c.state != StateReading || c.ws != nil {
		return false, nil
	}
	for {
		if c.parse() {
			return true, nil
		}
		if c.state == StateClosed {
			return false, nil
		}
		if _, err := c.fill(); err != nil {
			return false, c.readErr(err)
		}
	}
}

// SetCloseAfterWrite forces the next response to carry Connection: close
// and the connection to close once it is flushed.
func (c *Connection) SetCloseAfterWrite() { c.closeAfterWrite = true }

// KeepAlive reports whether the connection survives the current response.
func (c *Connection) KeepAlive() bool { return c.req.keepAlive && !c.closeAfterWrite }

// TryWrite flushes the write buffer. It reports true once fully written.
func (c *Connection) TryWrite() (bool, error) {
	for c.wpos < len(c.wbuf) {
		n, err := c.sock.Write(c.wbuf[c.wpos:])
		if err != nil {
			if errors.Is(err, transport.ErrWouldBlock) {
				return false, nil
			}
			c.state = StateClosed
			return false, err
		}
		if n == 0 {
			c.state = StateClosed
			return false, io.ErrShortWrite
		}
		c.wpos += n
	}
	return true, nil
}

// FinishWrite completes a flushed response: the connection either closes
// or resets for the next keep-alive request. A pending upgrade leaves the
// state untouched for UpgradeToWebSocket. It reports whether the
// connection stays open.
func (c *Connection) FinishWrite() bool {
	if c.upgrade != nil {
		return true
	}
	if !c.KeepAlive() {
		c.state = StateClosed
		return false
	}
	c.Reset()
	return true
}

// Reset clears per-request state, keeping buffer allocations. Bytes read
// past the current request (pipelining) move to the front of the buffer.
func (c *Connection) Reset() {
	consumed := 0
	if c.req.parsed {
		consumed = c.req.headerLen + c.req.contentLength
		if consumed > len(c.rbuf) {
			consumed = len(c.rbuf)
		}
	}
	rest := copy(c.rbuf, c.rbuf[consumed:])
	c.rbuf = c.rbuf[:rest]
	c.rpos = 0
	c.req.reset()

	if cap(c.wbuf) > maxRetainedWriteBuf {
		c.wbuf = nil
	} else {
		c.wbuf = c.wbuf[:0]
	}
	c.wpos = 0
	c.closeAfterWrite = false
	c.upgrade = nil
	c.state = StateReading
}

// Close closes the socket and drops queued output. Safe to call twice.
func (c *Connection) Close() error {
	if c.ws != nil {
		c.ws.drop()
	}
	c.state = StateClosed
	if c.sock == nil {
		return nil
	}
	sock := c.sock
	c.sock = nil
	return sock.Close()
}
