// File: connection/websocket.go
// Author: momentics <momentics@gmail.com>
//
// WebSocket extension of a connection: upgrade transition, frame reading
// and message reassembly, and the outbound frame queue.

package connection

import (
	"errors"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-app/api"
	"github.com/momentics/hioload-app/protocol"
	"github.com/momentics/hioload-app/transport"
	"golang.org/x/time/rate"
)

var (
	// ErrMessageTooBig is returned when a frame or a reassembled message
	// exceeds Options.MaxMessageSize.
	ErrMessageTooBig = errors.New("websocket: message too big")
	// ErrUnexpectedContinuation covers continuation frames outside a
	// fragmented message and data frames inside one.
	ErrUnexpectedContinuation = errors.New("websocket: unexpected continuation state")
)

type pendingUpgrade struct {
	endpoint int
	params   []api.Param
}

// WsData is the state an upgraded connection carries.
type WsData struct {
	Endpoint int
	Params   []api.Param
	// State is the value returned by the join handler.
	State any
	// Subscriptions lists topic indices the connection is subscribed to.
	Subscriptions []int
	// CloseSent is set once a close frame has been queued.
	CloseSent bool

	queue    *queue.Queue
	frontPos int
	limiter  *rate.Limiter

	fragment    []byte
	fragmentOp  protocol.Opcode
	fragmenting bool
}

func (w *WsData) drop() {
	for w.queue.Length() > 0 {
		w.queue.Remove()
	}
	w.frontPos = 0
	w.fragment = nil
}

// PrepareUpgrade queues the 101 response and remembers the endpoint the
// connection joins once the response is flushed.
func (c *Connection) PrepareUpgrade(endpoint int, params []api.Param, accept string) {
	c.upgrade = &pendingUpgrade{endpoint: endpoint, params: params}
	c.SetRaw(protocol.AppendUpgradeResponse(c.wbuf[:0], accept))
}

// UpgradePending reports whether a 101 response is queued or was just flushed.
func (c *Connection) UpgradePending() bool { return c.upgrade != nil }

// UpgradeToWebSocket switches a connection whose 101 response has been
// flushed into WebSocket mode. Bytes the client sent after the request
// head are kept as the start of the frame stream.
func (c *Connection) UpgradeToWebSocket() *WsData {
	up := c.upgrade
	if up == nil {
		return c.ws
	}
	consumed := c.req.headerLen + c.req.contentLength
	if consumed > len(c.rbuf) {
		consumed = len(c.rbuf)
	}
	rest := copy(c.rbuf, c.rbuf[consumed:])
	c.rbuf = c.rbuf[:rest]
	c.rpos = 0
	c.req.reset()
	c.wbuf = c.wbuf[:0]
	c.wpos = 0
	c.upgrade = nil

	ws := &WsData{
		Endpoint: up.endpoint,
		Params:   up.params,
		queue:    queue.New(),
	}
	if c.opts.MessagesPerSecond > 0 {
		burst := c.opts.Burst
		if burst <= 0 {
			burst = int(c.opts.MessagesPerSecond)
			if burst < 1 {
				burst = 1
			}
		}
		ws.limiter = rate.NewLimiter(rate.Limit(c.opts.MessagesPerSecond), burst)
	}
	c.ws = ws
	c.state = StateReading
	return ws
}

// WebSocket returns the WebSocket state, or nil for HTTP connections.
func (c *Connection) WebSocket() *WsData { return c.ws }

// IsWebSocket reports whether the connection has been upgraded.
func (c *Connection) IsWebSocket() bool { return c.ws != nil }

func (c *Connection) maxMessage() int {
	if c.opts.MaxMessageSize > 0 {
		return c.opts.MaxMessageSize
	}
	return protocol.MaxFramePayload
}

// ReadAvailable reads frame bytes until the socket would block or the
// buffer holds more than one maximal frame. EOF and errors close the
// connection; only unexpected errors are returned.
func (c *Connection) ReadAvailable() error {
	if c.state == StateClosed {
		return nil
	}
	limit := c.maxMessage() + protocol.MaxFrameHeaderLen
	for len(c.rbuf)-c.rpos < limit {
		if _, err := c.fill(); err != nil {
			return c.readErr(err)
		}
	}
	return nil
}

// NextFrame returns the next complete frame in the read buffer with its
// payload unmasked in place. The payload aliases the buffer and is valid
// until CompactRead.
func (c *Connection) NextFrame() (protocol.FrameHeader, []byte, bool, error) {
	h, ok, err := protocol.TryParseFrame(c.rbuf[c.rpos:], c.maxMessage())
	if err != nil || !ok {
		return h, nil, false, err
	}
	frame := c.rbuf[c.rpos : c.rpos+h.Total]
	payload := h.Payload(frame)
	if h.Masked {
		protocol.UnmaskInPlace(payload, h.Mask)
	}
	c.rpos += h.Total
	return h, payload, true, nil
}

// CompactRead discards consumed frame bytes.
func (c *Connection) CompactRead() {
	if c.rpos == 0 {
		return
	}
	rest := copy(c.rbuf, c.rbuf[c.rpos:])
	c.rbuf = c.rbuf[:rest]
	c.rpos = 0
}

// Assemble feeds one data frame into message reassembly. It returns the
// complete message and its opcode once the final fragment arrives. The
// returned slice is valid until the next call.
func (c *Connection) Assemble(h protocol.FrameHeader, payload []byte) ([]byte, protocol.Opcode, bool, error) {
	ws := c.ws
	switch h.Opcode {
	case protocol.OpcodeContinuation:
		if !ws.fragmenting {
			return nil, 0, false, ErrUnexpectedContinuation
		}
		if len(ws.fragment)+len(payload) > c.maxMessage() {
			return nil, 0, false, ErrMessageTooBig
		}
		ws.fragment = append(ws.fragment, payload...)
		if !h.Fin {
			return nil, 0, false, nil
		}
		ws.fragmenting = false
		return ws.fragment, ws.fragmentOp, true, nil
	case protocol.OpcodeText, protocol.OpcodeBinary:
		if ws.fragmenting {
			return nil, 0, false, ErrUnexpectedContinuation
		}
		if h.Fin {
			return payload, h.Opcode, true, nil
		}
		ws.fragmenting = true
		ws.fragmentOp = h.Opcode
		ws.fragment = append(ws.fragment[:0], payload...)
		return nil, 0, false, nil
	}
	return nil, 0, false, ErrUnexpectedContinuation
}

// AllowMessage consumes one token from the rate limiter, if any.
func (c *Connection) AllowMessage() bool {
	if c.ws == nil || c.ws.limiter == nil {
		return true
	}
	return c.ws.limiter.Allow()
}

// QueueFrame appends an encoded frame to the outbound queue. The frame may
// be shared with other connections and must not be modified. Frames queued
// after a close frame are dropped.
func (c *Connection) QueueFrame(frame []byte) bool {
	if c.ws == nil || c.ws.CloseSent || c.state == StateClosed {
		return false
	}
	c.ws.queue.Add(frame)
	return true
}

// QueueClose queues a close frame once; later frames are refused.
func (c *Connection) QueueClose(code uint16, reason string) {
	if c.ws == nil || c.ws.CloseSent {
		return
	}
	c.ws.queue.Add(protocol.AppendCloseFrame(nil, code, reason))
	c.ws.CloseSent = true
}

// PendingFrames returns the number of queued frames.
func (c *Connection) PendingFrames() int {
	if c.ws == nil {
		return 0
	}
	return c.ws.queue.Length()
}

// TryWriteFrames writes queued frames in order until the socket would
// block. It reports true once the queue is empty.
func (c *Connection) TryWriteFrames() (bool, error) {
	ws := c.ws
	if ws == nil {
		return true, nil
	}
	for ws.queue.Length() > 0 {
		front := ws.queue.Peek().([]byte)
		for ws.frontPos < len(front) {
			n, err := c.sock.Write(front[ws.frontPos:])
			if err != nil {
				if errors.Is(err, transport.ErrWouldBlock) {
					return false, nil
				}
				c.state = StateClosed
				return false, err
			}
			ws.frontPos += n
		}
		ws.queue.Remove()
		ws.frontPos = 0
	}
	return true, nil
}
