// File: server/websocket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebSocket side of the loop: upgrade completion, frame handling, event
// dispatch to endpoint handlers and the frame delivery path used by the
// pub/sub manager.

package server

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/momentics/hioload-app/api"
	"github.com/momentics/hioload-app/connection"
	"github.com/momentics/hioload-app/protocol"
	"github.com/momentics/hioload-app/reactor"
	"go.uber.org/zap"
)

const (
	defaultEvent = "message"
	binaryEvent  = "binary"
)

// deliver queues a shared frame on connection idx. Writes happen in
// flushDirty once the current handler returns.
func (s *Server) deliver(idx int, frame []byte) bool {
	c := s.conn(idx)
	if c == nil || !c.QueueFrame(frame) {
		return false
	}
	s.markDirty(idx)
	return true
}

// completeUpgrade runs once the 101 response is flushed: the connection
// joins its endpoint, the join handler runs, and frames the client sent
// early are processed.
func (s *Server) completeUpgrade(c *connection.Connection) {
	ws := c.UpgradeToWebSocket()
	s.pubsub.AddConnection(ws.Endpoint, c.Index)
	s.logger.Debug("websocket connected",
		zap.String("conn", c.ID),
		zap.String("endpoint", s.pubsub.Endpoint(ws.Endpoint).Pattern))

	if join := s.pubsub.Endpoint(ws.Endpoint).Join; join.Valid() {
		state, err := s.invokeWs(c, join, s.wsContext(c))
		if err != nil {
			s.logger.Warn("websocket join failed", zap.String("conn", c.ID), zap.Error(err))
			c.QueueClose(protocol.CloseInternalServerErr, "join failed")
		} else {
			ws.State = state
		}
	}
	if !ws.CloseSent {
		s.processFrames(c)
	}
	s.flushWs(c)
}

func (s *Server) serviceWs(c *connection.Connection, ev reactor.Event) {
	if ev.Writable && c.PendingFrames() > 0 {
		if !s.flushWs(c) {
			return
		}
	}
	if !ev.Readable && !ev.Hangup {
		return
	}
	if err := c.ReadAvailable(); err != nil {
		s.logger.Debug("websocket read failed", zap.String("conn", c.ID), zap.Error(err))
		s.closeConn(c)
		return
	}
	eof := c.State() == connection.StateClosed
	s.processFrames(c)
	if eof {
		s.closeConn(c)
		return
	}
	s.flushWs(c)
}

// flushWs writes queued frames. A connection whose close frame has been
// written is closed. It reports whether the connection is still open.
func (s *Server) flushWs(c *connection.Connection) bool {
	if c.State() == connection.StateClosed {
		s.closeConn(c)
		return false
	}
	ws := c.WebSocket()
	if ws == nil {
		return true
	}
	drained, err := c.TryWriteFrames()
	if err != nil || c.State() == connection.StateClosed {
		if err != nil {
			s.logger.Debug("websocket write failed", zap.String("conn", c.ID), zap.Error(err))
		}
		s.closeConn(c)
		return false
	}
	if drained && ws.CloseSent {
		s.closeConn(c)
		return false
	}
	s.updateInterest(c)
	return true
}

// processFrames handles every complete frame in the read buffer. Nothing
// after a close frame is read.
func (s *Server) processFrames(c *connection.Connection) {
	defer c.CompactRead()
	ws := c.WebSocket()
	for !ws.CloseSent {
		h, payload, ok, err := c.NextFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				s.failWs(c, protocol.CloseMessageTooBig, "message too big")
			} else {
				s.failWs(c, protocol.CloseProtocolError, err.Error())
			}
			return
		}
		if !ok {
			return
		}
		if !h.Masked {
			s.failWs(c, protocol.CloseProtocolError, "client frames must be masked")
			return
		}
		switch h.Opcode {
		case protocol.OpcodePing:
			if c.QueueFrame(protocol.AppendPongFrame(nil, payload)) {
				s.markDirty(c.Index)
			}
		case protocol.OpcodePong:
		case protocol.OpcodeClose:
			code, _ := protocol.ParseClosePayload(payload)
			if code == protocol.CloseNoStatusRcvd {
				code = 0
			}
			c.QueueClose(code, "")
			s.markDirty(c.Index)
			return
		default:
			msg, op, done, err := c.Assemble(h, payload)
			if err != nil {
				if errors.Is(err, connection.ErrMessageTooBig) {
					s.failWs(c, protocol.CloseMessageTooBig, "message too big")
				} else {
					s.failWs(c, protocol.CloseProtocolError, err.Error())
				}
				return
			}
			if !done {
				continue
			}
			if !c.AllowMessage() {
				s.failWs(c, protocol.ClosePolicyViolation, "rate limit exceeded")
				return
			}
			s.metrics.RecordWsMessage()
			if op == protocol.OpcodeText && !utf8.Valid(msg) {
				s.failWs(c, protocol.CloseInvalidPayloadData, "invalid utf-8")
				return
			}
			s.dispatchMessage(c, op, msg)
		}
	}
}

func (s *Server) failWs(c *connection.Connection, code uint16, reason string) {
	s.logger.Debug("closing websocket",
		zap.String("conn", c.ID),
		zap.Uint16("code", code),
		zap.String("reason", reason))
	c.QueueClose(code, reason)
	s.markDirty(c.Index)
}

// dispatchMessage routes a complete message to the endpoint handler.
// Text is decoded as JSON and dispatched by its "type" field, which is
// removed from the message; text that is not JSON is passed as a string
// to the default handler. Binary messages go to the "binary" handler.
func (s *Server) dispatchMessage(c *connection.Connection, op protocol.Opcode, data []byte) {
	ws := c.WebSocket()
	ep := s.pubsub.Endpoint(ws.Endpoint)

	var (
		msg   any
		event = defaultEvent
	)
	if op == protocol.OpcodeBinary {
		event = binaryEvent
		msg = bytes.Clone(data)
	} else {
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			msg = string(data)
		} else {
			if obj, ok := decoded.(map[string]any); ok {
				if t, ok := obj["type"].(string); ok {
					event = t
					delete(obj, "type")
				}
			}
			msg = decoded
		}
	}

	ref, ok := ep.Handler(event)
	if !ok && op == protocol.OpcodeText {
		ref, ok = ep.Handler(defaultEvent)
	}
	if !ok {
		s.logger.Debug("no websocket handler", zap.String("conn", c.ID), zap.String("event", event))
		return
	}
	state, err := s.invokeWs(c, ref, msg, s.wsContext(c), ws.State)
	if err != nil {
		s.logger.Warn("websocket handler failed",
			zap.String("conn", c.ID),
			zap.String("event", event),
			zap.Error(err))
		return
	}
	if state != nil {
		ws.State = state
	}
}

// leave runs the leave handler and drops endpoint and topic membership.
// The connection is already closed, so deliveries from the handler reach
// only the remaining clients.
func (s *Server) leave(c *connection.Connection) {
	ws := c.WebSocket()
	if ref := s.pubsub.Endpoint(ws.Endpoint).Leave; ref.Valid() {
		if _, err := s.invokeWs(c, ref, s.wsContext(c), ws.State); err != nil {
			s.logger.Warn("websocket leave failed", zap.String("conn", c.ID), zap.Error(err))
		}
	}
	s.pubsub.RemoveConnection(ws.Endpoint, c.Index)
	s.pubsub.UnsubscribeAll(c.Index, ws.Subscriptions)
	ws.Subscriptions = nil
	s.logger.Debug("websocket disconnected", zap.String("conn", c.ID))
}

// invokeWs calls a WebSocket handler with c as the current connection.
func (s *Server) invokeWs(c *connection.Connection, ref api.HandlerRef, args ...any) (out any, err error) {
	prevConn, prevEp := s.pubsub.Current()
	s.pubsub.SetContext(c.Index, c.WebSocket().Endpoint)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		s.pubsub.SetContext(prevConn, prevEp)
	}()
	return s.rt.Invoke(ref, args...)
}

// wsCtx is the api.WsContext handed to handlers. Delivery addresses the
// connection it was built for.
type wsCtx struct {
	s *Server
	c *connection.Connection
}

func (s *Server) wsContext(c *connection.Connection) *wsCtx { return &wsCtx{s: s, c: c} }

func (w *wsCtx) ConnID() string { return w.c.ID }

func (w *wsCtx) Params() map[string]string {
	params := w.c.WebSocket().Params
	out := make(map[string]string, len(params))
	for _, p := range params {
		out[p.Name] = p.Value
	}
	return out
}

// scoped runs fn with this connection as the pub/sub current connection.
func (w *wsCtx) scoped(fn func() (int, error)) error {
	m := w.s.pubsub
	prevConn, prevEp := m.Current()
	m.SetContext(w.c.Index, w.c.WebSocket().Endpoint)
	defer m.SetContext(prevConn, prevEp)
	_, err := fn()
	return err
}

func (w *wsCtx) Send(event string, data any) error {
	return w.scoped(func() (int, error) { return w.s.pubsub.SendToCurrent(event, data) })
}

func (w *wsCtx) Broadcast(event string, data any) error {
	return w.scoped(func() (int, error) { return w.s.pubsub.BroadcastAll(event, data) })
}

func (w *wsCtx) Except(event string, data any) error {
	return w.scoped(func() (int, error) { return w.s.pubsub.BroadcastExcept(event, data) })
}

func (w *wsCtx) Publish(topic, event string, data any) error {
	_, err := w.s.pubsub.BroadcastTopic(topic, event, data)
	return err
}

func (w *wsCtx) Listen(topic string) {
	if w.c.State() == connection.StateClosed {
		return
	}
	ws := w.c.WebSocket()
	if idx, added := w.s.pubsub.Subscribe(w.c.Index, topic); added {
		ws.Subscriptions = append(ws.Subscriptions, idx)
	}
}

func (w *wsCtx) Unlisten(topic string) {
	idx, ok := w.s.pubsub.TopicIndex(topic)
	if !ok {
		return
	}
	ws := w.c.WebSocket()
	for i, t := range ws.Subscriptions {
		if t == idx {
			ws.Subscriptions = append(ws.Subscriptions[:i], ws.Subscriptions[i+1:]...)
			w.s.pubsub.Unsubscribe(w.c.Index, idx)
			return
		}
	}
}

func (w *wsCtx) Reject(code uint16, reason string) {
	if code == 0 {
		code = protocol.ClosePolicyViolation
	}
	w.c.QueueClose(code, reason)
	if w.s.conn(w.c.Index) == w.c {
		w.s.markDirty(w.c.Index)
	}
}
