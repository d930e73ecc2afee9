// File: server/server.go
// Package server runs the event loop: a single goroutine owns the
// listener, every connection, the router and the pub/sub manager.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-app/affinity"
	"github.com/momentics/hioload-app/api"
	"github.com/momentics/hioload-app/connection"
	"github.com/momentics/hioload-app/control"
	"github.com/momentics/hioload-app/middleware"
	"github.com/momentics/hioload-app/pubsub"
	"github.com/momentics/hioload-app/reactor"
	"github.com/momentics/hioload-app/router"
	"github.com/momentics/hioload-app/transport"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	listenerToken     int32 = -1
	defaultEventBatch       = 256
)

// slot is one entry of the connection table.
type slot struct {
	conn     *connection.Connection
	interest reactor.Interest
	dirty    bool
}

// Server is one event loop. Multi-core deployments run one Server per
// core; nothing is shared between them.
type Server struct {
	cfg    *control.Config
	logger *zap.Logger
	rt     api.Runtime

	router   *router.Router
	pubsub   *pubsub.Manager
	openAPI  []byte
	connOpts connection.Options

	slots  []slot
	free   []int
	active int
	dirty  []int

	poller   reactor.Reactor
	listener *transport.Listener

	meterProvider metric.MeterProvider
	metrics       *control.LoopMetrics
	eventBatch    int

	running atomic.Bool
	ready   chan struct{}
	addrMu  sync.RWMutex
	addr    string
}

// New builds a server from the configuration, the registered routes and
// the runtime that executes handlers. Global middleware is merged into
// every route here so dispatch never allocates a chain.
func New(cfg *control.Config, table RouteTable, rt api.Runtime, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	if rt == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "runtime is required")
	}
	s := &Server{
		cfg:        cfg,
		logger:     zap.NewNop(),
		rt:         rt,
		openAPI:    table.OpenAPI,
		eventBatch: defaultEventBatch,
		ready:      make(chan struct{}),
		connOpts: connection.Options{
			BodyLimit:         cfg.Server.BodyLimit,
			MaxMessageSize:    cfg.WebSocket.MaxMessageSize,
			MessagesPerSecond: cfg.WebSocket.MessagesPerSecond,
			Burst:             cfg.WebSocket.Burst,
		},
	}
	for _, o := range opts {
		o(s)
	}

	routes := make([]router.Route, len(table.Routes))
	for i, r := range table.Routes {
		r.Middleware = middleware.Merge(table.Global, r.Middleware)
		routes[i] = r
	}

	s.pubsub = pubsub.NewManager(pubsub.DelivererFunc(s.deliver))
	wsRoutes := make([]router.WsRoute, 0, len(table.WsRoutes))
	for _, w := range table.WsRoutes {
		ep := w.Endpoint
		ep.Pattern = w.Pattern
		wsRoutes = append(wsRoutes, router.WsRoute{
			Pattern:  w.Pattern,
			Endpoint: s.pubsub.RegisterEndpoint(ep),
		})
	}

	var err error
	if s.router, err = router.New(routes, wsRoutes, s.logger.Named("router")); err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}
	if s.metrics, err = control.NewLoopMetrics(s.meterProvider, s.logger.Named("metrics"), cfg.Metrics.Interval); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return s, nil
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound listener address, empty before Ready.
func (s *Server) Addr() string {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// Metrics returns the loop metrics snapshot registry.
func (s *Server) Metrics() *control.MetricsRegistry { return s.metrics.Registry() }

// PubSub returns the pub/sub manager. It must only be used from handlers
// running on the loop.
func (s *Server) PubSub() *pubsub.Manager { return s.pubsub }

// Run binds the listener and runs the loop until ctx is cancelled. The
// calling goroutine is locked to its OS thread and optionally pinned.
// Only setup failures are returned; per-connection errors never are.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if cpu := s.cfg.Server.CPU; cpu >= 0 {
		if err := affinity.SetAffinity(cpu); err != nil {
			s.logger.Warn("cpu pinning failed", zap.Int("cpu", cpu), zap.Error(err))
		}
	}

	ln, err := transport.Listen(s.cfg.Server.Host, s.cfg.Server.Port, s.cfg.Server.Backlog)
	if err != nil {
		if transport.IsAddrInUse(err) {
			return fmt.Errorf("%w: %s is taken by another process; stop it or choose another port", ErrPortInUse, s.cfg.Server.Address())
		}
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.Address(), err)
	}
	poller, err := reactor.New()
	if err != nil {
		ln.Close()
		return fmt.Errorf("create reactor: %w", err)
	}
	if err := poller.Add(ln.Fd(), listenerToken, reactor.Readable); err != nil {
		poller.Close()
		ln.Close()
		return fmt.Errorf("register listener: %w", err)
	}
	s.listener, s.poller = ln, poller
	defer s.shutdown()

	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()
	close(s.ready)
	s.logger.Info("listening", zap.String("addr", ln.Addr()))

	events := make([]reactor.Event, s.eventBatch)
	timeout := s.cfg.Server.PollTimeout
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		start := time.Now()
		n, err := poller.Wait(events, timeout)
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		s.metrics.RecordPoll(time.Since(start), n)
		for _, ev := range events[:n] {
			if ev.Token == listenerToken {
				s.acceptAll()
				continue
			}
			s.service(int(ev.Token), ev)
		}
		s.flushDirty()
		s.metrics.MaybeEmit(time.Now())
	}
}

// shutdown closes every connection, running leave handlers for
// WebSocket ones, then the listener and poller.
func (s *Server) shutdown() {
	for i := range s.slots {
		if c := s.slots[i].conn; c != nil {
			s.closeConn(c)
		}
	}
	if s.listener != nil {
		s.listener.Close()
	}
	if s.poller != nil {
		s.poller.Close()
	}
	s.logger.Info("server stopped")
}

func (s *Server) acceptAll() {
	for {
		sock, addr, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, transport.ErrWouldBlock) {
				s.logger.Warn("accept failed", zap.Error(err))
			}
			return
		}
		if limit := s.cfg.Server.MaxConnections; limit > 0 && s.active >= limit {
			s.logger.Warn("connection limit reached, dropping client",
				zap.String("remote", addr), zap.Int("limit", limit))
			sock.Close()
			continue
		}
		s.attach(sock, addr)
	}
}

// attach places a socket in the connection table and registers it for
// readability.
func (s *Server) attach(sock transport.Socket, addr string) *connection.Connection {
	var idx int
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		idx = len(s.slots)
		s.slots = append(s.slots, slot{})
	}
	c := connection.New(sock, idx, s.connOpts)
	c.RemoteAddr = addr
	s.slots[idx] = slot{conn: c, interest: reactor.Readable}
	if s.poller != nil {
		if err := s.poller.Add(sock.Fd(), int32(idx), reactor.Readable); err != nil {
			s.logger.Warn("register connection failed", zap.Error(err))
			s.slots[idx] = slot{}
			s.free = append(s.free, idx)
			sock.Close()
			return nil
		}
	}
	s.active++
	s.metrics.ConnOpened()
	s.logger.Debug("connection opened", zap.String("conn", c.ID), zap.String("remote", addr))
	return c
}

func (s *Server) conn(idx int) *connection.Connection {
	if idx < 0 || idx >= len(s.slots) {
		return nil
	}
	return s.slots[idx].conn
}

// service handles one readiness event for a connection.
func (s *Server) service(idx int, ev reactor.Event) {
	c := s.conn(idx)
	if c == nil {
		return
	}
	if c.IsWebSocket() {
		s.serviceWs(c, ev)
		return
	}
	switch c.State() {
	case connection.StateReading:
		if ev.Readable || ev.Hangup {
			s.readHTTP(c)
			return
		}
	case connection.StateWriting:
		if ev.Writable {
			if s.writeHTTP(c) {
				s.readHTTP(c)
			}
			return
		}
		if ev.Hangup {
			s.closeConn(c)
			return
		}
	case connection.StateClosed:
		s.closeConn(c)
	}
}

// readHTTP serves every complete request buffered on c, pipelined ones
// included, until more input is needed or a response is pending.
func (s *Server) readHTTP(c *connection.Connection) {
	for {
		ready, err := c.TryRead()
		if err != nil {
			s.logger.Debug("read failed", zap.String("conn", c.ID), zap.Error(err))
			s.closeConn(c)
			return
		}
		if !ready {
			if c.State() == connection.StateClosed {
				s.closeConn(c)
				return
			}
			s.updateInterest(c)
			return
		}
		s.dispatchHTTP(c)
		if !s.writeHTTP(c) {
			return
		}
	}
}

// writeHTTP flushes the response. It reports true when the connection is
// back in the reading state and may hold another request.
func (s *Server) writeHTTP(c *connection.Connection) bool {
	done, err := c.TryWrite()
	if err != nil {
		s.logger.Debug("write failed", zap.String("conn", c.ID), zap.Error(err))
		s.closeConn(c)
		return false
	}
	if !done {
		s.updateInterest(c)
		return false
	}
	if c.UpgradePending() {
		s.completeUpgrade(c)
		return false
	}
	if !c.FinishWrite() {
		s.closeConn(c)
		return false
	}
	s.updateInterest(c)
	return true
}

func (s *Server) updateInterest(c *connection.Connection) {
	sl := &s.slots[c.Index]
	in := c.Interest()
	if in == sl.interest {
		return
	}
	if s.poller != nil && c.Socket() != nil {
		if err := s.poller.Modify(c.Socket().Fd(), int32(c.Index), in); err != nil {
			s.logger.Debug("update interest failed", zap.String("conn", c.ID), zap.Error(err))
		}
	}
	sl.interest = in
}

// closeConn releases the slot. WebSocket connections leave their endpoint
// and topics after the socket is closed so nothing is queued to them.
func (s *Server) closeConn(c *connection.Connection) {
	idx := c.Index
	if s.conn(idx) != c {
		return
	}
	if s.poller != nil && c.Socket() != nil {
		s.poller.Remove(c.Socket().Fd())
	}
	if err := c.Close(); err != nil {
		s.logger.Debug("close failed", zap.String("conn", c.ID), zap.Error(err))
	}
	if c.IsWebSocket() {
		s.leave(c)
	}
	s.slots[idx] = slot{}
	s.free = append(s.free, idx)
	s.active--
	s.metrics.ConnClosed()
	s.logger.Debug("connection closed", zap.String("conn", c.ID))
}

// flushDirty writes frames queued by handlers during this iteration.
// Closing a connection may run a leave handler that marks more slots,
// so the list is walked by index. A slot may also be released and handed
// to a newly accepted connection before the flush.
func (s *Server) flushDirty() {
	for i := 0; i < len(s.dirty); i++ {
		sl := &s.slots[s.dirty[i]]
		// closeConn clears the flag, so a stale entry for a reused slot is skipped
		if !sl.dirty {
			continue
		}
		sl.dirty = false
		if c := sl.conn; c != nil && c.IsWebSocket() {
			s.flushWs(c)
		}
	}
	s.dirty = s.dirty[:0]
}

func (s *Server) markDirty(idx int) {
	sl := &s.slots[idx]
	if !sl.dirty {
		sl.dirty = true
		s.dirty = append(s.dirty, idx)
	}
}
