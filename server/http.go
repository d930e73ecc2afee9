// File: server/http.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HTTP request dispatch: upgrade detection, docs page, CORS preflight,
// route resolution, middleware and handler invocation.

package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/momentics/hioload-app/api"
	"github.com/momentics/hioload-app/connection"
	"github.com/momentics/hioload-app/protocol"
	"github.com/momentics/hioload-app/response"
	"github.com/momentics/hioload-app/router"
	"go.uber.org/zap"
)

const docsPath = "/docs"

// dispatchHTTP answers the request buffered on c. The response is left in
// the write buffer.
func (s *Server) dispatchHTTP(c *connection.Connection) {
	start := time.Now()
	method, path := c.Method(), c.Path()

	switch {
	case c.Malformed():
		c.SetCloseAfterWrite()
		s.reply(c, start, method, path, response.Encode(api.StatusMessage{Status: 400, Message: "Bad Request"}), false)
		return
	case c.TooLarge():
		c.SetCloseAfterWrite()
		s.reply(c, start, method, path, response.Encode(api.StatusMessage{Status: 413, Message: "Payload Too Large"}), false)
		return
	}

	if s.router.HasWebSocketRoutes() && protocol.IsUpgradeRequest(c) {
		if ep, params, ok := s.router.MatchWs(path); ok {
			s.handshake(c, start, method, path, ep, params)
			return
		}
	}

	if s.cfg.Server.Docs && len(s.openAPI) > 0 && path == docsPath &&
		(method == router.MethodGet || method == router.MethodHead) {
		s.reply(c, start, method, path, api.Response{
			Status:      200,
			ContentType: api.ContentTypeHTML,
			Body:        docsPage(s.openAPI),
		}, method == router.MethodHead)
		return
	}

	cors := s.cfg.CORS.Enabled()
	if cors && method == router.MethodOptions &&
		c.Header("Origin") != "" && c.Header("Access-Control-Request-Method") != "" {
		resp := api.Response{Status: 204}
		s.addCORS(&resp)
		s.reply(c, start, method, path, resp, false)
		return
	}

	m := s.router.Match(method, path)
	var resp api.Response
	switch m.Kind {
	case router.Found:
		ctx := api.NewRequestContext(method, path, c.RawQuery(), c.Headers(), m.Params, c.Body())
		ctx.ConnID = c.ID
		ctx.IsHead = m.IsHead
		resp = s.invokeRoute(ctx, m.Route)
	case router.MethodNotAllowed:
		allow := api.Header{Name: "Allow", Value: router.AllowHeader(m.Allowed)}
		if method == router.MethodOptions {
			resp = api.Response{Status: 204, Headers: []api.Header{allow}}
		} else {
			resp = response.Encode(api.StatusMessage{Status: 405, Message: "Method Not Allowed"})
			resp.Headers = append(resp.Headers, allow)
		}
	default:
		resp = response.Encode(api.StatusMessage{Status: 404, Message: "Route not found"})
	}
	if cors {
		s.addCORS(&resp)
	}
	s.reply(c, start, method, path, resp, m.IsHead || method == router.MethodHead)
}

// invokeRoute runs before middleware, the handler and after middleware.
// A before handler returning a value answers the request in place of the
// route handler; an after handler returning a value replaces the result.
func (s *Server) invokeRoute(ctx *api.RequestContext, route *router.Route) (resp api.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic",
				zap.String("conn", ctx.ConnID),
				zap.String("path", ctx.Path),
				zap.Any("panic", r))
			resp = response.Failure(fmt.Errorf("handler panic: %v", r))
		}
	}()

	for _, mw := range route.Middleware.Before {
		v, err := s.rt.Invoke(mw.Ref, ctx)
		if err != nil {
			return s.handlerFailure(ctx, mw.Name, err)
		}
		if v != nil {
			return response.Encode(v)
		}
	}

	v, err := s.rt.Invoke(route.Handler, ctx)
	if err != nil {
		return s.handlerFailure(ctx, route.Pattern, err)
	}

	for _, mw := range route.Middleware.After {
		out, err := s.rt.Invoke(mw.Ref, ctx, v)
		if err != nil {
			return s.handlerFailure(ctx, mw.Name, err)
		}
		if out != nil {
			v = out
		}
	}
	return response.Encode(v)
}

func (s *Server) handlerFailure(ctx *api.RequestContext, name string, err error) api.Response {
	s.logger.Warn("handler failed",
		zap.String("conn", ctx.ConnID),
		zap.String("handler", name),
		zap.Error(err))
	return response.Failure(err)
}

// handshake validates an upgrade request for endpoint ep. Failures are
// answered with the handshake status and the connection stays HTTP.
func (s *Server) handshake(c *connection.Connection, start time.Time, method, path string, ep int, params []api.Param) {
	key, err := protocol.ValidateUpgrade(c)
	if err != nil {
		var he *protocol.HandshakeError
		if !errors.As(err, &he) {
			s.reply(c, start, method, path, response.Failure(err), false)
			return
		}
		s.reply(c, start, method, path, response.Encode(api.StatusMessage{Status: he.Status(), Message: he.Message()}), false)
		return
	}
	c.PrepareUpgrade(ep, params, protocol.ComputeAcceptKey(key))
	s.logRequest(c, start, method, path, 101)
}

func (s *Server) addCORS(resp *api.Response) {
	cfg := s.cfg.CORS
	resp.Headers = append(resp.Headers,
		api.Header{Name: "Access-Control-Allow-Origin", Value: cfg.Origin},
		api.Header{Name: "Access-Control-Allow-Methods", Value: cfg.Methods},
		api.Header{Name: "Access-Control-Allow-Headers", Value: cfg.Headers},
	)
	if cfg.Credentials {
		resp.Headers = append(resp.Headers, api.Header{Name: "Access-Control-Allow-Credentials", Value: "true"})
	}
}

// reply frames resp on c and logs the request.
func (s *Server) reply(c *connection.Connection, start time.Time, method, path string, resp api.Response, omitBody bool) {
	if resp.Status == 0 {
		resp.Status = 200
	}
	c.WriteResponse(resp.Status, resp.ContentType, resp.Body, resp.Headers, omitBody)
	s.logRequest(c, start, method, path, resp.Status)
}

func (s *Server) logRequest(c *connection.Connection, start time.Time, method, path string, status int) {
	s.metrics.RecordRequest(status)
	fields := []zap.Field{
		zap.String("conn", c.ID),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("elapsed", time.Since(start)),
	}
	if status < 400 {
		s.logger.Info("request", fields...)
	} else {
		s.logger.Warn("request", fields...)
	}
}
