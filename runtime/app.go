// File: runtime/app.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// App collects routes, middleware and WebSocket endpoints registered as Go
// functions and produces the route table and runtime the server consumes.

package runtime

import (
	"errors"
	"fmt"
	"strings"

	"github.com/momentics/hioload-app/api"
	"github.com/momentics/hioload-app/middleware"
	"github.com/momentics/hioload-app/pubsub"
	"github.com/momentics/hioload-app/router"
	"github.com/momentics/hioload-app/server"
)

// Middleware is a named before and/or after hook.
type Middleware struct {
	Name   string
	Before Handler
	After  AfterHandler
}

// RouteOption customizes one route registration.
type RouteOption func(a *App, r *router.Route)

// With attaches route-level middleware.
func With(mws ...Middleware) RouteOption {
	return func(a *App, r *router.Route) {
		a.appendChain(&r.Middleware, mws)
	}
}

// Options attaches middleware described by an options table with
// "before" and "after" entries, the form host scripts declare them in.
func Options(tbl *api.Table) RouteOption {
	return func(a *App, r *router.Route) {
		c, err := middleware.Extract(tbl)
		if err != nil {
			a.errs = append(a.errs, fmt.Errorf("%s %s: %w", r.Method, r.Pattern, err))
			return
		}
		r.Middleware.Before = append(r.Middleware.Before, c.Before...)
		r.Middleware.After = append(r.Middleware.After, c.After...)
	}
}

// App is the registration surface of a Go host.
type App struct {
	funcs   *FuncTable
	routes  []router.Route
	ws      []*Endpoint
	global  middleware.Chain
	openAPI []byte
	errs    []error
}

// New creates an empty application.
func New() *App {
	return &App{funcs: NewFuncTable()}
}

// Runtime returns the handler table backing the app.
func (a *App) Runtime() *FuncTable { return a.funcs }

// Handle registers h for method and pattern.
func (a *App) Handle(method, pattern string, h Handler, opts ...RouteOption) {
	if h == nil {
		a.errs = append(a.errs, fmt.Errorf("%s %s: %w", method, pattern, api.ErrInvalidArgument))
		return
	}
	r := router.Route{
		Method:  strings.ToUpper(method),
		Pattern: pattern,
		Handler: a.funcs.RegisterHandler(h),
	}
	for _, o := range opts {
		o(a, &r)
	}
	a.routes = append(a.routes, r)
}

// GET registers a handler for GET method on the specified pattern.
func (a *App) GET(pattern string, h Handler, opts ...RouteOption) {
	a.Handle(router.MethodGet, pattern, h, opts...)
}

// POST registers a handler for POST method on the specified pattern.
func (a *App) POST(pattern string, h Handler, opts ...RouteOption) {
	a.Handle(router.MethodPost, pattern, h, opts...)
}

// PUT registers a handler for PUT method on the specified pattern.
func (a *App) PUT(pattern string, h Handler, opts ...RouteOption) {
	a.Handle(router.MethodPut, pattern, h, opts...)
}

// PATCH registers a handler for PATCH method on the specified pattern.
func (a *App) PATCH(pattern string, h Handler, opts ...RouteOption) {
	a.Handle(router.MethodPatch, pattern, h, opts...)
}

// DELETE registers a handler for DELETE method on the specified pattern.
func (a *App) DELETE(pattern string, h Handler, opts ...RouteOption) {
	a.Handle(router.MethodDelete, pattern, h, opts...)
}

// HEAD registers a handler for HEAD method on the specified pattern.
func (a *App) HEAD(pattern string, h Handler, opts ...RouteOption) {
	a.Handle(router.MethodHead, pattern, h, opts...)
}

// OPTIONS registers a handler for OPTIONS method on the specified pattern.
func (a *App) OPTIONS(pattern string, h Handler, opts ...RouteOption) {
	a.Handle(router.MethodOptions, pattern, h, opts...)
}

// Use adds global middleware. Before hooks run in registration order,
// after hooks in reverse.
func (a *App) Use(mws ...Middleware) {
	a.appendChain(&a.global, mws)
}

// OpenAPI sets the document served at /docs.
func (a *App) OpenAPI(doc []byte) { a.openAPI = doc }

func (a *App) appendChain(c *middleware.Chain, mws []Middleware) {
	for _, mw := range mws {
		name := mw.Name
		if name == "" {
			name = middleware.AnonymousName
		}
		if mw.Before == nil && mw.After == nil {
			a.errs = append(a.errs, fmt.Errorf("middleware %q has no hooks: %w", name, api.ErrInvalidArgument))
			continue
		}
		if mw.Before != nil {
			c.Before = append(c.Before, middleware.Handler{Name: name, Ref: a.funcs.RegisterHandler(mw.Before)})
		}
		if mw.After != nil {
			c.After = append(c.After, middleware.Handler{Name: name, Ref: a.funcs.RegisterAfter(mw.After)})
		}
	}
}

// Group creates a route group with the given prefix.
func (a *App) Group(prefix string) *Group {
	return &Group{app: a, prefix: strings.TrimSuffix(prefix, "/")}
}

// Group registers routes under a common prefix and middleware.
type Group struct {
	app    *App
	prefix string
	mws    []Middleware
}

// Use adds middleware to every route registered on the group afterwards.
func (g *Group) Use(mws ...Middleware) { g.mws = append(g.mws, mws...) }

// Group creates a nested group with the given prefix appended to the current group's prefix.
func (g *Group) Group(prefix string) *Group {
	return &Group{
		app:    g.app,
		prefix: g.prefix + strings.TrimSuffix(prefix, "/"),
		mws:    append([]Middleware(nil), g.mws...),
	}
}

// Handle registers h under the group prefix. Group middleware runs
// before the route's own.
func (g *Group) Handle(method, pattern string, h Handler, opts ...RouteOption) {
	if len(g.mws) > 0 {
		opts = append([]RouteOption{With(g.mws...)}, opts...)
	}
	g.app.Handle(method, g.prefix+pattern, h, opts...)
}

func (g *Group) GET(pattern string, h Handler, opts ...RouteOption) {
	g.Handle(router.MethodGet, pattern, h, opts...)
}

func (g *Group) POST(pattern string, h Handler, opts ...RouteOption) {
	g.Handle(router.MethodPost, pattern, h, opts...)
}

func (g *Group) PUT(pattern string, h Handler, opts ...RouteOption) {
	g.Handle(router.MethodPut, pattern, h, opts...)
}

func (g *Group) PATCH(pattern string, h Handler, opts ...RouteOption) {
	g.Handle(router.MethodPatch, pattern, h, opts...)
}

func (g *Group) DELETE(pattern string, h Handler, opts ...RouteOption) {
	g.Handle(router.MethodDelete, pattern, h, opts...)
}

// Endpoint is a WebSocket endpoint under construction.
type Endpoint struct {
	app     *App
	pattern string
	cfg     pubsub.EndpointConfig
}

// WebSocket declares an endpoint at pattern.
func (a *App) WebSocket(pattern string) *Endpoint {
	ep := &Endpoint{
		app:     a,
		pattern: pattern,
		cfg:     pubsub.EndpointConfig{Events: make(map[string]api.HandlerRef)},
	}
	a.ws = append(a.ws, ep)
	return ep
}

// Join sets the handler run when a client connects. Its result becomes
// the connection state.
func (e *Endpoint) Join(h JoinHandler) *Endpoint {
	e.cfg.Join = e.app.funcs.RegisterJoin(h)
	return e
}

// Leave sets the handler run when a client disconnects.
func (e *Endpoint) Leave(h LeaveHandler) *Endpoint {
	e.cfg.Leave = e.app.funcs.RegisterLeave(h)
	return e
}

// On sets the handler for messages whose "type" is event. "message"
// receives untyped text and "binary" receives binary messages.
func (e *Endpoint) On(event string, h EventHandler) *Endpoint {
	e.cfg.Events[event] = e.app.funcs.RegisterEvent(h)
	return e
}

// Build returns the route table for server.New. Registration errors are
// reported together.
func (a *App) Build() (server.RouteTable, error) {
	if len(a.errs) > 0 {
		return server.RouteTable{}, errors.Join(a.errs...)
	}
	table := server.RouteTable{
		Routes:  append([]router.Route(nil), a.routes...),
		Global:  a.global,
		OpenAPI: a.openAPI,
	}
	for _, ep := range a.ws {
		table.WsRoutes = append(table.WsRoutes, server.WsRoute{Pattern: ep.pattern, Endpoint: ep.cfg})
	}
	return table, nil
}
