// File: router/router.go
// Author: momentics <momentics@gmail.com>
//
// Immutable HTTP and WebSocket route tables. Static paths resolve through a
// hash lookup; patterns with parameters go through the segment tree.

package router

import (
	"net/url"
	"strings"

	"github.com/momentics/hioload-app/api"
	"github.com/momentics/hioload-app/middleware"
	"go.uber.org/zap"
)

// wsMethod keys WebSocket endpoints inside the shared tree structure.
const wsMethod = "WS"

// Route is one HTTP route registration.
type Route struct {
	Method     string
	Pattern    string
	Handler    api.HandlerRef
	Middleware middleware.Chain

	static bool
}

// Static reports whether the pattern has no parameters.
func (r *Route) Static() bool { return r.static }

// WsRoute binds a pattern to a pub/sub endpoint index.
type WsRoute struct {
	Pattern  string
	Endpoint int
}

// MatchKind tags the outcome of Match.
type MatchKind uint8

const (
	NotFound MatchKind = iota
	Found
	MethodNotAllowed
)

func (k MatchKind) String() string {
	switch k {
	case Found:
		return "found"
	case MethodNotAllowed:
		return "method_not_allowed"
	default:
		return "not_found"
	}
}

// Match is the result of resolving a request.
// Route and Params are set for Found; Allowed for MethodNotAllowed.
type Match struct {
	Kind    MatchKind
	Route   *Route
	Params  []api.Param
	IsHead  bool
	Allowed []string
}

// Router resolves requests. It is built once and read-only afterwards.
type Router struct {
	routes    []Route
	static    map[string]map[string]int
	dynamic   *node
	wsRoutes  []WsRoute
	wsStatic  map[string]int
	wsDynamic *node
}

// New builds a router. Duplicate method/pattern pairs are logged and the
// last registration wins.
func New(routes []Route, wsRoutes []WsRoute, logger *zap.Logger) (*Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		routes:    make([]Route, len(routes)),
		static:    make(map[string]map[string]int),
		dynamic:   newNode(),
		wsRoutes:  make([]WsRoute, len(wsRoutes)),
		wsStatic:  make(map[string]int),
		wsDynamic: newNode(),
	}
	copy(r.routes, routes)
	copy(r.wsRoutes, wsRoutes)

	for i := range r.routes {
		rt := &r.routes[i]
		rt.Method = strings.ToUpper(rt.Method)
		segs, static, err := parsePattern(rt.Pattern)
		if err != nil {
			return nil, err
		}
		rt.static = static
		replaced := false
		if static {
			methods, ok := r.static[rt.Pattern]
			if !ok {
				methods = make(map[string]int)
				r.static[rt.Pattern] = methods
			}
			_, replaced = methods[rt.Method]
			methods[rt.Method] = i
		} else {
			replaced = r.dynamic.insert(segs, rt.Method, i)
		}
		if replaced {
			logger.Warn("duplicate route registration, last one wins",
				zap.String("method", rt.Method), zap.String("pattern", rt.Pattern))
		}
	}

	for i, ws := range r.wsRoutes {
		segs, static, err := parsePattern(ws.Pattern)
		if err != nil {
			return nil, err
		}
		replaced := false
		if static {
			_, replaced = r.wsStatic[ws.Pattern]
			r.wsStatic[ws.Pattern] = i
		} else {
			replaced = r.wsDynamic.insert(segs, wsMethod, i)
		}
		if replaced {
			logger.Warn("duplicate websocket route registration, last one wins",
				zap.String("pattern", ws.Pattern))
		}
	}
	return r, nil
}

// Routes returns the registered routes.
func (r *Router) Routes() []Route { return r.routes }

// HasWebSocketRoutes reports whether any WebSocket endpoint is registered.
func (r *Router) HasWebSocketRoutes() bool { return len(r.wsRoutes) > 0 }

// Match resolves method and path (without query string).
func (r *Router) Match(method, path string) Match {
	if methods, ok := r.static[path]; ok {
		if idx, ok := methods[method]; ok {
			return Match{Kind: Found, Route: &r.routes[idx]}
		}
		if method == MethodHead {
			if idx, ok := methods[MethodGet]; ok {
				return Match{Kind: Found, Route: &r.routes[idx], IsHead: true}
			}
		}
		return Match{Kind: MethodNotAllowed, Allowed: NormalizeAllowed(keys(methods))}
	}

	if path == "" || path[0] != '/' {
		return Match{Kind: NotFound}
	}
	segs := strings.Split(path[1:], "/")

	isHead := false
	n, vals := r.dynamic.find(segs, 0, nil, func(n *node) bool {
		_, ok := n.leaves[method]
		return ok
	})
	lookup := method
	if n == nil && method == MethodHead {
		n, vals = r.dynamic.find(segs, 0, nil, func(n *node) bool {
			_, ok := n.leaves[MethodGet]
			return ok
		})
		isHead, lookup = n != nil, MethodGet
	}
	if n == nil {
		// every pattern matching the path contributes its methods
		var allowed []string
		r.dynamic.find(segs, 0, nil, func(other *node) bool {
			allowed = append(allowed, keys(other.leaves)...)
			return false
		})
		if len(allowed) == 0 {
			return Match{Kind: NotFound}
		}
		return Match{Kind: MethodNotAllowed, Allowed: NormalizeAllowed(allowed)}
	}

	lf := n.leaves[lookup]
	params, ok := decodeParams(lf.names, vals)
	if !ok {
		return Match{Kind: NotFound}
	}
	return Match{Kind: Found, Route: &r.routes[lf.route], Params: params, IsHead: isHead}
}

// MatchWs resolves a WebSocket endpoint for path.
func (r *Router) MatchWs(path string) (endpoint int, params []api.Param, ok bool) {
	if idx, found := r.wsStatic[path]; found {
		return r.wsRoutes[idx].Endpoint, nil, true
	}
	if path == "" || path[0] != '/' {
		return 0, nil, false
	}
	n, vals := r.wsDynamic.find(strings.Split(path[1:], "/"), 0, nil, func(*node) bool { return true })
	if n == nil {
		return 0, nil, false
	}
	lf := n.leaves[wsMethod]
	params, ok = decodeParams(lf.names, vals)
	if !ok {
		return 0, nil, false
	}
	return r.wsRoutes[lf.route].Endpoint, params, true
}

// decodeParams percent-decodes captured values; a failed or empty decode
// rejects the match.
func decodeParams(names, vals []string) ([]api.Param, bool) {
	if len(names) == 0 {
		return nil, true
	}
	out := make([]api.Param, len(names))
	for i, name := range names {
		v, err := url.PathUnescape(vals[i])
		if err != nil || v == "" {
			return nil, false
		}
		out[i] = api.Param{Name: name, Value: v}
	}
	return out, true
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
