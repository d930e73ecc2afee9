// File: router/tree.go
// Author: momentics <momentics@gmail.com>
//
// Segment tree for patterns with parameters.

package router

import (
	"fmt"
	"strings"

	"github.com/momentics/hioload-app/api"
)

type segKind uint8

const (
	segStatic segKind = iota
	segParam
	segCatchAll
)

type segment struct {
	kind segKind
	text string
}

// leaf binds a method to a route index; param names belong to the route so
// different routes may name the same position differently.
type leaf struct {
	route int
	names []string
}

type node struct {
	static   map[string]*node
	param    *node
	catchAll *node
	leaves   map[string]leaf
}

func newNode() *node { return &node{} }

// parsePattern splits a pattern into segments and reports whether it is static.
func parsePattern(pattern string) ([]segment, bool, error) {
	if pattern == "" || pattern[0] != '/' {
		return nil, false, fmt.Errorf("router: pattern %q must start with '/': %w", pattern, api.ErrInvalidArgument)
	}
	parts := strings.Split(pattern[1:], "/")
	segs := make([]segment, len(parts))
	static := true
	for i, p := range parts {
		switch {
		case strings.HasPrefix(p, "{*") && strings.HasSuffix(p, "}"):
			segs[i] = segment{segCatchAll, p[2 : len(p)-1]}
		case strings.HasPrefix(p, "*"):
			segs[i] = segment{segCatchAll, p[1:]}
		case strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}"):
			segs[i] = segment{segParam, p[1 : len(p)-1]}
		case strings.HasPrefix(p, ":"):
			segs[i] = segment{segParam, p[1:]}
		default:
			segs[i] = segment{segStatic, p}
			continue
		}
		static = false
		if segs[i].text == "" {
			return nil, false, fmt.Errorf("router: pattern %q has an unnamed parameter: %w", pattern, api.ErrInvalidArgument)
		}
		if segs[i].kind == segCatchAll && i != len(parts)-1 {
			return nil, false, fmt.Errorf("router: catch-all must be last in %q: %w", pattern, api.ErrInvalidArgument)
		}
	}
	return segs, static, nil
}

// insert adds method -> route under segs. It reports whether an existing
// leaf was replaced.
func (n *node) insert(segs []segment, method string, route int) bool {
	cur := n
	var names []string
	for _, s := range segs {
		switch s.kind {
		case segStatic:
			if cur.static == nil {
				cur.static = make(map[string]*node)
			}
			next, ok := cur.static[s.text]
			if !ok {
				next = newNode()
				cur.static[s.text] = next
			}
			cur = next
		case segParam:
			if cur.param == nil {
				cur.param = newNode()
			}
			names = append(names, s.text)
			cur = cur.param
		case segCatchAll:
			if cur.catchAll == nil {
				cur.catchAll = newNode()
			}
			names = append(names, s.text)
			cur = cur.catchAll
		}
	}
	if cur.leaves == nil {
		cur.leaves = make(map[string]leaf)
	}
	_, replaced := cur.leaves[method]
	cur.leaves[method] = leaf{route: route, names: names}
	return replaced
}

// find walks the tree preferring static over param over catch-all edges and
// returns the first terminal node accepted by accept, with the raw values
// captured along the way.
func (n *node) find(segs []string, i int, values []string, accept func(*node) bool) (*node, []string) {
	if i == len(segs) {
		if len(n.leaves) > 0 && accept(n) {
			return n, values
		}
		return nil, nil
	}
	if next, ok := n.static[segs[i]]; ok {
		if hit, vals := next.find(segs, i+1, values, accept); hit != nil {
			return hit, vals
		}
	}
	if n.param != nil {
		if hit, vals := n.param.find(segs, i+1, append(values, segs[i]), accept); hit != nil {
			return hit, vals
		}
	}
	if n.catchAll != nil && len(n.catchAll.leaves) > 0 && accept(n.catchAll) {
		return n.catchAll, append(values, strings.Join(segs[i:], "/"))
	}
	return nil, nil
}
