// File: router/methods.go
// Author: momentics <momentics@gmail.com>
//
// HTTP method constants and Allow header normalization.

package router

import (
	"sort"
	"strings"
)

// HTTP methods with a defined position in Allow lists.
const (
	MethodGet     = "GET"
	MethodHead    = "HEAD"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodPatch   = "PATCH"
	MethodDelete  = "DELETE"
	MethodOptions = "OPTIONS"
)

var methodRank = map[string]int{
	MethodGet:     0,
	MethodHead:    1,
	MethodPost:    2,
	MethodPut:     3,
	MethodPatch:   4,
	MethodDelete:  5,
	MethodOptions: 6,
}

// NormalizeAllowed dedupes methods, adds HEAD when GET is present, always
// adds OPTIONS, and orders the result GET, HEAD, POST, PUT, PATCH, DELETE,
// OPTIONS followed by any other methods alphabetically.
func NormalizeAllowed(methods []string) []string {
	seen := make(map[string]struct{}, len(methods)+2)
	out := make([]string, 0, len(methods)+2)
	add := func(m string) {
		if _, ok := seen[m]; ok {
			return
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	for _, m := range methods {
		add(m)
		if m == MethodGet {
			add(MethodHead)
		}
	}
	add(MethodOptions)
	sort.Slice(out, func(i, j int) bool {
		ri, iok := methodRank[out[i]]
		rj, jok := methodRank[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}

// AllowHeader renders an Allow header value.
func AllowHeader(methods []string) string {
	return strings.Join(methods, ", ")
}
