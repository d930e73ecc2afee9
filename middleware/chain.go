// Package middleware
// Author: momentics <momentics@gmail.com>
//
// Before/after handler chains attached globally and per route.

package middleware

import (
	"fmt"

	"github.com/momentics/hioload-app/api"
)

// AnonymousName names a middleware declared as a bare handler.
const AnonymousName = "anonymous"

// Handler is a named reference to a host middleware function.
type Handler struct {
	Name string
	Ref  api.HandlerRef
}

// Chain holds before and after handlers in execution order.
type Chain struct {
	Before []Handler
	After  []Handler
}

// Empty reports whether the chain has no handlers.
func (c Chain) Empty() bool { return len(c.Before) == 0 && len(c.After) == 0 }

// Extract reads the "before" and "after" entries of a route or global
// options table. Each entry is either a single api.HandlerRef, or a table
// mapping names to refs (table order is kept). Absent entries are fine.
func Extract(tbl *api.Table) (Chain, error) {
	var (
		c   Chain
		err error
	)
	if tbl == nil {
		return c, nil
	}
	if c.Before, err = extractList(tbl.Get("before"), "before"); err != nil {
		return Chain{}, err
	}
	if c.After, err = extractList(tbl.Get("after"), "after"); err != nil {
		return Chain{}, err
	}
	return c, nil
}

func extractList(v any, field string) ([]Handler, error) {
	switch m := v.(type) {
	case nil:
		return nil, nil
	case api.HandlerRef:
		if !m.Valid() {
			return nil, fmt.Errorf("middleware %q: %w", field, api.ErrInvalidArgument)
		}
		return []Handler{{Name: AnonymousName, Ref: m}}, nil
	case *api.Table:
		out := make([]Handler, 0, m.Len())
		var err error
		m.Range(func(k, v any) bool {
			name, ok := k.(string)
			ref, isRef := v.(api.HandlerRef)
			if !ok || !isRef || !ref.Valid() {
				err = fmt.Errorf("middleware %q entry %v: expected name -> handler: %w", field, k, api.ErrInvalidArgument)
				return false
			}
			out = append(out, Handler{Name: name, Ref: ref})
			return true
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("middleware %q: unsupported value %T: %w", field, v, api.ErrInvalidArgument)
	}
}

// Merge combines the global chain with a route chain.
// Before runs global then route handlers; After runs route handlers in
// reverse registration order, then global handlers in reverse.
// The result is stored in execution order; nothing is deduplicated.
func Merge(global, route Chain) Chain {
	out := Chain{
		Before: make([]Handler, 0, len(global.Before)+len(route.Before)),
		After:  make([]Handler, 0, len(global.After)+len(route.After)),
	}
	out.Before = append(out.Before, global.Before...)
	out.Before = append(out.Before, route.Before...)
	for i := len(route.After) - 1; i >= 0; i-- {
		out.After = append(out.After, route.After[i])
	}
	for i := len(global.After) - 1; i >= 0; i-- {
		out.After = append(out.After, global.After[i])
	}
	return out
}
