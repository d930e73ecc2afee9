// Package runtime
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Go-native host runtime: handlers are plain Go functions kept in a
// table and addressed by api.HandlerRef.

package runtime

import (
	"fmt"

	"github.com/momentics/hioload-app/api"
)

// Func is the untyped form every handler is stored as.
type Func func(args ...any) (any, error)

// Typed handler shapes matching the argument conventions of api.Runtime.
type (
	Handler      func(ctx *api.RequestContext) (any, error)
	AfterHandler func(ctx *api.RequestContext, value any) (any, error)
	JoinHandler  func(ws api.WsContext) (any, error)
	EventHandler func(msg any, ws api.WsContext, state any) (any, error)
	LeaveHandler func(ws api.WsContext, state any)
)

// FuncTable implements api.Runtime over registered functions.
// Registration is not safe for concurrent use; Invoke only reads.
type FuncTable struct {
	funcs []Func
}

var _ api.Runtime = (*FuncTable)(nil)

// NewFuncTable returns an empty table. Reference 0 stays unused.
func NewFuncTable() *FuncTable {
	return &FuncTable{funcs: make([]Func, 1, 16)}
}

// Register stores f and returns its reference.
func (t *FuncTable) Register(f Func) api.HandlerRef {
	t.funcs = append(t.funcs, f)
	return api.HandlerRef(len(t.funcs) - 1)
}

// Len returns the number of registered functions.
func (t *FuncTable) Len() int { return len(t.funcs) - 1 }

// Invoke implements api.Runtime.
func (t *FuncTable) Invoke(ref api.HandlerRef, args ...any) (any, error) {
	if !ref.Valid() || int(ref) >= len(t.funcs) || t.funcs[ref] == nil {
		return nil, api.WrapError(api.ErrCodeNotFound, fmt.Sprintf("handler %d", ref), api.ErrHandlerNotFound)
	}
	return t.funcs[ref](args...)
}

func argError(kind string, want int, args []any) error {
	return api.NewError(api.ErrCodeInvalidArgument,
		fmt.Sprintf("%s handler expects %d arguments, got %d", kind, want, len(args)))
}

// RegisterHandler stores an HTTP handler or before middleware.
func (t *FuncTable) RegisterHandler(h Handler) api.HandlerRef {
	return t.Register(func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, argError("http", 1, args)
		}
		ctx, ok := args[0].(*api.RequestContext)
		if !ok {
			return nil, api.NewError(api.ErrCodeInvalidArgument, fmt.Sprintf("http handler: unexpected %T", args[0]))
		}
		return h(ctx)
	})
}

// RegisterAfter stores an after middleware.
func (t *FuncTable) RegisterAfter(h AfterHandler) api.HandlerRef {
	return t.Register(func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, argError("after", 2, args)
		}
		ctx, ok := args[0].(*api.RequestContext)
		if !ok {
			return nil, api.NewError(api.ErrCodeInvalidArgument, fmt.Sprintf("after handler: unexpected %T", args[0]))
		}
		return h(ctx, args[1])
	})
}

// RegisterJoin stores a WebSocket join handler.
func (t *FuncTable) RegisterJoin(h JoinHandler) api.HandlerRef {
	return t.Register(func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, argError("join", 1, args)
		}
		ws, ok := args[0].(api.WsContext)
		if !ok {
			return nil, api.NewError(api.ErrCodeInvalidArgument, fmt.Sprintf("join handler: unexpected %T", args[0]))
		}
		return h(ws)
	})
}

// RegisterEvent stores a WebSocket event handler.
func (t *FuncTable) RegisterEvent(h EventHandler) api.HandlerRef {
	return t.Register(func(args ...any) (any, error) {
		if len(args) != 3 {
			return nil, argError("event", 3, args)
		}
		ws, ok := args[1].(api.WsContext)
		if !ok {
			return nil, api.NewError(api.ErrCodeInvalidArgument, fmt.Sprintf("event handler: unexpected %T", args[1]))
		}
		return h(args[0], ws, args[2])
	})
}

// RegisterLeave stores a WebSocket leave handler.
func (t *FuncTable) RegisterLeave(h LeaveHandler) api.HandlerRef {
	return t.Register(func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, argError("leave", 2, args)
		}
		ws, ok := args[0].(api.WsContext)
		if !ok {
			return nil, api.NewError(api.ErrCodeInvalidArgument, fmt.Sprintf("leave handler: unexpected %T", args[0]))
		}
		h(ws, args[1])
		return nil, nil
	})
}
