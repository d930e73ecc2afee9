// File: api/handler.go
// Package api defines the host runtime contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// HandlerRef is a stable reference to a function owned by the host runtime.
// The zero value means "no handler".
type HandlerRef uint32

// NoHandler is the unset reference.
const NoHandler HandlerRef = 0

// Valid reports whether the reference points at a handler.
func (r HandlerRef) Valid() bool { return r != NoHandler }

// Runtime invokes host handlers by reference.
//
// Argument conventions used by the server:
//
//	HTTP handler, before middleware: (*RequestContext)
//	after middleware:                (*RequestContext, value)
//	WebSocket join:                  (WsContext)
//	WebSocket event:                 (message, WsContext, state)
//	WebSocket leave:                 (WsContext, state)
//
// Calls are synchronous and happen on the event loop goroutine.
type Runtime interface {
	Invoke(ref HandlerRef, args ...any) (any, error)
}

// RuntimeFunc adapts a plain function to Runtime.
type RuntimeFunc func(ref HandlerRef, args ...any) (any, error)

// Invoke implements Runtime.
func (f RuntimeFunc) Invoke(ref HandlerRef, args ...any) (any, error) {
	return f(ref, args...)
}
