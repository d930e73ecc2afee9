//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

// New returns ErrUnsupported on this platform.
func New() (Reactor, error) {
	return nil, ErrUnsupported
}
