//go:build !linux

// File: transport/socket_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package transport

// Listener is unavailable on this platform.
type Listener struct{}

// Listen returns ErrUnsupported.
func Listen(host string, port, backlog int) (*Listener, error) {
	return nil, ErrUnsupported
}

func (l *Listener) Accept() (Socket, string, error) { return nil, "", ErrUnsupported }
func (l *Listener) Fd() int                         { return -1 }
func (l *Listener) Addr() string                    { return "" }
func (l *Listener) Close() error                    { return nil }

// IsAddrInUse always reports false on this platform.
func IsAddrInUse(err error) bool { return false }
