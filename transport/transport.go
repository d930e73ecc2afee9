// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package transport provides non-blocking TCP sockets for the event loop.
package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

var (
	// ErrWouldBlock means the operation cannot progress until the socket
	// becomes ready again.
	ErrWouldBlock = errors.New("transport: operation would block")
	// ErrUnsupported is returned on platforms without raw socket support.
	ErrUnsupported = errors.New("transport: this platform is not supported")
)

// Socket is a connected non-blocking stream socket.
// Read returns io.EOF when the peer closed its side.
type Socket interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	Fd() int
}

// resolve turns host/port into a TCP address, preferring IPv4 for "localhost".
func resolve(host string, port int) (*net.TCPAddr, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("transport: invalid port %d", port)
	}
	network := "tcp"
	if host == "localhost" {
		network = "tcp4"
	}
	addr, err := net.ResolveTCPAddr(network, net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", host, err)
	}
	return addr, nil
}
