//go:build linux

// File: transport/socket_linux.go
// Author: momentics <momentics@gmail.com>
//
// Raw non-blocking sockets over golang.org/x/sys/unix.

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// fdSocket is a connected, non-blocking socket descriptor.
type fdSocket struct {
	fd int
}

func (s *fdSocket) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == nil && n == 0 && len(p) > 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		default:
			return 0, err
		}
	}
}

func (s *fdSocket) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(s.fd, p)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		default:
			return 0, err
		}
	}
}

func (s *fdSocket) Close() error { return unix.Close(s.fd) }

func (s *fdSocket) Fd() int { return s.fd }

// Listener is a non-blocking listening socket.
type Listener struct {
	fd   int
	addr string
}

// Listen binds host:port with SO_REUSEADDR and starts listening.
func Listen(host string, port, backlog int) (*Listener, error) {
	tcpAddr, err := resolve(host, port)
	if err != nil {
		return nil, err
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}

	var (
		family = unix.AF_INET
		sa     unix.Sockaddr
	)
	if ip4 := tcpAddr.IP.To4(); ip4 != nil || tcpAddr.IP == nil {
		a := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(a.Addr[:], ip4)
		sa = a
	} else {
		family = unix.AF_INET6
		a := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(a.Addr[:], tcpAddr.IP.To16())
		sa = a
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("transport: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: bind %s: %w", tcpAddr, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: listen: %w", err)
	}

	l := &Listener{fd: fd}
	l.addr = tcpAddr.String()
	if bound, err := unix.Getsockname(fd); err == nil {
		l.addr = sockaddrString(bound)
	}
	return l, nil
}

// Accept takes one pending connection. ErrWouldBlock means the backlog is empty.
func (l *Listener) Accept() (Socket, string, error) {
	for {
		fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				return nil, "", ErrWouldBlock
			}
			return nil, "", err
		}
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		return &fdSocket{fd: fd}, sockaddrString(sa), nil
	}
}

// Fd returns the listening descriptor.
func (l *Listener) Fd() int { return l.fd }

// Addr returns the bound address, with the kernel-chosen port when 0 was requested.
func (l *Listener) Addr() string { return l.addr }

// Close closes the listening socket.
func (l *Listener) Close() error { return unix.Close(l.fd) }

// IsAddrInUse reports whether err is a bind failure on a busy port.
func IsAddrInUse(err error) bool {
	return errors.Is(err, unix.EADDRINUSE)
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	}
	return ""
}
