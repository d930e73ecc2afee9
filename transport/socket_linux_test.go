//go:build linux

package transport

import (
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"
)

func acceptWithin(t *testing.T, l *Listener, d time.Duration) Socket {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		s, _, err := l.Accept()
		if err == nil {
			return s
		}
		if !errors.Is(err, ErrWouldBlock) {
			t.Fatalf("accept: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no connection accepted")
	return nil
}

func TestListenerAcceptReadWrite(t *testing.T) {
	l, err := Listen("127.0.0.1", 0, 16)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if _, _, err := l.Accept(); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("empty backlog: got %v", err)
	}

	c, err := net.Dial("tcp", l.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	s := acceptWithin(t, l, time.Second)
	defer s.Close()

	buf := make([]byte, 16)
	if _, err := s.Read(buf); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("read with no data: %v", err)
	}
	if _, err := c.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	var n int
	for i := 0; i < 100; i++ {
		n, err = s.Read(buf)
		if err == nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("read %q err=%v", buf[:n], err)
	}
	if _, err := s.Write([]byte("pong")); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 4)
	c.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := io.ReadFull(c, got); err != nil || string(got) != "pong" {
		t.Fatalf("client read %q err=%v", got, err)
	}

	c.Close()
	for i := 0; i < 100; i++ {
		_, err = s.Read(buf)
		if !errors.Is(err, ErrWouldBlock) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after peer close, got %v", err)
	}
}

func TestListenAddrInUse(t *testing.T) {
	l, err := Listen("127.0.0.1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	_, port, _ := net.SplitHostPort(l.Addr())
	ln, err := net.Listen("tcp4", "127.0.0.1:"+port)
	if err == nil {
		ln.Close()
		t.Skip("kernel allowed a second bind")
	}
	p, _ := strconv.Atoi(port)
	_, err = Listen("127.0.0.1", p, 0)
	if !IsAddrInUse(err) {
		t.Fatalf("expected EADDRINUSE, got %v", err)
	}
}
