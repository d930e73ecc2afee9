// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness poller interface.

package reactor

import (
	"errors"
	"time"
)

// ErrUnsupported is returned by New on platforms without a poller.
var ErrUnsupported = errors.New("reactor: this platform is not supported")

// Interest is the set of readiness conditions a descriptor is polled for.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// None means the descriptor is registered but not polled.
const None Interest = 0

// String renders the interest for logs.
func (i Interest) String() string {
	switch i {
	case None:
		return "none"
	case Readable:
		return "r"
	case Writable:
		return "w"
	default:
		return "rw"
	}
}

// Event is one readiness notification. Token is the value given at Add.
type Event struct {
	Token    int32
	Readable bool
	Writable bool
	Hangup   bool
}

// Reactor multiplexes readiness over many descriptors. Level-triggered.
// Implementations are owned by a single goroutine.
type Reactor interface {
	Add(fd int, token int32, in Interest) error
	Modify(fd int, token int32, in Interest) error
	Remove(fd int) error
	// Wait blocks up to timeout (negative = forever) and fills events.
	// Interrupted waits return 0, nil.
	Wait(events []Event, timeout time.Duration) (int, error)
	Close() error
}
