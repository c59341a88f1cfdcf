// Package stream correlates outbound requests and subscriptions with the
// replies that answer them.
//
// A Manager holds one entry per outstanding sid. Entries leave the table
// when their exchange completes, when their deadline passes, or when the
// owning channel closes, whichever comes first. Delivery for one sid is
// strictly ordered and runs on an Executor, never on the caller's goroutine.
package stream

import (
	"sync"
	"time"

	"github.com/socketd-go/socketd/pkg/protocol"
)

// Mode selects how many replies an entry accepts.
type Mode uint8

const (
	// ModeSingle accepts exactly one reply.
	ModeSingle Mode = iota
	// ModeSubscribe accepts replies until a ReplyEnd.
	ModeSubscribe
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "Single"
	case ModeSubscribe:
		return "Subscribe"
	default:
		return "Unknown"
	}
}

// Callback receives either a reply message or a terminal error.
// After an error no further calls are made for the same registration.
type Callback func(msg *protocol.Message, err error)

// Acceptor describes a registration.
type Acceptor struct {
	Mode Mode

	// Timeout bounds the whole exchange. Zero disables the deadline.
	Timeout time.Duration

	Callback Callback
}

// Executor runs delivery tasks off the read path. Execute must hand the
// task off and return; running it on the calling goroutine is not allowed.
type Executor interface {
	Execute(task func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(task func())

// Execute implements Executor.
func (f ExecutorFunc) Execute(task func()) { f(task) }

// goExecutor runs each task on its own goroutine.
var goExecutor = ExecutorFunc(func(task func()) { go task() })

// Entry is one outstanding exchange. Its exported accessors are read-only.
type Entry struct {
	sid       string
	acceptor  Acceptor
	createdAt time.Time
	timeoutAt time.Time // zero when no deadline
	timer     *time.Timer

	// mailbox: callbacks for one sid run one at a time, in order.
	exec    Executor
	mu      sync.Mutex
	queue   []func()
	running bool
}

// SID returns the stream id.
func (e *Entry) SID() string { return e.sid }

// Mode returns the registration mode.
func (e *Entry) Mode() Mode { return e.acceptor.Mode }

// CreatedAt returns the registration time.
func (e *Entry) CreatedAt() time.Time { return e.createdAt }

// TimeoutAt returns the deadline, or the zero time when there is none.
func (e *Entry) TimeoutAt() time.Time { return e.timeoutAt }

func (e *Entry) expired(now time.Time) bool {
	return !e.timeoutAt.IsZero() && !now.Before(e.timeoutAt)
}

func (e *Entry) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
	}
}

// post queues one callback invocation.
func (e *Entry) post(msg *protocol.Message, err error) {
	cb := e.acceptor.Callback
	if cb == nil {
		return
	}

	e.mu.Lock()
	e.queue = append(e.queue, func() { cb(msg, err) })
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.exec.Execute(e.drain)
}

func (e *Entry) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		task()
	}
}
