package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/socketd-go/socketd/pkg/protocol"
)

// ErrDuplicateSID is returned when registering a sid that is still outstanding.
var ErrDuplicateSID = errors.New("stream: sid already registered")

// Manager is the per-channel correlation table.
type Manager struct {
	exec Executor
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
}

// NewManager creates an empty table delivering on exec. A nil exec runs
// each sid's deliveries on a fresh goroutine.
func NewManager(exec Executor) *Manager {
	if exec == nil {
		exec = goExecutor
	}
	return &Manager{
		exec:    exec,
		now:     time.Now,
		entries: make(map[string]*Entry),
	}
}

// Register adds an entry for sid. It must be called before the frame that
// opens the exchange is written, so a fast reply always finds it.
func (m *Manager) Register(sid string, a Acceptor) error {
	e := &Entry{
		sid:       sid,
		acceptor:  a,
		createdAt: m.now(),
		exec:      m.exec,
	}
	if a.Timeout > 0 {
		e.timeoutAt = e.createdAt.Add(a.Timeout)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[sid]; ok {
		return ErrDuplicateSID
	}
	if a.Timeout > 0 {
		e.timer = time.AfterFunc(a.Timeout, func() { m.expire(e) })
	}
	m.entries[sid] = e
	return nil
}

// Retrieve returns the live entry for sid without removing it.
// An entry whose deadline has passed is expired on the spot and nil is returned.
func (m *Manager) Retrieve(sid string) *Entry {
	m.mu.Lock()
	e, stale := m.lookup(sid)
	m.mu.Unlock()
	if stale {
		m.expireStale(e)
		return nil
	}
	return e
}

// Complete removes the entry for sid when the exchange is over: always for
// ModeSingle, and for ModeSubscribe only when end is true. It reports
// whether an entry was removed.
func (m *Manager) Complete(sid string, end bool) bool {
	m.mu.Lock()
	e, ok := m.entries[sid]
	removed := ok && m.complete(e, end)
	m.mu.Unlock()

	if removed {
		e.stopTimer()
	}
	return removed
}

// Accept delivers a Reply or ReplyEnd to the entry for its sid and completes
// the entry when appropriate. It is Retrieve, delivery and Complete done
// under one lock. It returns false, and delivers nothing, when no live
// entry exists: the reply is late or unsolicited.
func (m *Manager) Accept(msg *protocol.Message) bool {
	m.mu.Lock()
	e, stale := m.lookup(msg.SID())
	if e == nil || stale {
		m.mu.Unlock()
		if stale {
			m.expireStale(e)
		}
		return false
	}
	done := m.complete(e, msg.IsEnd())
	// Queue under the table lock so a concurrent expiry cannot overtake it.
	e.post(msg, nil)
	m.mu.Unlock()

	if done {
		e.stopTimer()
	}
	return true
}

// lookup returns the entry for sid. An entry past its deadline is removed
// and reported stale; the caller expires it after unlocking. m.mu must be held.
func (m *Manager) lookup(sid string) (e *Entry, stale bool) {
	e, ok := m.entries[sid]
	if !ok {
		return nil, false
	}
	if e.expired(m.now()) {
		delete(m.entries, sid)
		return e, true
	}
	return e, false
}

// complete removes e when its exchange is over. m.mu must be held.
func (m *Manager) complete(e *Entry, end bool) bool {
	if e.acceptor.Mode == ModeSubscribe && !end {
		return false
	}
	delete(m.entries, e.sid)
	return true
}

func (m *Manager) expireStale(e *Entry) {
	e.stopTimer()
	e.post(nil, timeoutErr(e))
}

// Fail removes the entry for sid and delivers err to it.
// It reports whether an entry existed.
func (m *Manager) Fail(sid string, err error) bool {
	m.mu.Lock()
	e, ok := m.entries[sid]
	if ok {
		delete(m.entries, sid)
		e.post(nil, err)
	}
	m.mu.Unlock()

	if ok {
		e.stopTimer()
	}
	return ok
}

// Remove drops the entry for sid without notifying it.
func (m *Manager) Remove(sid string) {
	m.mu.Lock()
	e, ok := m.entries[sid]
	delete(m.entries, sid)
	m.mu.Unlock()
	if ok {
		e.stopTimer()
	}
}

// Sweep expires every entry whose deadline is at or before now and signals
// each with a TimeoutError. It returns the number of expired entries.
func (m *Manager) Sweep(now time.Time) int {
	var expired []*Entry

	m.mu.Lock()
	for sid, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, sid)
			expired = append(expired, e)
		}
	}
	m.mu.Unlock()

	for _, e := range expired {
		m.expireStale(e)
	}
	return len(expired)
}

// RemoveAll clears the table and signals every entry with err.
// A nil err is replaced by protocol.ErrClosed.
func (m *Manager) RemoveAll(err error) {
	if err == nil {
		err = protocol.ErrClosed
	}
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*Entry)
	m.mu.Unlock()

	for _, e := range entries {
		e.stopTimer()
		e.post(nil, err)
	}
}

// Len returns the number of outstanding entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Has reports whether sid is outstanding.
func (m *Manager) Has(sid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[sid]
	return ok
}

func (m *Manager) expire(e *Entry) {
	m.mu.Lock()
	cur, ok := m.entries[e.sid]
	if !ok || cur != e {
		m.mu.Unlock()
		return
	}
	delete(m.entries, e.sid)
	m.mu.Unlock()

	e.post(nil, timeoutErr(e))
}

func timeoutErr(e *Entry) error {
	op := "request"
	if e.acceptor.Mode == ModeSubscribe {
		op = "subscribe"
	}
	return protocol.NewTimeoutError(op, e.sid, e.acceptor.Timeout)
}
