package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/socketd-go/socketd/pkg/protocol"
)

// recorder collects callback invocations in order.
type recorder struct {
	mu    sync.Mutex
	msgs  []string
	errs  []error
	calls chan struct{}
}

func newRecorder() *recorder {
	return &recorder{calls: make(chan struct{}, 64)}
}

func (r *recorder) callback(msg *protocol.Message, err error) {
	r.mu.Lock()
	if err != nil {
		r.errs = append(r.errs, err)
	} else {
		r.msgs = append(r.msgs, msg.Entity().String())
	}
	r.mu.Unlock()
	r.calls <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for call %d of %d", i+1, n)
		}
	}
}

func (r *recorder) assertNoMore(t *testing.T) {
	t.Helper()
	select {
	case <-r.calls:
		t.Fatal("unexpected extra callback")
	case <-time.After(50 * time.Millisecond):
	}
}

func reply(flag protocol.Flag, sid, data string) *protocol.Message {
	return protocol.NewMessage(flag, sid, "e", protocol.NewStringEntity(data))
}

func TestSingleModeDeliversOnce(t *testing.T) {
	m := NewManager(nil)
	rec := newRecorder()
	if err := m.Register("s1", Acceptor{Mode: ModeSingle, Callback: rec.callback}); err != nil {
		t.Fatal(err)
	}

	if !m.Accept(reply(protocol.FlagReply, "s1", "pong")) {
		t.Fatal("Accept() = false for a registered sid")
	}
	if m.Accept(reply(protocol.FlagReply, "s1", "late")) {
		t.Error("Accept() = true for a completed single exchange")
	}

	rec.wait(t, 1)
	rec.assertNoMore(t)
	if len(rec.msgs) != 1 || rec.msgs[0] != "pong" {
		t.Errorf("msgs = %v", rec.msgs)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}

func TestSubscribeModeOrderAndEnd(t *testing.T) {
	m := NewManager(nil)
	rec := newRecorder()
	if err := m.Register("s2", Acceptor{Mode: ModeSubscribe, Callback: rec.callback}); err != nil {
		t.Fatal(err)
	}

	for _, d := range []string{"1", "2", "3"} {
		if !m.Accept(reply(protocol.FlagReply, "s2", d)) {
			t.Fatalf("Accept(%s) = false", d)
		}
	}
	if !m.Has("s2") {
		t.Fatal("subscribe entry removed before ReplyEnd")
	}
	m.Accept(reply(protocol.FlagReplyEnd, "s2", "done"))
	if m.Accept(reply(protocol.FlagReply, "s2", "spurious")) {
		t.Error("reply after ReplyEnd was accepted")
	}

	rec.wait(t, 4)
	rec.assertNoMore(t)

	want := []string{"1", "2", "3", "done"}
	for i, w := range want {
		if rec.msgs[i] != w {
			t.Fatalf("msgs = %v, want %v", rec.msgs, want)
		}
	}
}

func TestTimeoutExpiresEntry(t *testing.T) {
	m := NewManager(nil)
	rec := newRecorder()
	if err := m.Register("s3", Acceptor{Mode: ModeSingle, Timeout: 20 * time.Millisecond, Callback: rec.callback}); err != nil {
		t.Fatal(err)
	}

	rec.wait(t, 1)
	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], protocol.ErrTimeout) {
		t.Fatalf("errs = %v, want one TimeoutError", rec.errs)
	}
	if m.Has("s3") {
		t.Error("entry still present after timeout")
	}
	if m.Accept(reply(protocol.FlagReply, "s3", "late")) {
		t.Error("late reply accepted after timeout")
	}
	rec.assertNoMore(t)
}

func TestSweep(t *testing.T) {
	m := NewManager(nil)
	rec := newRecorder()
	base := time.Now()
	m.now = func() time.Time { return base }

	// Deadlines far enough away that the timers never fire during the test.
	m.Register("a", Acceptor{Mode: ModeSingle, Timeout: time.Hour, Callback: rec.callback})
	m.Register("b", Acceptor{Mode: ModeSubscribe, Timeout: 2 * time.Hour, Callback: rec.callback})
	m.Register("c", Acceptor{Mode: ModeSingle, Callback: rec.callback})

	if n := m.Sweep(base.Add(90 * time.Minute)); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	rec.wait(t, 1)
	if m.Has("a") || !m.Has("b") || !m.Has("c") {
		t.Error("Sweep() removed the wrong entries")
	}

	if n := m.Sweep(base.Add(90 * time.Minute)); n != 0 {
		t.Errorf("second Sweep() = %d, want 0", n)
	}
	m.RemoveAll(protocol.ErrClosed)
}

func TestRetrieveExpiresOnDemand(t *testing.T) {
	m := NewManager(nil)
	rec := newRecorder()
	base := time.Now()
	m.now = func() time.Time { return base }

	m.Register("s", Acceptor{Mode: ModeSingle, Timeout: time.Hour, Callback: rec.callback})
	if e := m.Retrieve("s"); e == nil || e.Mode() != ModeSingle {
		t.Fatalf("Retrieve() = %v", e)
	}

	m.now = func() time.Time { return base.Add(2 * time.Hour) }
	if e := m.Retrieve("s"); e != nil {
		t.Fatal("Retrieve() returned an expired entry")
	}
	rec.wait(t, 1)
	if !errors.Is(rec.errs[0], protocol.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", rec.errs[0])
	}
}

func TestRemoveAllSignalsEveryEntry(t *testing.T) {
	m := NewManager(nil)
	rec := newRecorder()
	m.Register("a", Acceptor{Mode: ModeSingle, Callback: rec.callback})
	m.Register("b", Acceptor{Mode: ModeSubscribe, Callback: rec.callback})

	closed := protocol.NewConnectionError("close", protocol.ErrClosed)
	m.RemoveAll(closed)

	rec.wait(t, 2)
	rec.assertNoMore(t)
	for _, err := range rec.errs {
		if !errors.Is(err, protocol.ErrConnection) {
			t.Errorf("err = %v, want ConnectionError", err)
		}
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d after RemoveAll", m.Len())
	}
}

func TestCompleteAndFail(t *testing.T) {
	m := NewManager(nil)
	rec := newRecorder()
	m.Register("sub", Acceptor{Mode: ModeSubscribe, Callback: rec.callback})
	m.Register("one", Acceptor{Mode: ModeSingle, Callback: rec.callback})

	if m.Complete("sub", false) {
		t.Error("Complete(sub, false) removed a subscribe entry")
	}
	if !m.Complete("sub", true) {
		t.Error("Complete(sub, true) did not remove the entry")
	}
	if !m.Complete("one", false) {
		t.Error("Complete(one, false) did not remove a single entry")
	}

	m.Register("alarm", Acceptor{Mode: ModeSingle, Callback: rec.callback})
	if !m.Fail("alarm", protocol.ErrAlarm) {
		t.Fatal("Fail() = false")
	}
	if m.Fail("alarm", protocol.ErrAlarm) {
		t.Error("second Fail() = true")
	}
	rec.wait(t, 1)
	rec.assertNoMore(t)
}

func TestRegisterDuplicate(t *testing.T) {
	m := NewManager(nil)
	m.Register("s", Acceptor{})
	if err := m.Register("s", Acceptor{}); !errors.Is(err, ErrDuplicateSID) {
		t.Errorf("Register(dup) = %v, want ErrDuplicateSID", err)
	}
	m.Remove("s")
	if err := m.Register("s", Acceptor{}); err != nil {
		t.Errorf("Register() after Remove = %v", err)
	}
}

func TestReplyTimeoutRace(t *testing.T) {
	// Whichever of reply and timeout wins, the callback runs exactly once.
	for i := 0; i < 20; i++ {
		m := NewManager(nil)
		rec := newRecorder()
		m.Register("s", Acceptor{Mode: ModeSingle, Timeout: time.Millisecond, Callback: rec.callback})
		time.Sleep(time.Millisecond)
		m.Accept(reply(protocol.FlagReply, "s", "x"))

		rec.wait(t, 1)
		rec.assertNoMore(t)
	}
}

func TestAcceptFollowsRetrieveAndComplete(t *testing.T) {
	tests := []struct {
		name      string
		mode      Mode
		flag      protocol.Flag
		expired   bool
		accepted  bool
		remaining bool
		timeout   bool
	}{
		{"single reply", ModeSingle, protocol.FlagReply, false, true, false, false},
		{"subscribe reply", ModeSubscribe, protocol.FlagReply, false, true, true, false},
		{"subscribe end", ModeSubscribe, protocol.FlagReplyEnd, false, true, false, false},
		{"expired single", ModeSingle, protocol.FlagReply, true, false, false, true},
		{"expired subscribe", ModeSubscribe, protocol.FlagReply, true, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(nil)
			rec := newRecorder()
			base := time.Now()
			m.now = func() time.Time { return base }
			m.Register("s", Acceptor{Mode: tt.mode, Timeout: time.Hour, Callback: rec.callback})
			if tt.expired {
				m.now = func() time.Time { return base.Add(2 * time.Hour) }
			}

			if got := m.Accept(reply(tt.flag, "s", "d")); got != tt.accepted {
				t.Errorf("Accept() = %v, want %v", got, tt.accepted)
			}
			if got := m.Has("s"); got != tt.remaining {
				t.Errorf("Has() = %v, want %v", got, tt.remaining)
			}

			rec.wait(t, 1)
			rec.mu.Lock()
			defer rec.mu.Unlock()
			if tt.timeout {
				if len(rec.errs) != 1 || !errors.Is(rec.errs[0], protocol.ErrTimeout) {
					t.Errorf("errs = %v, want one ErrTimeout", rec.errs)
				}
			} else if len(rec.msgs) != 1 || rec.msgs[0] != "d" {
				t.Errorf("msgs = %v, want [d]", rec.msgs)
			}
		})
	}
}
