package core

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/socketd-go/socketd/pkg/protocol"
)

func TestRequestEcho(t *testing.T) {
	server := NewEventListener().On("echo", func(s *Session, msg *protocol.Message) error {
		if msg.Entity().String() != "ping" {
			return s.SendAlarm(msg, "expected ping")
		}
		return s.Reply(msg, protocol.NewStringEntity("pong"))
	})

	srv, cli := connectPair(t, server, nil)

	reply, err := cli.ch.Session().SendAndRequest(context.Background(), "echo", protocol.NewStringEntity("ping"), time.Second)
	if err != nil {
		t.Fatalf("SendAndRequest() error = %v", err)
	}
	if got := reply.Entity().String(); got != "pong" {
		t.Errorf("reply = %q, want pong", got)
	}
	if srv.ch.Session().Name() != "client" {
		t.Errorf("server session Name() = %q, want client", srv.ch.Session().Name())
	}
	if cli.ch.Streams().Len() != 0 {
		t.Errorf("client stream table holds %d entries", cli.ch.Streams().Len())
	}
}

func TestSubscribeOrderAndLateReplyDropped(t *testing.T) {
	server := NewEventListener().On("stream", func(s *Session, msg *protocol.Message) error {
		for _, d := range []string{"1", "2", "3"} {
			if err := s.Reply(msg, protocol.NewStringEntity(d)); err != nil {
				return err
			}
		}
		if err := s.ReplyEnd(msg, protocol.NewStringEntity("done")); err != nil {
			return err
		}
		return s.Reply(msg, protocol.NewStringEntity("spurious"))
	})

	_, cli := connectPair(t, server, nil)

	var (
		mu  sync.Mutex
		got []string
	)
	calls := make(chan struct{}, 16)
	_, err := cli.ch.Session().SendAndSubscribe("stream", nil, time.Second, func(msg *protocol.Message, err error) {
		mu.Lock()
		if err != nil {
			got = append(got, "err:"+err.Error())
		} else {
			got = append(got, msg.Entity().String())
		}
		mu.Unlock()
		calls <- struct{}{}
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 4; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d callbacks, want 4", i)
		}
	}
	select {
	case <-calls:
		t.Fatal("callback invoked after ReplyEnd")
	case <-time.After(100 * time.Millisecond):
	}

	want := []string{"1", "2", "3", "done"}
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("callbacks = %v, want %v", got, want)
		}
	}
}

func TestOpenRejected(t *testing.T) {
	server := NewEventListener().DoOnOpen(func(s *Session) error {
		if s.Param("token") != "secret" {
			return errors.New("unauthorized")
		}
		return nil
	})

	sp, err := NewProcessor(newTestConfig(t, RoleServer), server)
	if err != nil {
		t.Fatal(err)
	}
	cp, err := NewProcessor(newTestConfig(t, RoleClient), nil)
	if err != nil {
		t.Fatal(err)
	}
	ct, st := newMemPair()
	sch, cch := NewChannel(st, sp), NewChannel(ct, cp)
	go sp.Serve(sch)
	go cp.Serve(cch)

	cch.SendConnect("c", "tcp://127.0.0.1:8602/?token=wrong")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := cch.WaitHandshake(ctx); !errors.Is(err, protocol.ErrConnectionRejected) {
		t.Fatalf("WaitHandshake() = %v, want ErrConnectionRejected", err)
	}
	waitFor(t, "server close", sch.IsClosed)
	if sch.CloseCode() != protocol.CloseError {
		t.Errorf("server close code = %d, want %d", sch.CloseCode(), protocol.CloseError)
	}
}

func TestFrameBeforeHandshakeClosesWithProtocol(t *testing.T) {
	var dispatched atomic.Bool
	l := NewEventListener().DoOnMessage(func(*Session, *protocol.Message) error {
		dispatched.Store(true)
		return nil
	})
	sch, raw := serveRaw(t, l)

	raw.Write(protocol.MessageFrame(protocol.FlagMessage, "s", "e", protocol.NewStringEntity("x")))

	if f := readFrame(t, raw); f.Flag != protocol.FlagClose {
		t.Fatalf("got %s, want Close", f.Flag)
	}
	waitFor(t, "server close", sch.IsClosed)
	if sch.CloseCode() != protocol.CloseProtocol {
		t.Errorf("close code = %d, want %d", sch.CloseCode(), protocol.CloseProtocol)
	}
	time.Sleep(20 * time.Millisecond)
	if dispatched.Load() {
		t.Error("message dispatched before handshake")
	}
}

func TestPingPongAndIllegalFlag(t *testing.T) {
	sch, raw := serveRaw(t, nil)

	raw.Write(protocol.ConnectFrame("c1", "tcp://host/"))
	connack := readFrame(t, raw)
	if connack.Flag != protocol.FlagConnack || connack.SID() != "c1" {
		t.Fatalf("got %v, want Connack echoing c1", connack)
	}
	if connack.Message.Meta(protocol.MetaVersion) != protocol.Version {
		t.Errorf("Connack version = %q", connack.Message.Meta(protocol.MetaVersion))
	}

	raw.Write(protocol.PingFrame())
	if f := readFrame(t, raw); f.Flag != protocol.FlagPong {
		t.Fatalf("got %s, want Pong", f.Flag)
	}

	raw.Write(protocol.NewFrame(protocol.Flag(99), protocol.NewMessage(99, "s", "e", nil)))
	waitFor(t, "server close", sch.IsClosed)
	if sch.CloseCode() != protocol.CloseProtocolIllegal {
		t.Errorf("close code = %d, want %d", sch.CloseCode(), protocol.CloseProtocolIllegal)
	}
}

func TestDuplicateConnectIsIllegal(t *testing.T) {
	sch, raw := serveRaw(t, nil)

	raw.Write(protocol.ConnectFrame("c1", "tcp://host/"))
	readFrame(t, raw)
	raw.Write(protocol.ConnectFrame("c2", "tcp://host/"))

	waitFor(t, "server close", sch.IsClosed)
	if sch.CloseCode() != protocol.CloseProtocolIllegal {
		t.Errorf("close code = %d, want %d", sch.CloseCode(), protocol.CloseProtocolIllegal)
	}
}

type closeCounter struct {
	SimpleListener
	closes atomic.Int32
}

func (c *closeCounter) OnClose(*Session) { c.closes.Add(1) }

func TestCloseIsIdempotent(t *testing.T) {
	counter := &closeCounter{}
	srv, _ := connectPair(t, counter, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.ch.Close(protocol.CloseProtocol)
		}()
	}
	wg.Wait()
	srv.ch.Close(protocol.CloseError)

	waitFor(t, "close hook", func() bool { return counter.closes.Load() >= 1 })
	time.Sleep(50 * time.Millisecond)
	if n := counter.closes.Load(); n != 1 {
		t.Errorf("OnClose called %d times, want 1", n)
	}
	if srv.ch.CloseCode() != protocol.CloseProtocol {
		t.Errorf("close code = %d, want first caller's %d", srv.ch.CloseCode(), protocol.CloseProtocol)
	}
	if err := srv.ch.Session().Send("e", nil); !errors.Is(err, protocol.ErrClosed) {
		t.Errorf("Send() after close = %v, want ErrClosed", err)
	}
}

func TestPeerCloseFrame(t *testing.T) {
	counter := &closeCounter{}
	srv, cli := connectPair(t, counter, nil)

	if err := cli.ch.Session().Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	waitFor(t, "server close", srv.ch.IsClosed)
	if srv.ch.CloseCode() != protocol.CloseProtocol {
		t.Errorf("server close code = %d, want %d", srv.ch.CloseCode(), protocol.CloseProtocol)
	}
	waitFor(t, "close hook", func() bool { return counter.closes.Load() == 1 })
}

func TestAlarmFailsRequest(t *testing.T) {
	server := NewEventListener().DoOnMessage(func(s *Session, msg *protocol.Message) error {
		return s.SendAlarm(msg, "unsupported")
	})
	_, cli := connectPair(t, server, nil)

	_, err := cli.ch.Session().SendAndRequest(context.Background(), "any", nil, time.Second)
	var alarm *protocol.AlarmError
	if !errors.As(err, &alarm) {
		t.Fatalf("err = %v, want AlarmError", err)
	}
	if alarm.Alarm != "unsupported" {
		t.Errorf("alarm = %q", alarm.Alarm)
	}
}

func TestUnmatchedAlarmGoesToOnError(t *testing.T) {
	errs := make(chan error, 4)
	client := NewEventListener().DoOnError(func(_ *Session, err error) { errs <- err })
	srv, _ := connectPair(t, nil, client)

	srv.ch.SendAlarm(protocol.NewMessage(protocol.FlagMessage, "nobody", "e", nil), "boom")

	select {
	case err := <-errs:
		if !errors.Is(err, protocol.ErrAlarm) {
			t.Errorf("OnError(%v), want AlarmError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnError not called")
	}
}

func TestRequestTimeout(t *testing.T) {
	_, cli := connectPair(t, nil, nil)

	start := time.Now()
	_, err := cli.ch.Session().SendAndRequest(context.Background(), "silent", nil, 50*time.Millisecond)
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout took %s", time.Since(start))
	}
	if cli.ch.Streams().Len() != 0 {
		t.Error("entry left after timeout")
	}
}

func TestRequestContextCancel(t *testing.T) {
	_, cli := connectPair(t, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := cli.ch.Session().SendAndRequest(ctx, "silent", nil, time.Minute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	if cli.ch.Streams().Len() != 0 {
		t.Error("entry left after cancel")
	}
}

func TestCloseFailsOutstandingSubscribe(t *testing.T) {
	srv, cli := connectPair(t, nil, nil)

	errs := make(chan error, 4)
	_, err := cli.ch.Session().SendAndSubscribe("feed", nil, time.Minute, func(_ *protocol.Message, err error) {
		errs <- err
	})
	if err != nil {
		t.Fatal(err)
	}

	srv.ch.Session().Close()

	select {
	case err := <-errs:
		if !errors.Is(err, protocol.ErrConnection) {
			t.Errorf("err = %v, want ConnectionError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber not notified")
	}
	select {
	case err := <-errs:
		t.Errorf("subscriber notified twice: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestListenerPanicReportedToOnError(t *testing.T) {
	errs := make(chan error, 4)
	server := NewEventListener().
		On("boom", func(*Session, *protocol.Message) error { panic("kaboom") }).
		On("echo", func(s *Session, msg *protocol.Message) error {
			return s.Reply(msg, msg.Entity())
		}).
		DoOnError(func(_ *Session, err error) { errs <- err })

	srv, cli := connectPair(t, server, nil)

	cli.ch.Session().Send("boom", nil)
	select {
	case err := <-errs:
		var pe *PanicError
		if !errors.As(err, &pe) || pe.Hook != "OnMessage" {
			t.Fatalf("OnError(%v), want PanicError from OnMessage", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnError not called")
	}

	if srv.ch.IsClosed() {
		t.Fatal("panic closed the channel")
	}
	reply, err := cli.ch.Session().SendAndRequest(context.Background(), "echo", protocol.NewStringEntity("still here"), time.Second)
	if err != nil || reply.Entity().String() != "still here" {
		t.Errorf("echo after panic = %v, %v", reply, err)
	}
}

func TestFragmentedRequestRoundTrip(t *testing.T) {
	scfg := newTestConfig(t, RoleServer)
	ccfg := newTestConfig(t, RoleClient)
	scfg.Fragment.MaxSize = 1024
	scfg.Fragment.TempDir = t.TempDir()
	ccfg.Fragment.MaxSize = 1024
	ccfg.Fragment.TempDir = t.TempDir()

	server := NewEventListener().On("upload", func(s *Session, msg *protocol.Message) error {
		b, err := msg.Entity().Bytes()
		if err != nil {
			return err
		}
		return s.Reply(msg, protocol.NewBytesEntity(bytes.ToUpper(b)).
			PutMeta("size", strconv.Itoa(len(b))))
	})
	_, cli := connectPairWith(t, scfg, ccfg, server, nil)

	payload := bytes.Repeat([]byte("abcdefgh"), 1300) // 10400 bytes, 11 fragments each way
	reply, err := cli.ch.Session().SendAndRequest(context.Background(), "upload",
		protocol.NewBytesEntity(payload).PutMeta(protocol.MetaDataType, "text/plain"), 2*time.Second)
	if err != nil {
		t.Fatalf("SendAndRequest() error = %v", err)
	}
	if reply.Meta("size") != strconv.Itoa(len(payload)) {
		t.Errorf("server saw %s bytes, want %d", reply.Meta("size"), len(payload))
	}
	got, _ := reply.Entity().Bytes()
	if !bytes.Equal(got, bytes.ToUpper(payload)) {
		t.Error("reply payload differs")
	}
}

func TestNonBlockingRequestAndCancel(t *testing.T) {
	release := make(chan struct{})
	server := NewEventListener().On("slow", func(s *Session, msg *protocol.Message) error {
		<-release
		return s.Reply(msg, protocol.NewStringEntity("late"))
	})
	_, cli := connectPair(t, server, nil)

	calls := make(chan struct{}, 1)
	st, err := cli.ch.Session().SendAndRequestAsync("slow", nil, time.Minute, func(*protocol.Message, error) {
		calls <- struct{}{}
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.SID() == "" {
		t.Fatal("empty stream id")
	}
	st.Cancel()
	close(release)

	select {
	case <-calls:
		t.Error("callback invoked after Cancel")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConcurrentSendsDoNotInterleave(t *testing.T) {
	cfg := newTestConfig(t, RoleClient)
	cfg.Fragment.MaxSize = 1024
	p, err := NewProcessor(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	local, wire := newMemPair()
	ch := NewChannel(local, p)
	t.Cleanup(func() { ch.Close(protocol.CloseProtocol) })

	const senders, perSender = 8, 4
	payload := bytes.Repeat([]byte("x"), 5*1024+100) // 6 fragments
	wantFrags := 6

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				sid := "s" + strconv.Itoa(i) + "-" + strconv.Itoa(j)
				f := protocol.MessageFrame(protocol.FlagMessage, sid, "bulk", protocol.NewBytesEntity(payload))
				if err := ch.Send(f, nil); err != nil {
					t.Errorf("Send(%s) error = %v", sid, err)
				}
			}
		}(i)
	}
	wg.Wait()

	total := senders * perSender * wantFrags
	seen := make(map[string]bool)
	var current string
	next := 0
	for n := 0; n < total; n++ {
		f := readFrame(t, wire)
		sid := f.SID()
		idx, err := f.Message.Entity().MetaAsInt(protocol.MetaDataFragmentIdx)
		if err != nil {
			t.Fatalf("frame %d of %s has no fragment index", n, sid)
		}

		if sid != current {
			if current != "" && next != wantFrags {
				t.Fatalf("run of %s broken after %d fragments by %s", current, next, sid)
			}
			if seen[sid] {
				t.Fatalf("%s resumed after another sid was written", sid)
			}
			seen[sid] = true
			current, next = sid, 0
		}
		if idx != next {
			t.Fatalf("%s fragment %d written at position %d", sid, idx, next)
		}
		next++
	}
	if len(seen) != senders*perSender {
		t.Errorf("saw %d sids, want %d", len(seen), senders*perSender)
	}
}

func TestAlarmDropsPartialReassembly(t *testing.T) {
	errs := make(chan error, 4)
	l := NewEventListener().DoOnError(func(_ *Session, err error) { errs <- err })
	sch, raw := serveRaw(t, l)

	raw.Write(protocol.ConnectFrame("c1", "tcp://host/"))
	readFrame(t, raw)

	first := protocol.NewBytesEntity(bytes.Repeat([]byte("a"), 1024)).
		PutMeta(protocol.MetaDataLength, "4096").
		PutMeta(protocol.MetaDataFragmentIdx, "0")
	raw.Write(protocol.MessageFrame(protocol.FlagMessage, "big", "upload", first))
	waitFor(t, "partial reassembly", func() bool { return sch.assembler.Len() == 1 })

	raw.Write(protocol.AlarmFrame(protocol.NewMessage(protocol.FlagMessage, "big", "upload", nil), "abort"))
	waitFor(t, "reassembly release", func() bool { return sch.assembler.Len() == 0 })

	select {
	case err := <-errs:
		if !errors.Is(err, protocol.ErrAlarm) {
			t.Errorf("OnError(%v), want AlarmError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnError not called")
	}
}

func TestCancelledRequestReleasesReply(t *testing.T) {
	scfg := newTestConfig(t, RoleServer)
	ccfg := newTestConfig(t, RoleClient)
	scfg.Fragment.MaxSize = 1024
	dir := t.TempDir()
	ccfg.Fragment.TempDir = dir

	payload := bytes.Repeat([]byte("r"), 4096)
	server := NewEventListener().On("big", func(s *Session, msg *protocol.Message) error {
		return s.Reply(msg, protocol.NewBytesEntity(payload))
	})
	_, cli := connectPairWith(t, scfg, ccfg, server, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 20; i++ {
		reply, err := cli.ch.Session().SendAndRequest(ctx, "big", nil, time.Second)
		if err == nil {
			reply.Entity().Release()
		} else if !errors.Is(err, context.Canceled) {
			t.Fatalf("SendAndRequest() error = %v", err)
		}
	}

	waitFor(t, "reassembly files removed", func() bool {
		entries, err := os.ReadDir(dir)
		return err == nil && len(entries) == 0
	})
}
