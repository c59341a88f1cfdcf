package core

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/socketd-go/socketd/pkg/protocol"
)

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string { return string(a) }

// memTransport is an in-memory Transport. Frames go through the binary codec
// so tests exercise the wire format.
type memTransport struct {
	codec    *protocol.BinaryCodec
	name     string
	in       chan []byte
	out      chan []byte
	done     chan struct{}
	peerDone chan struct{}
	once     sync.Once
}

func newMemPair() (*memTransport, *memTransport) {
	ab := make(chan []byte, 1024)
	ba := make(chan []byte, 1024)
	aDone := make(chan struct{})
	bDone := make(chan struct{})
	codec := protocol.NewBinaryCodec()
	a := &memTransport{codec: codec, name: "client", in: ba, out: ab, done: aDone, peerDone: bDone}
	b := &memTransport{codec: codec, name: "server", in: ab, out: ba, done: bDone, peerDone: aDone}
	return a, b
}

func (t *memTransport) Write(f *protocol.Frame) error {
	var buf bytes.Buffer
	if err := t.codec.Write(&buf, f); err != nil {
		return err
	}
	select {
	case <-t.done:
		return io.ErrClosedPipe
	case <-t.peerDone:
		return io.ErrClosedPipe
	default:
	}
	select {
	case t.out <- buf.Bytes():
		return nil
	case <-t.done:
		return io.ErrClosedPipe
	case <-t.peerDone:
		return io.ErrClosedPipe
	}
}

func (t *memTransport) Read() (*protocol.Frame, error) {
	select {
	case b := <-t.in:
		return t.codec.Decode(b)
	default:
	}
	select {
	case b := <-t.in:
		return t.codec.Decode(b)
	case <-t.done:
		return nil, io.EOF
	case <-t.peerDone:
		return nil, io.EOF
	}
}

func (t *memTransport) IsValid() bool {
	select {
	case <-t.done:
		return false
	case <-t.peerDone:
		return false
	default:
		return true
	}
}

func (t *memTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

func (t *memTransport) RemoteAddr() net.Addr { return memAddr("peer-of-" + t.name) }
func (t *memTransport) LocalAddr() net.Addr { return memAddr(t.name) }

// readFrame reads one frame from a raw transport with a deadline.
func readFrame(t *testing.T, tr *memTransport) *protocol.Frame {
	t.Helper()
	type result struct {
		f   *protocol.Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := tr.Read()
		ch <- result{f, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("Read() error = %v", r.err)
		}
		return r.f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out reading frame")
		return nil
	}
}

func newTestConfig(t *testing.T, role Role) *Config {
	t.Helper()
	pool := NewWorkerPool(4, 64)
	t.Cleanup(pool.Close)
	cfg := DefaultConfig(role)
	cfg.Executor = pool
	return cfg
}

type testPeer struct {
	proc *Processor
	ch   *Channel
}

// connectPair wires a client and a server channel over memory and completes
// the handshake.
func connectPair(t *testing.T, server, client Listener) (*testPeer, *testPeer) {
	t.Helper()
	return connectPairWith(t, newTestConfig(t, RoleServer), newTestConfig(t, RoleClient), server, client)
}

func connectPairWith(t *testing.T, scfg, ccfg *Config, server, client Listener) (*testPeer, *testPeer) {
	t.Helper()

	sp, err := NewProcessor(scfg, server)
	if err != nil {
		t.Fatal(err)
	}
	cp, err := NewProcessor(ccfg, client)
	if err != nil {
		t.Fatal(err)
	}

	ct, st := newMemPair()
	sch := NewChannel(st, sp)
	cch := NewChannel(ct, cp)
	go sp.Serve(sch)
	go cp.Serve(cch)
	t.Cleanup(func() {
		cch.Close(protocol.CloseProtocol)
		sch.Close(protocol.CloseProtocol)
	})

	if err := cch.SendConnect("connect-1", "sd:tcp://127.0.0.1:8602/?@=client"); err != nil {
		t.Fatalf("SendConnect() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cch.WaitHandshake(ctx); err != nil {
		t.Fatalf("WaitHandshake() error = %v", err)
	}
	return &testPeer{sp, sch}, &testPeer{cp, cch}
}

// serveRaw starts a server channel and returns the raw client end.
func serveRaw(t *testing.T, l Listener) (*Channel, *memTransport) {
	t.Helper()
	sp, err := NewProcessor(newTestConfig(t, RoleServer), l)
	if err != nil {
		t.Fatal(err)
	}
	ct, st := newMemPair()
	sch := NewChannel(st, sp)
	go sp.Serve(sch)
	t.Cleanup(func() {
		ct.Close()
		sch.Close(protocol.CloseProtocol)
	})
	return sch, ct
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
