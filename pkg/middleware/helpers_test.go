package middleware

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/socketd-go/socketd/pkg/core"
	"github.com/socketd-go/socketd/pkg/protocol"
	"github.com/socketd-go/socketd/pkg/stream"
)

// fakeConn is a core.Conn with a fixed handshake.
type fakeConn struct {
	handshake *protocol.Handshake
	closed    bool
}

func newFakeSession(url string) *core.Session {
	msg := protocol.ConnectFrame("s1", url).Message
	h, err := protocol.NewHandshake(msg)
	if err != nil {
		panic(err)
	}
	return core.NewSession(&fakeConn{handshake: h})
}

func (c *fakeConn) Send(*protocol.Frame, *stream.Acceptor) error { return nil }
func (c *fakeConn) Unregister(string)                            {}
func (c *fakeConn) Close(int)                                    { c.closed = true }
func (c *fakeConn) IsValid() bool                                { return !c.closed }
func (c *fakeConn) IsClosed() bool                               { return c.closed }
func (c *fakeConn) Handshake() *protocol.Handshake               { return c.handshake }
func (c *fakeConn) RemoteAddr() net.Addr                         { return nil }
func (c *fakeConn) LocalAddr() net.Addr                          { return nil }
func (c *fakeConn) Reconnect() error                             { return core.ErrReconnectUnsupported }
func (c *fakeConn) Config() *core.Config                         { return core.DefaultConfig(core.RoleServer) }

// queueTransport replays queued frames on Read and records writes.
type queueTransport struct {
	mu      sync.Mutex
	in      []*protocol.Frame
	written []*protocol.Frame
	failW   bool
}

func (t *queueTransport) Write(f *protocol.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failW {
		return errors.New("write failed")
	}
	t.written = append(t.written, f)
	return nil
}

func (t *queueTransport) Read() (*protocol.Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.in) == 0 {
		return nil, io.EOF
	}
	f := t.in[0]
	t.in = t.in[1:]
	return f, nil
}

func (t *queueTransport) IsValid() bool        { return true }
func (t *queueTransport) Close() error         { return nil }
func (t *queueTransport) RemoteAddr() net.Addr { return nil }
func (t *queueTransport) LocalAddr() net.Addr  { return nil }
