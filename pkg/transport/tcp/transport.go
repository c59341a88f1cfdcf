// Package tcp is the stream-socket transport for the tcp and tcps schemes.
package tcp

import (
	"bufio"
	"net"
	"sync/atomic"

	"github.com/socketd-go/socketd/pkg/protocol"
)

// Schemes served by this package.
const (
	Scheme       = "tcp"
	SchemeSecure = "tcps"
)

const bufferSize = 64 * 1024

// Transport moves frames over a net.Conn using a protocol.Codec.
// Writes are buffered and flushed once per frame.
type Transport struct {
	conn   net.Conn
	codec  protocol.Codec
	r      *bufio.Reader
	w      *bufio.Writer
	closed atomic.Bool
}

// New wraps conn. A nil codec selects protocol.NewBinaryCodec().
func New(conn net.Conn, codec protocol.Codec) *Transport {
	if codec == nil {
		codec = protocol.NewBinaryCodec()
	}
	return &Transport{
		conn:  conn,
		codec: codec,
		r:     bufio.NewReaderSize(conn, bufferSize),
		w:     bufio.NewWriterSize(conn, bufferSize),
	}
}

// Write implements core.Transport.
func (t *Transport) Write(f *protocol.Frame) error {
	if t.closed.Load() {
		return net.ErrClosed
	}
	if err := t.codec.Write(t.w, f); err != nil {
		return err
	}
	return t.w.Flush()
}

// Read implements core.Transport.
func (t *Transport) Read() (*protocol.Frame, error) {
	return t.codec.Read(t.r)
}

// IsValid implements core.Transport.
func (t *Transport) IsValid() bool {
	return !t.closed.Load()
}

// Close implements core.Transport.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.conn.Close()
}

// RemoteAddr implements core.Transport.
func (t *Transport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// LocalAddr implements core.Transport.
func (t *Transport) LocalAddr() net.Addr { return t.conn.LocalAddr() }
