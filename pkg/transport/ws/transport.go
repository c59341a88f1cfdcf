// Package ws is the WebSocket transport for the ws and wss schemes, built
// on gorilla/websocket. Each frame travels as one binary message.
package ws

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/socketd-go/socketd/pkg/protocol"
)

// Schemes served by this package.
const (
	Scheme       = "ws"
	SchemeSecure = "wss"
)

const closeWriteWait = time.Second

// Transport moves frames over a WebSocket connection.
type Transport struct {
	conn   *websocket.Conn
	codec  protocol.Codec
	closed atomic.Bool
}

// New wraps conn. A nil codec selects protocol.NewBinaryCodec().
func New(conn *websocket.Conn, codec protocol.Codec) *Transport {
	if codec == nil {
		codec = protocol.NewBinaryCodec()
	}
	if bc, ok := codec.(*protocol.BinaryCodec); ok && bc.MaxFrameSize > 0 {
		conn.SetReadLimit(int64(bc.MaxFrameSize))
	}
	return &Transport{conn: conn, codec: codec}
}

// Write implements core.Transport.
func (t *Transport) Write(f *protocol.Frame) error {
	if t.closed.Load() {
		return net.ErrClosed
	}
	w, err := t.conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if err := t.codec.Write(w, f); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Read implements core.Transport. A normal WebSocket close reads as io.EOF.
func (t *Transport) Read() (*protocol.Frame, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, net.ErrClosed) {
				return nil, io.EOF
			}
			return nil, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		return t.codec.Read(bytes.NewReader(data))
	}
}

// IsValid implements core.Transport.
func (t *Transport) IsValid() bool {
	return !t.closed.Load()
}

// Close implements core.Transport. It sends a close message before
// dropping the connection.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
	return t.conn.Close()
}

// RemoteAddr implements core.Transport.
func (t *Transport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// LocalAddr implements core.Transport.
func (t *Transport) LocalAddr() net.Addr { return t.conn.LocalAddr() }
