package core

import (
	"net"

	"github.com/socketd-go/socketd/pkg/protocol"
)

// Transport is one physical connection. Implementations encode frames with
// a protocol.Codec and move them over a socket, a WebSocket or any other
// byte pump.
//
// Write is only ever called by one goroutine at a time; the owning Channel
// serializes it. Read is called from the channel's single read goroutine.
type Transport interface {
	// Write sends one complete frame.
	Write(f *protocol.Frame) error

	// Read blocks until the next frame arrives. It returns io.EOF when the
	// peer closed the connection cleanly. A non-fatal *protocol.CodecError
	// leaves the transport readable.
	Read() (*protocol.Frame, error)

	// IsValid reports whether the connection is still usable.
	IsValid() bool

	// Close releases the connection. It is safe to call more than once.
	Close() error

	RemoteAddr() net.Addr
	LocalAddr() net.Addr
}
