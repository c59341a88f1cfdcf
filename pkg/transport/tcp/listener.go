package tcp

import (
	"crypto/tls"
	"net"

	"github.com/socketd-go/socketd/pkg/core"
	"github.com/socketd-go/socketd/pkg/protocol"
)

// Listener accepts tcp (or tcps) connections as transports.
type Listener struct {
	ln    net.Listener
	codec protocol.Codec
}

// Listen opens a listener on addr. A non-nil tlsCfg serves tcps.
func Listen(addr string, tlsCfg *tls.Config, codec protocol.Codec) (*Listener, error) {
	var (
		ln  net.Listener
		err error
	)
	if tlsCfg != nil {
		ln, err = tls.Listen("tcp", addr, tlsCfg)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	return NewListener(ln, codec), nil
}

// NewListener wraps an existing net.Listener.
func NewListener(ln net.Listener, codec protocol.Codec) *Listener {
	return &Listener{ln: ln, codec: codec}
}

// Accept waits for the next connection.
func (l *Listener) Accept() (core.Transport, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return New(conn, l.codec), nil
}

// Close stops accepting.
func (l *Listener) Close() error { return l.ln.Close() }

// Addr returns the listen address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }
