package tcp

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/socketd-go/socketd/pkg/client"
	"github.com/socketd-go/socketd/pkg/core"
	"github.com/socketd-go/socketd/pkg/protocol"
)

// Dialer implements client.Dialer for tcp and tcps URLs.
type Dialer struct {
	// KeepAlive is the TCP keep-alive period. Zero uses the net default.
	KeepAlive time.Duration
}

// NewDialer returns a Dialer with default settings.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Dial implements client.Dialer. The tcps scheme, or a non-nil cfg.TLS,
// selects TLS.
func (d *Dialer) Dial(ctx context.Context, cfg *client.Config, codec protocol.Codec) (core.Transport, error) {
	nd := &net.Dialer{KeepAlive: d.KeepAlive}

	if cfg.Scheme == SchemeSecure || cfg.TLS != nil {
		tlsCfg := cfg.TLS
		if tlsCfg == nil {
			tlsCfg = &tls.Config{ServerName: cfg.Host}
		}
		td := &tls.Dialer{NetDialer: nd, Config: tlsCfg}
		conn, err := td.DialContext(ctx, "tcp", cfg.Address())
		if err != nil {
			return nil, err
		}
		return New(conn, codec), nil
	}

	conn, err := nd.DialContext(ctx, "tcp", cfg.Address())
	if err != nil {
		return nil, err
	}
	return New(conn, codec), nil
}
