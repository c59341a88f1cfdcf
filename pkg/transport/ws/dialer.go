package ws

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/socketd-go/socketd/pkg/client"
	"github.com/socketd-go/socketd/pkg/core"
	"github.com/socketd-go/socketd/pkg/protocol"
)

// Dialer implements client.Dialer for ws and wss URLs.
type Dialer struct {
	// WS is the underlying gorilla dialer.
	// Default: a copy of websocket.DefaultDialer.
	WS *websocket.Dialer
}

// NewDialer returns a Dialer with default settings.
func NewDialer() *Dialer {
	d := *websocket.DefaultDialer
	return &Dialer{WS: &d}
}

// Dial implements client.Dialer.
func (d *Dialer) Dial(ctx context.Context, cfg *client.Config, codec protocol.Codec) (core.Transport, error) {
	wd := *d.WS
	if cfg.TLS != nil {
		wd.TLSClientConfig = cfg.TLS
	}

	scheme := Scheme
	if cfg.Scheme == SchemeSecure || cfg.TLS != nil {
		scheme = SchemeSecure
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     cfg.Address(),
		Path:     cfg.URI.Path,
		RawQuery: cfg.URI.RawQuery,
	}

	conn, resp, err := wd.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws: dial %s: %w (status %d)", u.Redacted(), err, resp.StatusCode)
		}
		return nil, err
	}
	return New(conn, codec), nil
}
