// Package client connects to a SocketD server.
//
//	c, err := client.New("sd:tcp://127.0.0.1:8602/?@=demo", tcp.NewDialer())
//	session, err := c.Listen(listener).Open(ctx)
//
// The returned Session survives reconnects: when the connection drops and
// auto-reconnect is on, the heartbeat re-dials and the same Session is
// bound to the new connection.
package client

import (
	"context"

	"github.com/socketd-go/socketd/pkg/core"
	"github.com/socketd-go/socketd/pkg/protocol"
)

// Client builds sessions for one server URL.
type Client struct {
	config   *Config
	dialer   Dialer
	listener core.Listener
}

// New creates a client for rawURL that dials with dialer.
func New(rawURL string, dialer Dialer, opts ...Option) (*Client, error) {
	cfg, err := ParseConfig(rawURL, opts...)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg, dialer), nil
}

// NewWithConfig creates a client from a parsed config.
func NewWithConfig(cfg *Config, dialer Dialer) *Client {
	return &Client{config: cfg, dialer: dialer}
}

// Config returns the client config.
func (c *Client) Config() *Config { return c.config }

// Listen sets the listener for sessions opened afterwards.
func (c *Client) Listen(l core.Listener) *Client {
	c.listener = l
	return c
}

// Open connects and completes the handshake. On success the heartbeat is
// running and the session is ready.
func (c *Client) Open(ctx context.Context) (*core.Session, error) {
	p, err := core.NewProcessor(c.config.CoreConfig(), c.listener)
	if err != nil {
		return nil, err
	}

	cc := newClientChannel(c.config, NewConnector(c.config, c.dialer, p))
	if err := cc.connect(ctx, false); err != nil {
		cc.Close(protocol.CloseError)
		return nil, err
	}
	cc.startHeartbeat()
	return cc.session, nil
}
