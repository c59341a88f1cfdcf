package client

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/socketd-go/socketd/pkg/core"
	"github.com/socketd-go/socketd/pkg/protocol"
)

// Connector dials a transport and runs the handshake.
type Connector struct {
	config    *Config
	dialer    Dialer
	processor *core.Processor
}

// NewConnector creates a connector that uses dialer and dispatches to p.
func NewConnector(cfg *Config, dialer Dialer, p *core.Processor) *Connector {
	return &Connector{config: cfg, dialer: dialer, processor: p}
}

// Connect dials, starts the read goroutine, sends Connect and waits for
// Connack. Dial and handshake together are bounded by ConnectTimeout.
// prepare, when non-nil, runs on the new channel before Connect is sent.
func (c *Connector) Connect(ctx context.Context, prepare func(*core.Channel)) (*core.Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	codec := c.processor.Config().Codec()
	t, err := c.dialer.Dial(ctx, c.config, codec)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, protocol.NewTimeoutError("connect", "", c.config.ConnectTimeout)
		}
		return nil, &protocol.ConnectionError{Op: "dial", URL: c.config.URL, Err: err}
	}

	ch := core.NewChannel(t, c.processor)
	if prepare != nil {
		prepare(ch)
	}
	go c.processor.Serve(ch)

	if err := ch.SendConnect(uuid.NewString(), c.config.LinkURL()); err != nil {
		ch.Close(protocol.CloseError)
		return nil, err
	}

	if err := ch.WaitHandshake(ctx); err != nil {
		ch.Close(protocol.CloseError)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, protocol.NewTimeoutError("handshake", "", c.config.ConnectTimeout)
		}
		return nil, err
	}
	return ch, nil
}
