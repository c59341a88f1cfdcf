package client

import (
	"context"

	"github.com/socketd-go/socketd/pkg/core"
	"github.com/socketd-go/socketd/pkg/protocol"
)

// Dialer opens a transport to the target of cfg.
type Dialer interface {
	Dial(ctx context.Context, cfg *Config, codec protocol.Codec) (core.Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, cfg *Config, codec protocol.Codec) (core.Transport, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, cfg *Config, codec protocol.Codec) (core.Transport, error) {
	return f(ctx, cfg, codec)
}
