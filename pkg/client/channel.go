package client

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/socketd-go/socketd/pkg/core"
	"github.com/socketd-go/socketd/pkg/protocol"
	"github.com/socketd-go/socketd/pkg/stream"
)

// clientChannel keeps one session alive across connections. It implements
// core.Conn by delegating to the current channel and re-dialing when the
// connection is gone and auto-reconnect is on.
type clientChannel struct {
	config    *Config
	connector *Connector
	session   *core.Session
	logger    *slog.Logger

	mu      sync.Mutex // serializes connects
	current atomic.Pointer[core.Channel]

	closed    atomic.Bool
	heartbeat chan struct{} // closed to stop the heartbeat goroutine
	stopOnce  sync.Once
}

func newClientChannel(cfg *Config, connector *Connector) *clientChannel {
	cc := &clientChannel{
		config:    cfg,
		connector: connector,
		logger:    cfg.Logger,
		heartbeat: make(chan struct{}),
	}
	cc.session = core.NewSession(cc)
	return cc
}

// connect replaces the current channel with a fresh one, unless another
// goroutine already did.
func (cc *clientChannel) connect(ctx context.Context, force bool) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.closed.Load() {
		return protocol.ErrClosed
	}
	old := cc.current.Load()
	if !force && old != nil && old.IsValid() {
		return nil
	}
	if old != nil {
		old.Close(protocol.CloseProtocol)
	}

	ch, err := cc.connector.Connect(ctx, func(ch *core.Channel) {
		ch.SetSession(cc.session)
	})
	if err != nil {
		return err
	}
	cc.current.Store(ch)
	cc.logger.Debug("connected", "url", cc.config.URL, "session", cc.session.ID())
	return nil
}

// startHeartbeat pings the server every HeartbeatInterval, reconnecting
// dropped connections when auto-reconnect is on.
func (cc *clientChannel) startHeartbeat() {
	go func() {
		ticker := time.NewTicker(cc.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if !cc.heartbeatOnce() {
					return
				}
			case <-cc.heartbeat:
				return
			}
		}
	}()
}

// heartbeatOnce runs one heartbeat tick. It returns false when the heartbeat
// should stop.
func (cc *clientChannel) heartbeatOnce() bool {
	if cc.closed.Load() {
		return false
	}

	ch := cc.current.Load()
	if ch == nil || !ch.IsValid() {
		if !cc.config.AutoReconnect {
			cc.Close(protocol.CloseError)
			return false
		}
		if err := cc.connect(context.Background(), false); err != nil {
			cc.logger.Warn("reconnect failed", "url", cc.config.URL, "error", err)
		}
		return true
	}

	if idle := cc.config.IdleTimeout; idle > 0 && time.Since(ch.LiveTime()) > idle {
		cc.logger.Debug("idle timeout", "url", cc.config.URL)
		cc.Close(protocol.CloseError)
		return false
	}

	ch.Streams().Sweep(time.Now())
	if err := ch.SendPing(); err != nil {
		cc.logger.Debug("ping failed", "error", err)
	}
	return true
}

func (cc *clientChannel) stopHeartbeat() {
	cc.stopOnce.Do(func() { close(cc.heartbeat) })
}

// channel returns a usable channel, reconnecting when allowed.
func (cc *clientChannel) channel() (*core.Channel, error) {
	if cc.closed.Load() {
		return nil, protocol.ErrClosed
	}
	ch := cc.current.Load()
	if ch != nil && !ch.IsClosed() {
		return ch, nil
	}
	if !cc.config.AutoReconnect {
		return nil, protocol.ErrClosed
	}
	if err := cc.connect(context.Background(), false); err != nil {
		return nil, err
	}
	return cc.current.Load(), nil
}

// Send implements core.Conn. A connection failure marks the channel for
// reconnection; the heartbeat or the next send re-dials.
func (cc *clientChannel) Send(f *protocol.Frame, a *stream.Acceptor) error {
	if f.Flag == protocol.FlagClose {
		if ch := cc.current.Load(); ch != nil {
			return ch.Send(f, a)
		}
		return protocol.ErrClosed
	}

	ch, err := cc.channel()
	if err != nil {
		return err
	}
	err = ch.Send(f, a)
	if err != nil && errors.Is(err, protocol.ErrConnection) {
		cc.logger.Debug("send failed, channel marked for reconnect", "error", err)
	}
	return err
}

// Unregister implements core.Conn.
func (cc *clientChannel) Unregister(sid string) {
	if ch := cc.current.Load(); ch != nil {
		ch.Unregister(sid)
	}
}

// Close implements core.Conn. It stops the heartbeat and disables reconnection.
func (cc *clientChannel) Close(code int) {
	if !cc.closed.CompareAndSwap(false, true) {
		return
	}
	cc.stopHeartbeat()
	if ch := cc.current.Load(); ch != nil {
		ch.Close(code)
	}
	if cc.config.Executor == nil {
		if pool, ok := cc.Config().Executor.(*core.WorkerPool); ok {
			go pool.Close()
		}
	}
}

// IsValid implements core.Conn.
func (cc *clientChannel) IsValid() bool {
	ch := cc.current.Load()
	return !cc.closed.Load() && ch != nil && ch.IsValid()
}

// IsClosed implements core.Conn. A dropped connection that will be
// re-dialed does not count as closed.
func (cc *clientChannel) IsClosed() bool {
	if cc.closed.Load() {
		return true
	}
	if cc.config.AutoReconnect {
		return false
	}
	ch := cc.current.Load()
	return ch == nil || ch.IsClosed()
}

// Handshake implements core.Conn.
func (cc *clientChannel) Handshake() *protocol.Handshake {
	if ch := cc.current.Load(); ch != nil {
		return ch.Handshake()
	}
	return nil
}

// RemoteAddr implements core.Conn.
func (cc *clientChannel) RemoteAddr() net.Addr {
	if ch := cc.current.Load(); ch != nil {
		return ch.RemoteAddr()
	}
	return nil
}

// LocalAddr implements core.Conn.
func (cc *clientChannel) LocalAddr() net.Addr {
	if ch := cc.current.Load(); ch != nil {
		return ch.LocalAddr()
	}
	return nil
}

// Reconnect implements core.Conn: it drops the current connection and dials
// a new one.
func (cc *clientChannel) Reconnect() error {
	return cc.connect(context.Background(), true)
}

// Config implements core.Conn.
func (cc *clientChannel) Config() *core.Config {
	return cc.connector.processor.Config()
}
