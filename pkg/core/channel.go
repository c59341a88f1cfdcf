package core

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/socketd-go/socketd/pkg/fragment"
	"github.com/socketd-go/socketd/pkg/protocol"
	"github.com/socketd-go/socketd/pkg/stream"
)

// ErrReconnectUnsupported is returned by Reconnect on channels that cannot
// re-dial, such as accepted server connections.
var ErrReconnectUnsupported = errors.New("core: reconnect not supported")

// Conn is the channel surface a Session drives. *Channel implements it; the
// client wraps a Channel to reconnect transparently.
type Conn interface {
	Send(f *protocol.Frame, a *stream.Acceptor) error
	Unregister(sid string)
	Close(code int)
	IsValid() bool
	IsClosed() bool
	Handshake() *protocol.Handshake
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
	Reconnect() error
	Config() *Config
}

// Channel owns one transport connection.
type Channel struct {
	transport Transport
	processor *Processor
	config    *Config

	streams   *stream.Manager
	assembler *fragment.Assembler

	writeMu   sync.Mutex
	closeCode atomic.Int32
	liveTime  atomic.Int64 // unix nanos of the last received frame

	handshake atomic.Pointer[protocol.Handshake]

	// one-shot handshake result
	handshakeOnce sync.Once
	handshakeDone chan struct{}
	handshakeErr  error

	session atomic.Pointer[Session]

	attachMu    sync.RWMutex
	attachments map[string]any

	logger *slog.Logger
}

// NewChannel wraps t. Inbound frames must be fed to p, normally by running
// p.Serve(ch) on a goroutine of its own.
func NewChannel(t Transport, p *Processor) *Channel {
	cfg := p.config
	ch := &Channel{
		transport:     t,
		processor:     p,
		config:        cfg,
		streams:       stream.NewManager(cfg.Executor),
		assembler:     cfg.Fragment.NewAssembler(),
		handshakeDone: make(chan struct{}),
		attachments:   make(map[string]any),
	}
	ch.liveTime.Store(time.Now().UnixNano())

	logger := cfg.Logger.With("role", cfg.Role.String())
	if addr := t.RemoteAddr(); addr != nil {
		logger = logger.With("remote", addr.String())
	}
	ch.logger = logger
	return ch
}

// Config returns the engine config the channel was built with.
func (c *Channel) Config() *Config { return c.config }

// Streams returns the channel's stream table.
func (c *Channel) Streams() *stream.Manager { return c.streams }

// Role returns the handshake role of the channel.
func (c *Channel) Role() Role { return c.config.Role }

// Send writes f to the transport.
//
// When a is non-nil it is registered for f's sid before the first byte is
// written. Payloads above the fragment threshold go out as a contiguous run
// of fragment frames; no other send interleaves with them. A write failure
// removes the registration, closes the channel and returns a ConnectionError.
func (c *Channel) Send(f *protocol.Frame, a *stream.Acceptor) error {
	if c.IsClosed() {
		return protocol.ErrClosed
	}

	if a != nil {
		if err := c.streams.Register(f.SID(), *a); err != nil {
			return err
		}
	}

	c.writeMu.Lock()
	err := c.write(f)
	c.writeMu.Unlock()

	if err != nil {
		if a != nil {
			c.streams.Remove(f.SID())
		}
		var codecErr *protocol.CodecError
		if errors.As(err, &codecErr) {
			return err
		}
		c.logger.Error("write failed", "flag", f.Flag, "sid", f.SID(), "error", err)
		c.Close(protocol.CloseError)
		return protocol.NewConnectionError("write", err)
	}
	return nil
}

// write must be called with writeMu held.
func (c *Channel) write(f *protocol.Frame) error {
	if f.Message == nil || !c.config.Fragment.ShouldFragment(f.Message.Entity()) {
		return c.transport.Write(f)
	}

	msg := f.Message
	src := msg.Entity()
	defer src.Release()

	var cursor fragment.Cursor
	for {
		frag, err := c.config.Fragment.NextFragment(src, &cursor)
		if err != nil {
			return err
		}
		if frag == nil {
			return nil
		}
		if err := c.transport.Write(protocol.MessageFrame(f.Flag, msg.SID(), msg.Event(), frag)); err != nil {
			return err
		}
	}
}

// Retrieve delivers a Reply or ReplyEnd to its stream entry. Replies with
// no live entry are dropped and false is returned.
func (c *Channel) Retrieve(f *protocol.Frame) bool {
	if c.streams.Accept(f.Message) {
		return true
	}
	c.logger.Debug("reply dropped", "flag", f.Flag, "sid", f.SID())
	f.Message.Entity().Release()
	return false
}

// Unregister drops the stream entry for sid without notifying it.
func (c *Channel) Unregister(sid string) {
	c.streams.Remove(sid)
	c.assembler.Release(sid)
}

// Close closes the channel with code. Only the first call has any effect:
// it fails every outstanding stream entry with a ConnectionError, drops
// partial reassemblies, closes the transport and fires the close hook.
func (c *Channel) Close(code int) {
	if code == protocol.CloseNone {
		code = protocol.CloseError
	}
	if !c.closeCode.CompareAndSwap(protocol.CloseNone, int32(code)) {
		return
	}

	c.logger.Debug("channel closed", "code", protocol.CloseCodeString(code))

	closedErr := protocol.NewConnectionError("close", protocol.ErrClosed)
	c.resolveHandshake(closedErr)
	c.streams.RemoveAll(closedErr)
	c.assembler.Close()
	if err := c.transport.Close(); err != nil {
		c.logger.Debug("transport close", "error", err)
	}

	c.processor.channelClosed(c)
}

// IsClosed reports whether Close has been called.
func (c *Channel) IsClosed() bool {
	return c.closeCode.Load() != protocol.CloseNone
}

// CloseCode returns the code the channel was closed with, or CloseNone.
func (c *Channel) CloseCode() int {
	return int(c.closeCode.Load())
}

// IsValid reports whether the channel is open and its transport alive.
func (c *Channel) IsValid() bool {
	return !c.IsClosed() && c.transport.IsValid()
}

// Reconnect implements Conn. Plain channels cannot re-dial.
func (c *Channel) Reconnect() error {
	return ErrReconnectUnsupported
}

// Handshake returns the attached handshake, or nil before it completes.
func (c *Channel) Handshake() *protocol.Handshake {
	return c.handshake.Load()
}

// setHandshake attaches h. It reports false if one was already attached.
func (c *Channel) setHandshake(h *protocol.Handshake) bool {
	return c.handshake.CompareAndSwap(nil, h)
}

// WaitHandshake blocks until the handshake resolves or ctx is done.
func (c *Channel) WaitHandshake(ctx context.Context) error {
	select {
	case <-c.handshakeDone:
		return c.handshakeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolveHandshake sets the handshake result once; later calls are ignored.
func (c *Channel) resolveHandshake(err error) {
	c.handshakeOnce.Do(func() {
		c.handshakeErr = err
		close(c.handshakeDone)
	})
}

// Session returns the session bound to the channel, creating one on first use.
func (c *Channel) Session() *Session {
	if s := c.session.Load(); s != nil {
		return s
	}
	s := NewSession(c)
	if c.session.CompareAndSwap(nil, s) {
		return s
	}
	return c.session.Load()
}

// SetSession binds s to the channel. The client uses it to keep one Session
// across reconnects.
func (c *Channel) SetSession(s *Session) {
	c.session.Store(s)
}

// Attachment returns a transport-specific value stored on the channel.
func (c *Channel) Attachment(key string) any {
	c.attachMu.RLock()
	defer c.attachMu.RUnlock()
	return c.attachments[key]
}

// PutAttachment stores a value on the channel. A nil value removes the key.
func (c *Channel) PutAttachment(key string, value any) {
	c.attachMu.Lock()
	defer c.attachMu.Unlock()
	if value == nil {
		delete(c.attachments, key)
		return
	}
	c.attachments[key] = value
}

// LiveTime returns when the last frame was received.
func (c *Channel) LiveTime() time.Time {
	return time.Unix(0, c.liveTime.Load())
}

func (c *Channel) touch() {
	c.liveTime.Store(time.Now().UnixNano())
}

// RemoteAddr returns the peer address.
func (c *Channel) RemoteAddr() net.Addr { return c.transport.RemoteAddr() }

// LocalAddr returns the local address.
func (c *Channel) LocalAddr() net.Addr { return c.transport.LocalAddr() }

// SendConnect starts the client handshake for url.
func (c *Channel) SendConnect(sid, url string) error {
	return c.Send(protocol.ConnectFrame(sid, url), nil)
}

// SendPing sends a heartbeat probe.
func (c *Channel) SendPing() error {
	return c.Send(protocol.PingFrame(), nil)
}

// SendClose tells the peer the channel is closing.
func (c *Channel) SendClose() error {
	return c.Send(protocol.CloseFrame(), nil)
}

// SendAlarm rejects the exchange of from with an alarm text.
func (c *Channel) SendAlarm(from *protocol.Message, alarm string) error {
	return c.Send(protocol.AlarmFrame(from, alarm), nil)
}
