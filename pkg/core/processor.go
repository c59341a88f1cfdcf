package core

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"

	"github.com/socketd-go/socketd/pkg/protocol"
)

// PanicError wraps a panic recovered from a listener hook or callback.
type PanicError struct {
	Hook  string
	Value any
	Stack []byte
}

// Error returns the error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("core: panic in %s: %v", e.Hook, e.Value)
}

// Processor is the protocol state machine shared by all channels of one
// client or server.
type Processor struct {
	config   *Config
	listener Listener
	logger   *slog.Logger
}

// NewProcessor creates a processor dispatching to l. cfg is validated and
// defaulted in place.
func NewProcessor(cfg *Config, l Listener) (*Processor, error) {
	if cfg == nil {
		return nil, errors.New("core: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if l == nil {
		l = SimpleListener{}
	}
	return &Processor{
		config:   cfg,
		listener: l,
		logger:   cfg.Logger,
	}, nil
}

// Config returns the processor's config.
func (p *Processor) Config() *Config { return p.config }

// Listener returns the application listener.
func (p *Processor) Listener() Listener { return p.listener }

// Serve reads frames from ch until the transport fails or the channel
// closes. Non-fatal codec errors are reported and reading continues.
func (p *Processor) Serve(ch *Channel) {
	for !ch.IsClosed() {
		f, err := ch.transport.Read()
		if err != nil {
			if ch.IsClosed() {
				return
			}
			var codecErr *protocol.CodecError
			if errors.As(err, &codecErr) && !codecErr.Fatal {
				p.onError(ch, err)
				continue
			}
			if !errors.Is(err, io.EOF) {
				p.onError(ch, protocol.NewConnectionError("read", err))
			}
			ch.Close(protocol.CloseError)
			return
		}
		p.OnReceive(ch, f)
	}
}

// OnReceive interprets one inbound frame.
func (p *Processor) OnReceive(ch *Channel, f *protocol.Frame) {
	ch.touch()
	ch.logger.Debug("recv", "flag", f.Flag, "sid", f.SID())

	if ch.Handshake() == nil {
		p.onHandshakeFrame(ch, f)
		return
	}

	switch f.Flag {
	case protocol.FlagConnect, protocol.FlagConnack:
		p.illegal(ch, f, "duplicate handshake")

	case protocol.FlagPing:
		if err := ch.Send(protocol.PongFrame(), nil); err != nil {
			p.onError(ch, err)
		}

	case protocol.FlagPong:
		// liveness already recorded by touch

	case protocol.FlagClose:
		ch.Close(protocol.CloseProtocol)

	case protocol.FlagAlarm:
		alarm := protocol.NewAlarmError(f.Message)
		ch.assembler.Release(alarm.SID)
		if !ch.streams.Fail(alarm.SID, alarm) {
			p.onError(ch, alarm)
		}

	case protocol.FlagMessage, protocol.FlagRequest, protocol.FlagSubscribe:
		full, ok := p.aggregate(ch, f)
		if !ok {
			return
		}
		p.dispatch(ch, full.Message)

	case protocol.FlagReply, protocol.FlagReplyEnd:
		full, ok := p.aggregate(ch, f)
		if !ok {
			return
		}
		ch.Retrieve(full)

	default:
		p.illegal(ch, f, "unknown flag")
	}
}

func (p *Processor) onHandshakeFrame(ch *Channel, f *protocol.Frame) {
	role := ch.Role()

	switch {
	case f.Flag == protocol.FlagConnect && role == RoleServer:
		p.onConnect(ch, f)

	case f.Flag == protocol.FlagConnack && role == RoleClient:
		p.onConnack(ch, f)

	case f.Flag == protocol.FlagConnect || f.Flag == protocol.FlagConnack:
		p.illegal(ch, f, "handshake frame for the wrong role")

	case f.Flag == protocol.FlagClose:
		// The peer refused the handshake.
		ch.resolveHandshake(protocol.ErrConnectionRejected)
		ch.Close(protocol.CloseProtocol)

	default:
		ch.logger.Warn("frame before handshake", "flag", f.Flag, "sid", f.SID())
		p.onError(ch, protocol.NewProtocolError(f.Flag, protocol.CloseProtocol, "frame before handshake"))
		ch.SendClose()
		ch.Close(protocol.CloseProtocol)
	}
}

// onConnect attaches the handshake, then runs the open hook on the executor
// and only acknowledges once it has accepted the connection.
func (p *Processor) onConnect(ch *Channel, f *protocol.Frame) {
	hs, err := protocol.NewHandshake(f.Message)
	if err != nil {
		p.onError(ch, err)
		ch.SendClose()
		ch.Close(protocol.CloseError)
		return
	}
	if !ch.setHandshake(hs) {
		p.illegal(ch, f, "duplicate handshake")
		return
	}

	connect := f.Message
	p.config.Executor.Execute(func() {
		s := ch.Session()
		if err := p.safeOpen(s); err != nil {
			ch.logger.Warn("connection rejected", "session", s.ID(), "error", err)
			ch.SendClose()
			ch.Close(protocol.CloseError)
			return
		}
		if err := ch.Send(protocol.ConnackFrame(connect), nil); err != nil {
			p.onError(ch, err)
			return
		}
		ch.resolveHandshake(nil)
	})
}

// onConnack attaches the handshake, runs the open hook, then releases the
// connector waiting on the handshake.
func (p *Processor) onConnack(ch *Channel, f *protocol.Frame) {
	hs, err := protocol.NewHandshake(f.Message)
	if err != nil {
		ch.resolveHandshake(err)
		p.onError(ch, err)
		ch.Close(protocol.CloseError)
		return
	}
	if !ch.setHandshake(hs) {
		p.illegal(ch, f, "duplicate handshake")
		return
	}

	p.config.Executor.Execute(func() {
		if err := p.safeOpen(ch.Session()); err != nil {
			ch.resolveHandshake(err)
			ch.Close(protocol.CloseError)
			return
		}
		ch.resolveHandshake(nil)
	})
}

// aggregate runs f through reassembly. ok is false while fragments are
// still outstanding or when reassembly failed.
func (p *Processor) aggregate(ch *Channel, f *protocol.Frame) (*protocol.Frame, bool) {
	full, err := ch.assembler.Aggregate(f)
	if err != nil {
		p.onError(ch, err)
		return nil, false
	}
	return full, full != nil
}

func (p *Processor) dispatch(ch *Channel, msg *protocol.Message) {
	p.config.Executor.Execute(func() {
		s := ch.Session()
		defer msg.Entity().Release()

		err := p.guard("OnMessage", func() error {
			return p.listener.OnMessage(s, msg)
		})
		if err != nil {
			p.reportError(s, err)
		}
	})
}

// illegal closes the channel for a frame the protocol does not allow here.
func (p *Processor) illegal(ch *Channel, f *protocol.Frame, reason string) {
	ch.logger.Warn("illegal frame", "flag", f.Flag, "sid", f.SID(), "reason", reason)
	p.onError(ch, protocol.NewProtocolError(f.Flag, protocol.CloseProtocolIllegal, reason))
	ch.Close(protocol.CloseProtocolIllegal)
}

// channelClosed is called exactly once per channel, from Channel.Close.
func (p *Processor) channelClosed(ch *Channel) {
	p.config.Executor.Execute(func() {
		s := ch.Session()
		err := p.guard("OnClose", func() error {
			p.listener.OnClose(s)
			return nil
		})
		if err != nil {
			p.reportError(s, err)
		}
	})
}

// onError reports err through the listener on the executor.
func (p *Processor) onError(ch *Channel, err error) {
	p.config.Executor.Execute(func() {
		p.reportError(ch.Session(), err)
	})
}

func (p *Processor) safeOpen(s *Session) error {
	return p.guard("OnOpen", func() error {
		return p.listener.OnOpen(s)
	})
}

// reportError calls OnError; a panic there is only logged.
func (p *Processor) reportError(s *Session, err error) {
	p.logger.Debug("listener error", "session", s.ID(), "error", err)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("listener panic",
				"hook", "OnError",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	p.listener.OnError(s, err)
}

// guard runs fn, converting a panic into a *PanicError.
func (p *Processor) guard(hook string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			p.logger.Error("listener panic",
				"hook", hook,
				"panic", r,
				"stack", string(stack))
			err = &PanicError{Hook: hook, Value: r, Stack: stack}
		}
	}()
	return fn()
}
