package core

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/socketd-go/socketd/pkg/protocol"
	"github.com/socketd-go/socketd/pkg/stream"
)

// Session is the application-facing view of a connection.
type Session struct {
	id   string
	conn Conn

	attrMu sync.RWMutex
	attrs  map[string]any
}

// NewSession creates a session over conn with a fresh id.
func NewSession(conn Conn) *Session {
	return &Session{
		id:    uuid.NewString(),
		conn:  conn,
		attrs: make(map[string]any),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// IsValid reports whether the underlying connection is usable.
func (s *Session) IsValid() bool { return s.conn.IsValid() }

// Handshake returns the connection handshake, or nil before it completes.
func (s *Session) Handshake() *protocol.Handshake { return s.conn.Handshake() }

// Param returns a handshake parameter or "".
func (s *Session) Param(name string) string {
	if h := s.conn.Handshake(); h != nil {
		return h.Param(name)
	}
	return ""
}

// ParamOrDefault returns a handshake parameter or def when absent.
func (s *Session) ParamOrDefault(name, def string) string {
	if h := s.conn.Handshake(); h != nil {
		return h.ParamOrDefault(name, def)
	}
	return def
}

// Path returns the handshake URL path.
func (s *Session) Path() string {
	if h := s.conn.Handshake(); h != nil {
		return h.Path()
	}
	return ""
}

// Name returns the peer name given by the "@" handshake parameter.
func (s *Session) Name() string { return s.Param(protocol.ParamName) }

// Attr returns a session attribute.
func (s *Session) Attr(name string) any {
	s.attrMu.RLock()
	defer s.attrMu.RUnlock()
	return s.attrs[name]
}

// AttrHas reports whether a session attribute is set.
func (s *Session) AttrHas(name string) bool {
	s.attrMu.RLock()
	defer s.attrMu.RUnlock()
	_, ok := s.attrs[name]
	return ok
}

// AttrPut sets a session attribute. A nil value removes it.
func (s *Session) AttrPut(name string, value any) {
	s.attrMu.Lock()
	defer s.attrMu.Unlock()
	if value == nil {
		delete(s.attrs, name)
		return
	}
	s.attrs[name] = value
}

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// LocalAddr returns the local address.
func (s *Session) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Send sends a fire-and-forget message.
func (s *Session) Send(event string, e *protocol.Entity) error {
	return s.conn.Send(protocol.MessageFrame(protocol.FlagMessage, newSID(), event, e), nil)
}

// SendAndRequest sends a request and blocks for its single reply.
//
// A zero timeout selects Config.RequestTimeout. Expiry yields a
// *protocol.TimeoutError; cancelling ctx abandons the exchange and returns
// ctx.Err().
func (s *Session) SendAndRequest(ctx context.Context, event string, e *protocol.Entity, timeout time.Duration) (*protocol.Message, error) {
	type result struct {
		msg *protocol.Message
		err error
	}
	var (
		mu        sync.Mutex
		abandoned bool
	)
	done := make(chan result, 1)

	st, err := s.SendAndRequestAsync(event, e, timeout, func(msg *protocol.Message, err error) {
		mu.Lock()
		defer mu.Unlock()
		if abandoned {
			releaseMessage(msg)
			return
		}
		done <- result{msg, err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-done:
		return r.msg, r.err
	case <-ctx.Done():
		st.Cancel()
		mu.Lock()
		abandoned = true
		select {
		case r := <-done:
			releaseMessage(r.msg)
		default:
		}
		mu.Unlock()
		return nil, ctx.Err()
	}
}

// SendAndRequestAsync sends a request and returns at once. cb receives
// the reply, or an error on timeout, alarm or connection loss.
func (s *Session) SendAndRequestAsync(event string, e *protocol.Entity, timeout time.Duration, cb stream.Callback) (*Stream, error) {
	if timeout <= 0 {
		timeout = s.conn.Config().RequestTimeout
	}
	return s.open(protocol.FlagRequest, event, e, stream.Acceptor{
		Mode:     stream.ModeSingle,
		Timeout:  timeout,
		Callback: cb,
	})
}

// SendAndSubscribe sends a subscription. cb receives every Reply, then the
// ReplyEnd; or an error, after which no more calls are made.
func (s *Session) SendAndSubscribe(event string, e *protocol.Entity, timeout time.Duration, cb stream.Callback) (*Stream, error) {
	if timeout <= 0 {
		timeout = s.conn.Config().StreamTimeout
	}
	return s.open(protocol.FlagSubscribe, event, e, stream.Acceptor{
		Mode:     stream.ModeSubscribe,
		Timeout:  timeout,
		Callback: cb,
	})
}

func (s *Session) open(flag protocol.Flag, event string, e *protocol.Entity, a stream.Acceptor) (*Stream, error) {
	sid := newSID()
	if err := s.conn.Send(protocol.MessageFrame(flag, sid, event, e), &a); err != nil {
		return nil, err
	}
	return &Stream{sid: sid, conn: s.conn}, nil
}

// Reply answers a request or subscription with a non-terminal reply.
func (s *Session) Reply(from *protocol.Message, e *protocol.Entity) error {
	return s.conn.Send(protocol.MessageFrame(protocol.FlagReply, from.SID(), from.Event(), e), nil)
}

// ReplyEnd sends the terminal reply of a request or subscription.
func (s *Session) ReplyEnd(from *protocol.Message, e *protocol.Entity) error {
	return s.conn.Send(protocol.MessageFrame(protocol.FlagReplyEnd, from.SID(), from.Event(), e), nil)
}

// SendAlarm rejects the exchange of from. The peer sees an AlarmError.
func (s *Session) SendAlarm(from *protocol.Message, alarm string) error {
	return s.conn.Send(protocol.AlarmFrame(from, alarm), nil)
}

// SendPing sends a heartbeat probe.
func (s *Session) SendPing() error {
	return s.conn.Send(protocol.PingFrame(), nil)
}

// Reconnect re-dials the connection. Only client sessions support it.
func (s *Session) Reconnect() error {
	return s.conn.Reconnect()
}

// Close sends a Close frame, unless the connection is already gone, and
// releases the connection. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	if !s.conn.IsClosed() {
		err = s.conn.Send(protocol.CloseFrame(), nil)
	}
	s.conn.Close(protocol.CloseProtocol)
	return err
}

// releaseMessage frees the payload of a reply nobody will read.
func releaseMessage(msg *protocol.Message) {
	if msg != nil {
		msg.Entity().Release()
	}
}

// Stream is the handle of an outstanding request or subscription.
type Stream struct {
	sid  string
	conn Conn
}

// SID returns the stream id.
func (st *Stream) SID() string { return st.sid }

// Cancel drops the registration. Replies that arrive later are discarded.
func (st *Stream) Cancel() {
	st.conn.Unregister(st.sid)
}

func newSID() string {
	return uuid.NewString()
}
