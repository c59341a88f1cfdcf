package core

import (
	"sync"

	"github.com/socketd-go/socketd/pkg/protocol"
)

// Listener receives channel events. All hooks run on the Executor.
//
// OnOpen is the authorization hook on the server: returning an error
// rejects the connection before Connack is sent. Errors returned by
// OnMessage, and panics in any hook, are reported through OnError.
type Listener interface {
	OnOpen(s *Session) error
	OnMessage(s *Session, msg *protocol.Message) error
	OnClose(s *Session)
	OnError(s *Session, err error)
}

// SimpleListener implements Listener with no-ops. Embed it to override
// only the hooks you need.
type SimpleListener struct{}

func (SimpleListener) OnOpen(*Session) error { return nil }
func (SimpleListener) OnMessage(*Session, *protocol.Message) error { return nil }
func (SimpleListener) OnClose(*Session) {}
func (SimpleListener) OnError(*Session, error) {}

// MessageHandler handles one inbound message.
type MessageHandler func(s *Session, msg *protocol.Message) error

// EventListener routes messages to handlers by event name.
// Messages without a handler go to the fallback set with DoOnMessage.
type EventListener struct {
	mu       sync.RWMutex
	handlers map[string]MessageHandler
	fallback MessageHandler
	onOpen   func(s *Session) error
	onClose  func(s *Session)
	onError  func(s *Session, err error)
}

// NewEventListener creates an empty router.
func NewEventListener() *EventListener {
	return &EventListener{handlers: make(map[string]MessageHandler)}
}

// On registers h for event, replacing any earlier handler.
func (l *EventListener) On(event string, h MessageHandler) *EventListener {
	l.mu.Lock()
	l.handlers[event] = h
	l.mu.Unlock()
	return l
}

// DoOnMessage sets the handler for events without a route.
func (l *EventListener) DoOnMessage(h MessageHandler) *EventListener {
	l.mu.Lock()
	l.fallback = h
	l.mu.Unlock()
	return l
}

// DoOnOpen sets the open hook.
func (l *EventListener) DoOnOpen(fn func(s *Session) error) *EventListener {
	l.mu.Lock()
	l.onOpen = fn
	l.mu.Unlock()
	return l
}

// DoOnClose sets the close hook.
func (l *EventListener) DoOnClose(fn func(s *Session)) *EventListener {
	l.mu.Lock()
	l.onClose = fn
	l.mu.Unlock()
	return l
}

// DoOnError sets the error hook.
func (l *EventListener) DoOnError(fn func(s *Session, err error)) *EventListener {
	l.mu.Lock()
	l.onError = fn
	l.mu.Unlock()
	return l
}

// OnOpen implements Listener.
func (l *EventListener) OnOpen(s *Session) error {
	l.mu.RLock()
	fn := l.onOpen
	l.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(s)
}

// OnMessage implements Listener.
func (l *EventListener) OnMessage(s *Session, msg *protocol.Message) error {
	l.mu.RLock()
	h, ok := l.handlers[msg.Event()]
	if !ok {
		h = l.fallback
	}
	l.mu.RUnlock()
	if h == nil {
		return nil
	}
	return h(s, msg)
}

// OnClose implements Listener.
func (l *EventListener) OnClose(s *Session) {
	l.mu.RLock()
	fn := l.onClose
	l.mu.RUnlock()
	if fn != nil {
		fn(s)
	}
}

// OnError implements Listener.
func (l *EventListener) OnError(s *Session, err error) {
	l.mu.RLock()
	fn := l.onError
	l.mu.RUnlock()
	if fn != nil {
		fn(s, err)
	}
}
