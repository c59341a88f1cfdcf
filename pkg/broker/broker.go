// Package broker relays messages between peers connected to one server.
//
// Peers name themselves with the "@" handshake parameter
// (sd:tcp://host:8602/?@=worker). A message whose entity carries "@" meta
// is forwarded instead of being handled locally:
//
//	"worker"   one session named worker (round robin), replies routed back
//	"worker*"  every session named worker, fire-and-forget
//
// Messages without "@" meta go to the fallback listener.
package broker

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/socketd-go/socketd/pkg/core"
	"github.com/socketd-go/socketd/pkg/protocol"
)

// Broker is a core.Listener that keeps a registry of named sessions.
type Broker struct {
	fallback core.Listener
	logger   *slog.Logger

	mu    sync.RWMutex
	peers map[string][]*core.Session
	next  atomic.Uint64
}

// New creates a broker. fallback receives the lifecycle hooks and the
// messages that carry no "@" meta; nil means none.
func New(fallback core.Listener) *Broker {
	if fallback == nil {
		fallback = core.SimpleListener{}
	}
	return &Broker{
		fallback: fallback,
		logger:   slog.Default().With("component", "socketd-broker"),
		peers:    make(map[string][]*core.Session),
	}
}

// WithLogger sets the broker's logger.
func (b *Broker) WithLogger(l *slog.Logger) *Broker {
	if l != nil {
		b.logger = l
	}
	return b
}

// OnOpen implements core.Listener. Named sessions join the registry after
// the fallback accepts them.
func (b *Broker) OnOpen(s *core.Session) error {
	if err := b.fallback.OnOpen(s); err != nil {
		return err
	}
	if name := s.Name(); name != "" {
		b.mu.Lock()
		b.peers[name] = append(b.peers[name], s)
		b.mu.Unlock()
		b.logger.Debug("peer joined", "name", name, "session", s.ID())
	}
	return nil
}

// OnClose implements core.Listener.
func (b *Broker) OnClose(s *core.Session) {
	b.remove(s)
	b.fallback.OnClose(s)
}

// OnError implements core.Listener.
func (b *Broker) OnError(s *core.Session, err error) {
	b.fallback.OnError(s, err)
}

// OnMessage implements core.Listener.
func (b *Broker) OnMessage(s *core.Session, msg *protocol.Message) error {
	at := msg.Meta(protocol.MetaAt)
	if at == "" {
		return b.fallback.OnMessage(s, msg)
	}

	if name, ok := strings.CutSuffix(at, "*"); ok {
		return b.broadcast(s, name, msg)
	}

	target := b.pick(at)
	if target == nil {
		err := fmt.Errorf("broker: no peer named %q", at)
		if msg.IsRequest() || msg.IsSubscribe() {
			return s.SendAlarm(msg, err.Error())
		}
		return err
	}
	return b.forward(s, target, msg)
}

// Peers returns the sessions registered under name.
func (b *Broker) Peers(name string) []*core.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*core.Session, len(b.peers[name]))
	copy(out, b.peers[name])
	return out
}

// Names returns every registered peer name.
func (b *Broker) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.peers))
	for name := range b.peers {
		names = append(names, name)
	}
	return names
}

func (b *Broker) remove(s *core.Session) {
	name := s.Name()
	if name == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.peers[name]
	for i, p := range list {
		if p == s {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.peers, name)
	} else {
		b.peers[name] = list
	}
}

// pick returns the next valid session named name, or nil.
func (b *Broker) pick(name string) *core.Session {
	peers := b.Peers(name)
	if len(peers) == 0 {
		return nil
	}
	start := b.next.Add(1)
	for i := range peers {
		if p := peers[(start+uint64(i))%uint64(len(peers))]; p.IsValid() {
			return p
		}
	}
	return nil
}

// broadcast sends msg to every session named name except the sender.
// Sessions that fail the write are dropped from the registry.
func (b *Broker) broadcast(from *core.Session, name string, msg *protocol.Message) error {
	data, err := msg.Entity().Bytes()
	if err != nil {
		return err
	}

	for _, p := range b.Peers(name) {
		if p == from {
			continue
		}
		e := msg.Entity().WithData(bytes.NewReader(data), len(data))
		if err := p.Send(msg.Event(), e); err != nil {
			b.logger.Debug("broadcast failed", "name", name, "session", p.ID(), "error", err)
			b.remove(p)
		}
	}
	return nil
}

// forward relays msg to target. Requests and subscriptions are bridged:
// every reply from target is replayed to the sender on the original sid.
func (b *Broker) forward(from, target *core.Session, msg *protocol.Message) error {
	switch {
	case msg.IsRequest():
		_, err := target.SendAndRequestAsync(msg.Event(), msg.Entity(), 0, func(reply *protocol.Message, err error) {
			b.relay(from, msg, reply, err)
		})
		return err
	case msg.IsSubscribe():
		_, err := target.SendAndSubscribe(msg.Event(), msg.Entity(), 0, func(reply *protocol.Message, err error) {
			b.relay(from, msg, reply, err)
		})
		return err
	default:
		return target.Send(msg.Event(), msg.Entity())
	}
}

func (b *Broker) relay(from *core.Session, origin, reply *protocol.Message, err error) {
	var sendErr error
	switch {
	case err != nil:
		sendErr = from.SendAlarm(origin, err.Error())
	case reply.IsEnd():
		sendErr = from.ReplyEnd(origin, reply.Entity())
	default:
		sendErr = from.Reply(origin, reply.Entity())
	}
	if sendErr != nil {
		b.logger.Debug("relay failed", "sid", origin.SID(), "event", origin.Event(), "error", sendErr)
	}
}
