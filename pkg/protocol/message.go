package protocol

import "fmt"

// Message is the addressed payload carried by non-control frames.
//
// A message is not mutated after construction. The sid identifies one
// logical exchange within a connection; the event is the routing key.
type Message struct {
	flag   Flag
	sid    string
	event  string
	entity *Entity
}

// NewMessage creates a message. A nil entity is replaced by an empty one.
func NewMessage(flag Flag, sid, event string, entity *Entity) *Message {
	if entity == nil {
		entity = NewEntity()
	}
	return &Message{flag: flag, sid: sid, event: event, entity: entity}
}

// Flag returns the flag of the frame that carried this message.
func (m *Message) Flag() Flag { return m.flag }

// SID returns the stream id.
func (m *Message) SID() string { return m.sid }

// Event returns the routing key.
func (m *Message) Event() string { return m.event }

// Entity returns the payload. Never nil.
func (m *Message) Entity() *Entity { return m.entity }

// Meta is a shortcut for Entity().Meta.
func (m *Message) Meta(name string) string { return m.entity.Meta(name) }

// DataSize is a shortcut for Entity().DataSize.
func (m *Message) DataSize() int { return m.entity.DataSize() }

// IsRequest reports whether the sender expects exactly one reply.
func (m *Message) IsRequest() bool { return m.flag == FlagRequest }

// IsSubscribe reports whether the sender expects replies until ReplyEnd.
func (m *Message) IsSubscribe() bool { return m.flag == FlagSubscribe }

// IsEnd reports whether this is the terminal reply of a stream.
func (m *Message) IsEnd() bool { return m.flag == FlagReplyEnd }

// String returns a short description without draining the data.
func (m *Message) String() string {
	return fmt.Sprintf("Message{flag=%s, sid=%s, event=%s, meta=%s, dataSize=%d}",
		m.flag, m.sid, m.event, m.entity.MetaString(), m.entity.DataSize())
}
