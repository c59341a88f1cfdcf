package protocol

import "fmt"

// Frame is one protocol transmission unit.
//
// Control frames (Ping, Pong, Close) may carry a nil Message.
type Frame struct {
	Flag    Flag
	Message *Message
}

// NewFrame creates a frame with the given flag and message.
func NewFrame(flag Flag, msg *Message) *Frame {
	return &Frame{Flag: flag, Message: msg}
}

// SID returns the stream id of the frame's message, or "" for bare control frames.
func (f *Frame) SID() string {
	if f.Message == nil {
		return ""
	}
	return f.Message.SID()
}

// String returns a short description of the frame.
func (f *Frame) String() string {
	if f.Message == nil {
		return fmt.Sprintf("Frame{flag=%s}", f.Flag)
	}
	return fmt.Sprintf("Frame{flag=%s, message=%s}", f.Flag, f.Message)
}

// ConnectFrame builds the client's handshake request. url is the connection
// URL without the "sd:" prefix; its query carries the handshake parameters.
func ConnectFrame(sid, url string) *Frame {
	entity := NewEntity().PutMeta(MetaVersion, Version)
	return NewFrame(FlagConnect, NewMessage(FlagConnect, sid, url, entity))
}

// ConnackFrame builds the server's handshake acknowledgement for connect.
func ConnackFrame(connect *Message) *Frame {
	entity := NewEntity().PutMeta(MetaVersion, Version)
	return NewFrame(FlagConnack, NewMessage(FlagConnack, connect.SID(), connect.Event(), entity))
}

// PingFrame builds a heartbeat probe.
func PingFrame() *Frame {
	return NewFrame(FlagPing, nil)
}

// PongFrame builds a heartbeat answer.
func PongFrame() *Frame {
	return NewFrame(FlagPong, nil)
}

// CloseFrame builds an orderly close signal.
func CloseFrame() *Frame {
	return NewFrame(FlagClose, nil)
}

// AlarmFrame builds an alarm on the stream of from. The alarm text is the payload.
func AlarmFrame(from *Message, alarm string) *Frame {
	var sid, event string
	if from != nil {
		sid, event = from.SID(), from.Event()
	}
	return NewFrame(FlagAlarm, NewMessage(FlagAlarm, sid, event, NewStringEntity(alarm)))
}

// MessageFrame builds an application frame (Message, Request, Subscribe,
// Reply or ReplyEnd).
func MessageFrame(flag Flag, sid, event string, entity *Entity) *Frame {
	return NewFrame(flag, NewMessage(flag, sid, event, entity))
}
