package protocol

// Flag identifies the kind of a frame.
//
// The numeric values are part of the wire format and must not change.
type Flag uint8

const (
	FlagUnknown   Flag = 0
	FlagConnect   Flag = 10 // Client → Server handshake request
	FlagConnack   Flag = 11 // Server → Client handshake acknowledgement
	FlagPing      Flag = 20 // Heartbeat probe
	FlagPong      Flag = 21 // Heartbeat answer
	FlagClose     Flag = 30 // Orderly close
	FlagAlarm     Flag = 31 // Application-level rejection on a stream
	FlagMessage   Flag = 40 // Fire-and-forget message
	FlagRequest   Flag = 41 // Request expecting exactly one reply
	FlagSubscribe Flag = 42 // Request expecting replies until ReplyEnd
	FlagReply     Flag = 48 // Reply on a stream
	FlagReplyEnd  Flag = 49 // Terminal reply on a stream
)

// String returns the string representation of the flag.
func (f Flag) String() string {
	switch f {
	case FlagConnect:
		return "Connect"
	case FlagConnack:
		return "Connack"
	case FlagPing:
		return "Ping"
	case FlagPong:
		return "Pong"
	case FlagClose:
		return "Close"
	case FlagAlarm:
		return "Alarm"
	case FlagMessage:
		return "Message"
	case FlagRequest:
		return "Request"
	case FlagSubscribe:
		return "Subscribe"
	case FlagReply:
		return "Reply"
	case FlagReplyEnd:
		return "ReplyEnd"
	default:
		return "Unknown"
	}
}

// IsValid reports whether f belongs to the protocol vocabulary.
func (f Flag) IsValid() bool {
	switch f {
	case FlagConnect, FlagConnack, FlagPing, FlagPong, FlagClose, FlagAlarm,
		FlagMessage, FlagRequest, FlagSubscribe, FlagReply, FlagReplyEnd:
		return true
	default:
		return false
	}
}

// IsControl reports whether frames with this flag may travel without a message.
func (f Flag) IsControl() bool {
	return f == FlagPing || f == FlagPong || f == FlagClose
}

// IsReply reports whether the flag answers an outstanding stream.
func (f Flag) IsReply() bool {
	return f == FlagReply || f == FlagReplyEnd
}
