// Package protocol implements the SocketD wire protocol.
//
// The protocol carries application messages between two peers over any
// reliable byte stream or message transport. Every connection starts with
// a Connect/Connack handshake, after which both sides may send messages,
// requests and subscriptions and answer them with replies.
//
// # Wire Format
//
// Each frame is prefixed with its total length:
//
//	┌─────────────┬──────────┬─────────┬───────────┬──────────┬──────────┐
//	│ Length      │ Flag     │ SID     │ Event     │ Meta     │ Data     │
//	│ (u32, BE)   │ (1 byte) │ (str)   │ (str)     │ (str)    │ (rest)   │
//	└─────────────┴──────────┴─────────┴───────────┴──────────┴──────────┘
//
// Bare control frames (Ping, Pong, Close) stop after the flag. Strings are
// prefixed with a uvarint length. Meta is encoded in URL query form and
// keeps insertion order.
//
// # Flags
//
//   - Connect (10), Connack (11): handshake
//   - Ping (20), Pong (21): heartbeat
//   - Close (30): orderly shutdown
//   - Alarm (31): remote rejection of a stream
//   - Message (40), Request (41), Subscribe (42): application sends
//   - Reply (48), ReplyEnd (49): answers to Request/Subscribe
//
// # Usage
//
//	codec := protocol.NewBinaryCodec()
//	err := codec.Write(conn, protocol.MessageFrame(protocol.FlagMessage, sid, "/demo",
//	    protocol.NewStringEntity("hello")))
//
//	frame, err := codec.Read(conn)
//
// Payloads larger than the fragment threshold are split by the fragment
// package before they reach the codec.
package protocol
