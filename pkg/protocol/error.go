package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. Every typed error below matches one of them with errors.Is.
var (
	// ErrClosed is returned when sending on a closed channel.
	ErrClosed = errors.New("socketd: channel closed")

	// ErrConnection matches any ConnectionError.
	ErrConnection = errors.New("socketd: connection error")

	// ErrConnectionRejected is reported when the peer answers a Connect with Close.
	ErrConnectionRejected = errors.New("socketd: connection request was rejected")

	// ErrTimeout matches any TimeoutError.
	ErrTimeout = errors.New("socketd: timeout")

	// ErrCodec matches any CodecError.
	ErrCodec = errors.New("socketd: codec error")

	// ErrProtocol matches any ProtocolError.
	ErrProtocol = errors.New("socketd: protocol violation")

	// ErrAlarm matches any AlarmError.
	ErrAlarm = errors.New("socketd: alarm")
)

// ConnectionError is a transport-level failure.
type ConnectionError struct {
	Op  string // Operation that failed (dial, write, read, handshake)
	URL string // Target, when known
	Err error  // Underlying error
}

// Error returns the error message.
func (e *ConnectionError) Error() string {
	msg := "socketd: connection"
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.URL != "" {
		msg += " " + e.URL
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrConnection.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(op string, err error) *ConnectionError {
	return &ConnectionError{Op: op, Err: err}
}

// TimeoutError is returned when a handshake, request or subscribe deadline passes.
type TimeoutError struct {
	Op      string
	SID     string
	Timeout time.Duration
}

// Error returns the error message.
func (e *TimeoutError) Error() string {
	if e.SID == "" {
		return fmt.Sprintf("socketd: %s timeout after %s", e.Op, e.Timeout)
	}
	return fmt.Sprintf("socketd: %s timeout after %s, sid=%s", e.Op, e.Timeout, e.SID)
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(op, sid string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{Op: op, SID: sid, Timeout: timeout}
}

// CodecError is a malformed frame or a frame missing required meta.
//
// Fatal codec errors leave the byte stream out of sync; the connection
// cannot be read further.
type CodecError struct {
	Message string
	Err     error
	Fatal   bool
}

// Error returns the error message.
func (e *CodecError) Error() string {
	prefix := "socketd: codec: "
	if e.Fatal {
		prefix = "socketd: codec (fatal): "
	}
	if e.Err != nil {
		return prefix + e.Message + ": " + e.Err.Error()
	}
	return prefix + e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *CodecError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrCodec.
func (e *CodecError) Is(target error) bool {
	return target == ErrCodec
}

// NewCodecError creates a new non-fatal CodecError.
func NewCodecError(message string, err error) *CodecError {
	return &CodecError{Message: message, Err: err}
}

// ProtocolError is a protocol violation: a frame before the handshake or an
// unknown flag. The channel is closed with Code.
type ProtocolError struct {
	Flag    Flag
	Code    int
	Message string
}

// Error returns the error message.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("socketd: protocol violation (%s, close=%s): %s",
		e.Flag, CloseCodeString(e.Code), e.Message)
}

// Is reports whether target is ErrProtocol.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(flag Flag, code int, message string) *ProtocolError {
	return &ProtocolError{Flag: flag, Code: code, Message: message}
}

// AlarmError is a remote-signaled rejection delivered as an error.
type AlarmError struct {
	SID   string
	Event string
	Alarm string
	Msg   *Message
}

// Error returns the error message.
func (e *AlarmError) Error() string {
	return fmt.Sprintf("socketd: alarm on sid=%s: %s", e.SID, e.Alarm)
}

// Is reports whether target is ErrAlarm.
func (e *AlarmError) Is(target error) bool {
	return target == ErrAlarm
}

// NewAlarmError builds an AlarmError from an inbound Alarm message.
func NewAlarmError(msg *Message) *AlarmError {
	e := &AlarmError{Msg: msg}
	if msg != nil {
		e.SID = msg.SID()
		e.Event = msg.Event()
		e.Alarm = msg.Entity().String()
	}
	return e
}
