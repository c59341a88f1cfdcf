// Package core is the SocketD protocol engine.
//
// A Channel owns one transport connection. It serializes writes, splits
// oversized payloads into fragments and keeps the stream table that
// correlates requests with replies. A Processor interprets every inbound
// frame: it drives the Connect/Connack handshake, answers heartbeats,
// dispatches application messages to a Listener and routes replies back to
// the waiting stream entry. Applications talk to a Session, a thin facade
// over a channel.
//
// # Threading
//
// Each channel has one read goroutine (Processor.Serve). Listener hooks and
// reply callbacks run on the configured Executor, never on the read path,
// so a slow handler cannot stall frame reading. Sends may come from any
// goroutine.
//
// # Lifecycle
//
//	AwaitingHandshake ──Connect/Connack──▶ Open ──Close/error──▶ Closed
//
// Closing is idempotent: the first close wins, fails every outstanding
// stream entry with a ConnectionError, releases the transport and fires the
// Listener's OnClose exactly once.
package core
