// Package transport adapts two WebSocket server libraries —
// github.com/coder/websocket and github.com/gorilla/websocket — behind one
// minimal interface narrowed down to the handful of operations the rest of
// the program actually needs.
package transport

import "context"

// MessageType mirrors the RFC 6455 distinction the rest of the program
// cares about; control frames are handled inside each backend.
type MessageType uint8

const (
	Text MessageType = iota
	Binary
)

// Conn is the minimal subset of a server-side WebSocket connection the
// broadcaster and stats aggregator need: push a message, close with a
// code. Neither subscriber stream is bidirectional — a spectator never
// sends anything the server acts on — so WriteMessage is the only data
// path; WaitClosed exists solely to let the handler that accepted the
// connection notice when the peer goes away.
type Conn interface {
	WriteMessage(ctx context.Context, typ MessageType, data []byte) error
	Close(code int, reason string) error

	// WaitClosed blocks, discarding any frames the peer sends, until the
	// connection errors or closes, or ctx is canceled. It is how the
	// accept handler learns a spectator disconnected, since a hijacked
	// WebSocket connection's *http.Request context is not canceled on
	// peer close.
	WaitClosed(ctx context.Context) error
}
