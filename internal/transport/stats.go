package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var statsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// gorillaConn backs the stats-stream subscriber connections with
// github.com/gorilla/websocket. gorilla/websocket permits at most one
// writer goroutine at a time per connection, so writes are serialized
// with a mutex.
type gorillaConn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

// AcceptStats upgrades an HTTP request to a WebSocket for the stats stream
// and wraps it as a Conn. Frames pushed over it are small JSON text
// messages.
func AcceptStats(w http.ResponseWriter, r *http.Request) (Conn, error) {
	c, err := statsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &gorillaConn{c: c}, nil
}

func (g *gorillaConn) WriteMessage(_ context.Context, typ MessageType, data []byte) error {
	mt := websocket.TextMessage
	if typ == Binary {
		mt = websocket.BinaryMessage
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.c.WriteMessage(mt, data)
}

func (g *gorillaConn) Close(code int, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_ = g.c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	return g.c.Close()
}

// WaitClosed blocks in ReadMessage, which gorilla/websocket does not let us
// pass a context into directly, so a side goroutine closes the underlying
// connection when ctx is canceled to unblock it.
func (g *gorillaConn) WaitClosed(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = g.c.Close()
		case <-done:
		}
	}()
	for {
		if _, _, err := g.c.ReadMessage(); err != nil {
			return err
		}
	}
}
