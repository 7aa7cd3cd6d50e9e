package transport

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// coderConn backs the image-stream subscriber connections with
// github.com/coder/websocket, wrapped on the accept side rather than the
// dial side.
type coderConn struct {
	c *websocket.Conn
}

// AcceptImage upgrades an HTTP request to a WebSocket for the image stream
// and wraps it as a Conn. Frames pushed over it are binary PNG images;
// the accepted connection's read side is used only by WaitClosed, which
// discards anything the peer sends.
func AcceptImage(w http.ResponseWriter, r *http.Request) (Conn, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return nil, err
	}
	return &coderConn{c: c}, nil
}

func (c *coderConn) WriteMessage(ctx context.Context, typ MessageType, data []byte) error {
	mt := websocket.MessageBinary
	if typ == Text {
		mt = websocket.MessageText
	}
	return c.c.Write(ctx, mt, data)
}

func (c *coderConn) Close(code int, reason string) error {
	return c.c.Close(websocket.StatusCode(code), reason)
}

func (c *coderConn) WaitClosed(ctx context.Context) error {
	for {
		if _, _, err := c.c.Read(ctx); err != nil {
			return err
		}
	}
}
