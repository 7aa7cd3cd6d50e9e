// Package connection implements the per-TCP-connection command loop: read
// bytes, feed the active protocol parser, execute commands against the
// addressed canvas, and write replies — with reading and writing run on
// separate goroutines so one slow peer never stalls another connection.
// One goroutine parses and executes while another drains replies to the
// socket, so a client that stops reading its replies does not stop the
// server from reading that same client's next commands until the write
// buffer genuinely overflows.
package connection

import (
	"bufio"
	"bytes"
	"fmt"
	"log"
	"net"
	"sync/atomic"

	"flutserver/internal/canvas"
	"flutserver/internal/protocol"
)

// Canvases maps a canvas id to its Canvas. The server root owns the map
// and hands it to every connection by reference; it is never mutated after
// startup so no locking is needed to read it concurrently.
type Canvases map[uint8]*canvas.Canvas

// Config carries the tunable knobs: how much to read per syscall, and the
// high-water mark that trips BackpressureExceeded.
type Config struct {
	ReadBufferBytes     int
	WriteHighWaterBytes int
}

const helpText = "commands: SIZE [canvas] | HELP | PX x y | PX x y RRGGBB | PX x y RRGGBBAA | PX x y VV | CANVAS id | PROTOCOL text|binary"

// Handler owns one accepted TCP connection's state: active canvas id,
// active parser, and the write queue feeding the writer goroutine.
type Handler struct {
	conn     net.Conn
	canvases Canvases
	counters *Counters
	cfg      Config

	kind         protocol.Transport
	parser       protocol.Parser
	activeCanvas uint8

	writeCh chan []byte
	queued  atomic.Int64 // bytes enqueued but not yet written to the socket
}

// New constructs a Handler for an accepted connection, starting in Text
// mode on canvas 0.
func New(conn net.Conn, canvases Canvases, counters *Counters, cfg Config) *Handler {
	if cfg.ReadBufferBytes <= 0 {
		cfg.ReadBufferBytes = 4096
	}
	if cfg.WriteHighWaterBytes <= 0 {
		cfg.WriteHighWaterBytes = 1 << 20
	}
	return &Handler{
		conn:     conn,
		canvases: canvases,
		counters: counters,
		cfg:      cfg,
		kind:     protocol.Text,
		parser:   protocol.NewText(),
		writeCh:  make(chan []byte, 256),
	}
}

// Serve runs the connection to completion: it blocks until the peer
// disconnects, a protocol error closes the connection, or backpressure is
// exceeded. It is safe to run as the body of the per-connection goroutine
// the server root spawns after Accept.
func (h *Handler) Serve() {
	h.counters.connected()
	defer h.counters.disconnected()
	defer h.conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump()
	}()

	h.readLoop()
	close(h.writeCh)
	<-done
}

func (h *Handler) readLoop() {
	buf := make([]byte, h.cfg.ReadBufferBytes)
	for {
		n, err := h.conn.Read(buf)
		if n > 0 {
			h.parser.Feed(buf[:n])
			if !h.drainCommands() {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// drainCommands pulls every currently-complete command out of the parser,
// executes each, and coalesces their replies into a single enqueue so a
// burst of trivial commands costs one channel send and one flush instead
// of one per command.
func (h *Handler) drainCommands() bool {
	var out bytes.Buffer
	for {
		cmd, err, ok := h.parser.Next()
		if !ok {
			break
		}
		if err != nil {
			if h.kind == protocol.Binary {
				h.enqueue(out.Bytes())
				log.Printf("[conn] %s: binary parse error, closing: %v", h.conn.RemoteAddr(), err)
				return false
			}
			fmt.Fprintf(&out, "ERR %v\n", err)
			continue
		}
		if !h.execute(cmd, &out) {
			h.enqueue(out.Bytes())
			return false
		}
	}
	return h.enqueue(out.Bytes())
}

func (h *Handler) execute(cmd protocol.Command, out *bytes.Buffer) bool {
	switch cmd.Kind {
	case protocol.SwitchCanvas:
		if _, ok := h.canvases[cmd.Canvas]; !ok {
			return h.fail("no such canvas", out)
		}
		h.activeCanvas = cmd.Canvas
		return true

	case protocol.SwitchProtocol:
		remaining := h.parser.Remaining()
		if cmd.SwitchTo == protocol.Binary {
			h.parser = protocol.NewBinary()
			h.kind = protocol.Binary
		} else {
			h.parser = protocol.NewText()
			h.kind = protocol.Text
		}
		h.parser.Feed(remaining)
		return true

	case protocol.Size:
		cv, ok := h.canvases[cmd.Canvas]
		if !ok {
			return h.fail("no such canvas", out)
		}
		w, hgt := cv.Dimensions()
		h.writeSizeReply(out, w, hgt)
		return true

	case protocol.Help:
		h.writeHelpReply(out)
		return true

	case protocol.GetPixel:
		cv, ok := h.canvases[h.canvasFor(cmd)]
		if !ok {
			return h.fail("no such canvas", out)
		}
		r, g, b, err := cv.Get(cmd.X, cmd.Y)
		if err != nil {
			return h.fail("out of bounds", out)
		}
		h.writeGetPixelReply(out, cmd.X, cmd.Y, r, g, b)
		return true

	case protocol.SetPixelRGB:
		cv, ok := h.canvases[h.canvasFor(cmd)]
		if !ok {
			return h.fail("no such canvas", out)
		}
		if err := cv.Set(cmd.X, cmd.Y, cmd.R, cmd.G, cmd.B); err != nil {
			return h.fail("out of bounds", out)
		}
		h.counters.wrotePixel()
		return true

	case protocol.BlendPixelRGBA:
		cv, ok := h.canvases[h.canvasFor(cmd)]
		if !ok {
			return h.fail("no such canvas", out)
		}
		if err := cv.Blend(cmd.X, cmd.Y, cmd.R, cmd.G, cmd.B, cmd.A); err != nil {
			return h.fail("out of bounds", out)
		}
		h.counters.wrotePixel()
		return true

	case protocol.SetPixelGray:
		cv, ok := h.canvases[h.canvasFor(cmd)]
		if !ok {
			return h.fail("no such canvas", out)
		}
		if err := cv.Set(cmd.X, cmd.Y, cmd.R, cmd.R, cmd.R); err != nil {
			return h.fail("out of bounds", out)
		}
		h.counters.wrotePixel()
		return true

	default:
		return true
	}
}

// canvasFor resolves which canvas a pixel command targets. The text
// grammar never lets PX name a canvas explicitly — "<active_canvas>" is
// substituted here. The binary grammar always carries the
// canvas id on the wire, so cmd.Canvas is used as-is.
func (h *Handler) canvasFor(cmd protocol.Command) uint8 {
	if h.kind == protocol.Text {
		return h.activeCanvas
	}
	return cmd.Canvas
}

// fail applies the resolved policy for OutOfBounds/NoSuchCanvas: text
// mode replies with one error line and keeps the connection open; binary
// mode has no error frame, so the connection is closed instead (chosen
// consistently over silently dropping, see DESIGN.md's Open Question log).
func (h *Handler) fail(reason string, out *bytes.Buffer) bool {
	if h.kind == protocol.Text {
		fmt.Fprintf(out, "ERR %s\n", reason)
		return true
	}
	log.Printf("[conn] %s: %s, closing", h.conn.RemoteAddr(), reason)
	return false
}

func (h *Handler) writeSizeReply(out *bytes.Buffer, w, hgt uint16) {
	if h.kind == protocol.Text {
		fmt.Fprintf(out, "SIZE %d %d\n", w, hgt)
		return
	}
	var wire [4]byte
	wire[0] = byte(w)
	wire[1] = byte(w >> 8)
	wire[2] = byte(hgt)
	wire[3] = byte(hgt >> 8)
	out.Write(wire[:])
}

func (h *Handler) writeGetPixelReply(out *bytes.Buffer, x, y uint16, r, g, b uint8) {
	if h.kind == protocol.Text {
		fmt.Fprintf(out, "PX %d %d %02x%02x%02x\n", x, y, r, g, b)
		return
	}
	out.Write([]byte{r, g, b})
}

func (h *Handler) writeHelpReply(out *bytes.Buffer) {
	out.WriteString(helpText)
	if h.kind == protocol.Text {
		out.WriteByte('\n')
	}
}

// enqueue hands reply bytes to the writer goroutine, closing the
// connection with BackpressureExceeded if the peer is not draining fast
// enough for the write buffer to stay under the configured high-water
// mark.
func (h *Handler) enqueue(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	cp := make([]byte, len(b))
	copy(cp, b)

	if h.queued.Add(int64(len(cp))) > int64(h.cfg.WriteHighWaterBytes) {
		log.Printf("[conn] %s: write buffer exceeded high-water mark, closing", h.conn.RemoteAddr())
		return false
	}
	select {
	case h.writeCh <- cp:
		return true
	default:
		log.Printf("[conn] %s: write queue full, closing", h.conn.RemoteAddr())
		return false
	}
}

// writePump drains queued replies to the socket, flushing once the queue
// is momentarily empty so a burst of replies coalesces into one syscall
// instead of flushing after every tiny command reply.
func (h *Handler) writePump() {
	w := bufio.NewWriter(h.conn)
	for b := range h.writeCh {
		h.queued.Add(-int64(len(b)))
		if _, err := w.Write(b); err != nil {
			return
		}
		if len(h.writeCh) == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
	_ = w.Flush()
}
