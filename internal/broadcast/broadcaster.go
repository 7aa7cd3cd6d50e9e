package broadcast

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"log"
	"time"

	"flutserver/internal/canvas"
)

// Broadcaster ticks at a fixed cadence and, for each canvas with at least
// one subscriber, snapshots the canvas and pushes a freshly encoded PNG
// frame to that canvas's Registry.
//
// Encoding is CPU-heavy; it runs on whichever goroutine calls Run (the
// server root gives it a dedicated one), never inline with a connection's
// command loop, so it cannot starve the write path.
type Broadcaster struct {
	canvases map[uint8]*canvas.Canvas
	registry *Registry
	interval time.Duration
}

// NewBroadcaster builds a Broadcaster ticking fps times per second.
func NewBroadcaster(canvases map[uint8]*canvas.Canvas, registry *Registry, fps int) *Broadcaster {
	if fps <= 0 {
		fps = 20
	}
	return &Broadcaster{canvases: canvases, registry: registry, interval: time.Second / time.Duration(fps)}
}

// Run blocks, ticking until ctx is canceled.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *Broadcaster) tick() {
	for id, cv := range b.canvases {
		if b.registry.Count(id) == 0 {
			continue
		}
		frame, err := encodeFrame(cv)
		if err != nil {
			log.Printf("[broadcast] canvas %d: encode frame: %v", id, err)
			continue
		}
		b.registry.Publish(id, frame)
	}
}

// encodeFrame takes a non-atomic bulk snapshot of cv and encodes it as PNG.
// Tearing within the snapshot is acceptable: the next tick
// corrects it.
func encodeFrame(cv *canvas.Canvas) ([]byte, error) {
	w, h := cv.Dimensions()
	rgb := cv.Snapshot()

	img := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	for i := 0; i < int(w)*int(h); i++ {
		img.Pix[i*4+0] = rgb[i*3+0]
		img.Pix[i*4+1] = rgb[i*3+1]
		img.Pix[i*4+2] = rgb[i*3+2]
		img.Pix[i*4+3] = 0xff
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
