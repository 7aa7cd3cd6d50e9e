package connection

import "sync/atomic"

// Counters are the two process-wide monotonic counters: a live-connection
// gauge and a cumulative pixel-write counter. Relaxed atomic ordering is
// sufficient; they feed monitoring, not control flow.
type Counters struct {
	connections atomic.Int64
	pixelWrites atomic.Uint64
}

func (c *Counters) connected()    { c.connections.Add(1) }
func (c *Counters) disconnected() { c.connections.Add(-1) }
func (c *Counters) wrotePixel()   { c.pixelWrites.Add(1) }

// Connections returns the current live-connection count.
func (c *Counters) Connections() int64 { return c.connections.Load() }

// PixelWrites returns the cumulative number of successful Set/Blend
// commands observed across all connections since startup.
func (c *Counters) PixelWrites() uint64 { return c.pixelWrites.Load() }
