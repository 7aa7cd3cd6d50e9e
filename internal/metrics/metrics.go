// Package metrics exposes a Prometheus text-format /metrics endpoint over
// the server's live counters, sampling this domain's gauges directly from
// their sources (connection.Counters and the broadcast/stats registries)
// rather than accumulating observe* events into a second, mutex-guarded
// counter map.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
)

// ConnectionSource supplies the server-wide connection and pixel counters.
type ConnectionSource interface {
	Connections() int64
	PixelWrites() uint64
}

// CanvasSubscriberSource supplies the current image-stream subscriber count
// for a canvas.
type CanvasSubscriberSource interface {
	Count(canvasID uint8) int
}

// StatsSubscriberSource supplies the current stats-stream subscriber count.
type StatsSubscriberSource interface {
	Count() int
}

// Collector renders a Prometheus scrape from the server's live sources.
type Collector struct {
	conns     ConnectionSource
	images    CanvasSubscriberSource
	stats     StatsSubscriberSource
	canvasIDs []uint8
}

// NewCollector builds a Collector over the given sources. canvasIDs fixes
// the set of canvases reported under flutserver_image_subscribers, sorted
// for deterministic output.
func NewCollector(conns ConnectionSource, images CanvasSubscriberSource, stats StatsSubscriberSource, canvasIDs []uint8) *Collector {
	ids := append([]uint8(nil), canvasIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &Collector{conns: conns, images: images, stats: stats, canvasIDs: ids}
}

// Handler serves the /metrics endpoint.
func (c *Collector) Handler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "flutserver_connections %d\n", c.conns.Connections())
	fmt.Fprintf(w, "flutserver_pixel_writes_total %d\n", c.conns.PixelWrites())
	fmt.Fprintf(w, "flutserver_stats_subscribers %d\n", c.stats.Count())

	for _, id := range c.canvasIDs {
		fmt.Fprintf(w, "flutserver_image_subscribers{canvas=\"%d\"} %d\n", id, c.images.Count(id))
	}
}
