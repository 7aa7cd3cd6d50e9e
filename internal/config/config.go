// Package config loads and validates the server's YAML configuration:
// read file, unmarshal, fill in zero-value defaults, validate.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML document.
type Config struct {
	Canvases   []CanvasConfig   `yaml:"canvases"`
	TCP        TCPConfig        `yaml:"tcp"`
	HTTP       HTTPConfig       `yaml:"http"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	Stats      StatsConfig      `yaml:"stats"`
	Connection ConnectionConfig `yaml:"connection"`
}

// CanvasConfig declares one canvas's id and dimensions.
type CanvasConfig struct {
	ID     uint8  `yaml:"id"`
	Width  uint16 `yaml:"width"`
	Height uint16 `yaml:"height"`
}

// TCPConfig is the pixelflut text/binary listener's address.
type TCPConfig struct {
	Listen string `yaml:"listen"`
}

// HTTPConfig is the dashboard/WebSocket listener's address.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// BroadcastConfig tunes the image-stream broadcaster.
type BroadcastConfig struct {
	FPS             int `yaml:"fps"`
	SubscriberQueue int `yaml:"subscriber_queue"`
}

// StatsConfig tunes the stats-stream aggregator.
type StatsConfig struct {
	Hz int `yaml:"hz"`
}

// ConnectionConfig tunes per-connection buffering and backpressure.
type ConnectionConfig struct {
	WriteHighWaterBytes int `yaml:"write_high_water_bytes"`
	ReadBufferBytes     int `yaml:"read_buffer_bytes"`
}

// Load reads path, parses it as YAML, applies defaults for any zero-valued
// field that is not itself meant to be zero, and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.TCP.Listen == "" {
		c.TCP.Listen = ":1337"
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":1338"
	}
	if c.Broadcast.FPS == 0 {
		c.Broadcast.FPS = 20
	}
	if c.Broadcast.SubscriberQueue == 0 {
		c.Broadcast.SubscriberQueue = 1
	}
	if c.Stats.Hz == 0 {
		c.Stats.Hz = 1
	}
	if c.Connection.WriteHighWaterBytes == 0 {
		c.Connection.WriteHighWaterBytes = 1 << 20
	}
	if c.Connection.ReadBufferBytes == 0 {
		c.Connection.ReadBufferBytes = 4096
	}
}

// Validate rejects configs with no canvases, non-positive canvas
// dimensions, or duplicate canvas ids.
func (c *Config) Validate() error {
	if len(c.Canvases) == 0 {
		return fmt.Errorf("config: at least one canvas is required")
	}
	seen := make(map[uint8]bool, len(c.Canvases))
	for _, cv := range c.Canvases {
		if seen[cv.ID] {
			return fmt.Errorf("config: duplicate canvas id %d", cv.ID)
		}
		seen[cv.ID] = true
		if cv.Width == 0 || cv.Height == 0 {
			return fmt.Errorf("config: canvas %d: width and height must be positive", cv.ID)
		}
	}
	if c.Broadcast.FPS <= 0 {
		return fmt.Errorf("config: broadcast.fps must be positive")
	}
	if c.Stats.Hz <= 0 {
		return fmt.Errorf("config: stats.hz must be positive")
	}
	return nil
}
