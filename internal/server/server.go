// Package server wires the canvases, connection counters, broadcaster, and
// stats aggregator into a running TCP pixel listener and HTTP WebSocket
// listener. The TCP accept loop is grounded on bradfitz-rfbgo's main(): a
// bare ln.Accept() loop spawning one goroutine per connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"flutserver/internal/broadcast"
	"flutserver/internal/canvas"
	"flutserver/internal/config"
	"flutserver/internal/connection"
	"flutserver/internal/metrics"
	"flutserver/internal/stats"
)

// acceptErrLimiter caps how often a noisy run of Accept() errors (e.g. the
// OS briefly running out of file descriptors) can fill the log: at most one
// per second. The accept loop keeps going after any such error; it ends only
// when ctx is canceled or the listener is closed.
var acceptErrLimiter = rate.NewLimiter(rate.Every(time.Second), 1)

// Server owns every long-lived piece of server state and the two listeners
// built from it.
type Server struct {
	cfg      *config.Config
	canvases connection.Canvases
	counters *connection.Counters

	broadcastRegistry *broadcast.Registry
	broadcaster       *broadcast.Broadcaster

	statsRegistry  *stats.Registry
	statsAggregate *stats.Aggregator

	connCfg connection.Config
}

// New builds a Server from a loaded Config. It does not start listening;
// call Run to do that.
func New(cfg *config.Config) (*Server, error) {
	canvases := make(connection.Canvases, len(cfg.Canvases))
	for _, cc := range cfg.Canvases {
		cv, err := canvas.New(cc.ID, cc.Width, cc.Height)
		if err != nil {
			return nil, fmt.Errorf("canvas %d: %w", cc.ID, err)
		}
		canvases[cc.ID] = cv
	}

	counters := &connection.Counters{}
	broadcastRegistry := broadcast.NewRegistry(cfg.Broadcast.SubscriberQueue)
	statsRegistry := stats.NewRegistry(cfg.Broadcast.SubscriberQueue)

	cvMap := make(map[uint8]*canvas.Canvas, len(canvases))
	for id, cv := range canvases {
		cvMap[id] = cv
	}

	return &Server{
		cfg:               cfg,
		canvases:          canvases,
		counters:          counters,
		broadcastRegistry: broadcastRegistry,
		broadcaster:       broadcast.NewBroadcaster(cvMap, broadcastRegistry, cfg.Broadcast.FPS),
		statsRegistry:     statsRegistry,
		statsAggregate:    stats.NewAggregator(counters, statsRegistry, cfg.Stats.Hz),
		connCfg: connection.Config{
			ReadBufferBytes:     cfg.Connection.ReadBufferBytes,
			WriteHighWaterBytes: cfg.Connection.WriteHighWaterBytes,
		},
	}, nil
}

// Run starts the TCP pixel listener, the HTTP WebSocket listener, the
// broadcaster, and the stats aggregator, blocking until ctx is canceled or
// the HTTP listener fails. Accept errors on the TCP listener are logged by
// the accept loop and do not end Run.
func (s *Server) Run(ctx context.Context) error {
	tcpLn, err := net.Listen("tcp", s.cfg.TCP.Listen)
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}

	httpSrv := &http.Server{Addr: s.cfg.HTTP.Listen, Handler: s.router()}

	errCh := make(chan error, 2)

	go s.acceptLoop(ctx, tcpLn)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go s.broadcaster.Run(ctx)
	go s.statsAggregate.Run(ctx)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Printf("[server] listener failed: %v", err)
	}

	_ = tcpLn.Close()
	_ = httpSrv.Close()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if acceptErrLimiter.Allow() {
				log.Printf("[server] accept: %v", err)
			}
			continue
		}
		h := connection.New(c, s.canvases, s.counters, s.connCfg)
		go h.Serve()
	}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Get("/image", s.handleImageStream)
	r.Get("/stats", s.handleStatsStream)

	collector := metrics.NewCollector(s.counters, s.broadcastRegistry, s.statsRegistry, s.canvasIDs())
	r.Get("/metrics", collector.Handler)

	return r
}

func (s *Server) canvasIDs() []uint8 {
	ids := make([]uint8, 0, len(s.canvases))
	for id := range s.canvases {
		ids = append(ids, id)
	}
	return ids
}
