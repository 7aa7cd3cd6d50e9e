package server

import (
	"net/http"
	"strconv"

	"flutserver/internal/transport"
)

// handleImageStream accepts a WebSocket upgrade and subscribes it to one
// canvas's binary PNG frame stream. The canvas id arrives as a query
// parameter (?canvas=<id>). An unknown canvas id closes the socket
// immediately with a policy error rather than leaving it open with no
// frames ever arriving.
func (s *Server) handleImageStream(w http.ResponseWriter, r *http.Request) {
	id, ok := parseCanvasID(r.URL.Query().Get("canvas"))
	if !ok {
		http.Error(w, "invalid canvas id", http.StatusBadRequest)
		return
	}
	conn, err := transport.AcceptImage(w, r)
	if err != nil {
		return
	}
	if _, ok := s.canvases[id]; !ok {
		_ = conn.Close(1008, "unknown canvas") // 1008: policy violation
		return
	}

	subID := s.broadcastRegistry.Subscribe(id, conn)
	defer s.broadcastRegistry.Unsubscribe(id, subID)

	_ = conn.WaitClosed(r.Context())
}

// handleStatsStream accepts a WebSocket upgrade and subscribes it to the
// server-wide JSON stats stream.
func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.AcceptStats(w, r)
	if err != nil {
		return
	}

	id := s.statsRegistry.Subscribe(conn)
	defer s.statsRegistry.Unsubscribe(id)

	_ = conn.WaitClosed(r.Context())
}

func parseCanvasID(s string) (uint8, bool) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, false
	}
	return uint8(n), true
}
