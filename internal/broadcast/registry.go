// Package broadcast periodically encodes each canvas to a PNG frame and
// fans it out to the WebSocket clients subscribed to that canvas, dropping
// frames for subscribers who are not keeping up rather than buffering for
// them.
package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"flutserver/internal/transport"
)

type subscriber struct {
	conn transport.Conn
	send chan []byte
}

func (s *subscriber) pump() {
	ctx := context.Background()
	for frame := range s.send {
		if err := s.conn.WriteMessage(ctx, transport.Binary, frame); err != nil {
			return
		}
	}
}

// Registry holds, per canvas id, the set of WebSocket sinks subscribed to
// that canvas's image stream. Membership lifetime equals the subscriber
// connection's lifetime, matching the Subscriber sets model.
type Registry struct {
	mu         sync.Mutex
	byCanvas   map[uint8]map[uuid.UUID]*subscriber
	queueDepth int
}

// NewRegistry returns an empty registry. queueDepth bounds how many frames
// may be outstanding for one subscriber before new frames are dropped for
// it (1 is the recommended default).
func NewRegistry(queueDepth int) *Registry {
	if queueDepth <= 0 {
		queueDepth = 1
	}
	return &Registry{byCanvas: make(map[uint8]map[uuid.UUID]*subscriber), queueDepth: queueDepth}
}

// Subscribe joins conn to canvasID's subscriber set and returns an id to
// pass to Unsubscribe later.
func (r *Registry) Subscribe(canvasID uint8, conn transport.Conn) uuid.UUID {
	id := uuid.New()
	sub := &subscriber{conn: conn, send: make(chan []byte, r.queueDepth)}

	r.mu.Lock()
	if r.byCanvas[canvasID] == nil {
		r.byCanvas[canvasID] = make(map[uuid.UUID]*subscriber)
	}
	r.byCanvas[canvasID][id] = sub
	r.mu.Unlock()

	go sub.pump()
	return id
}

// Unsubscribe removes a subscriber from its canvas's set and stops its
// pump goroutine, before its send queue is freed, per the cancellation
// guarantee.
func (r *Registry) Unsubscribe(canvasID uint8, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byCanvas[canvasID]
	if !ok {
		return
	}
	sub, ok := m[id]
	if !ok {
		return
	}
	delete(m, id)
	close(sub.send)
}

// Publish pushes frame to every subscriber of canvasID. Subscribers whose
// queue is already full get this frame dropped for them; the lock is held
// only long enough to snapshot the member list, never across the sends.
func (r *Registry) Publish(canvasID uint8, frame []byte) {
	r.mu.Lock()
	m := r.byCanvas[canvasID]
	subs := make([]*subscriber, 0, len(m))
	for _, s := range m {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		select {
		case s.send <- frame:
		default:
		}
	}
}

// Count returns the number of active subscribers for canvasID, used by the
// broadcaster to skip encoding a frame nobody will see.
func (r *Registry) Count(canvasID uint8) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byCanvas[canvasID])
}
