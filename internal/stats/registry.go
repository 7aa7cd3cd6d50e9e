// Package stats periodically samples server-wide counters and fans the
// resulting JSON snapshot out to stats-stream WebSocket subscribers.
// It mirrors internal/broadcast's registry/aggregator split, but the
// subscriber set here is flat rather than keyed per canvas, since there is
// exactly one stats stream for the whole server.
package stats

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
		if err := s.conn.WriteMessage(ctx, transport.Text, frame); err != nil {
			return
		}
	}
}

// Registry holds the set of WebSocket sinks subscribed to the stats stream.
type Registry struct {
	mu         sync.Mutex
	subs       map[uuid.UUID]*subscriber
	queueDepth int
}

// NewRegistry returns an empty registry. queueDepth bounds how many
// snapshots may be outstanding for one subscriber before new ones are
// dropped for it, same policy as internal/broadcast.Registry.
func NewRegistry(queueDepth int) *Registry {
	if queueDepth <= 0 {
		queueDepth = 1
	}
	return &Registry{subs: make(map[uuid.UUID]*subscriber), queueDepth: queueDepth}
}

// Subscribe joins conn to the stats stream and returns an id to pass to
// Unsubscribe later.
func (r *Registry) Subscribe(conn transport.Conn) uuid.UUID {
	id := uuid.New()
	sub := &subscriber{conn: conn, send: make(chan []byte, r.queueDepth)}

	r.mu.Lock()
	r.subs[id] = sub
	r.mu.Unlock()

	go sub.pump()
	return id
}

// Unsubscribe removes a subscriber and stops its pump goroutine.
func (r *Registry) Unsubscribe(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return
	}
	delete(r.subs, id)
	close(sub.send)
}

// Publish pushes the encoded snapshot to every subscriber, dropping it for
// subscribers whose queue is already full.
func (r *Registry) Publish(snapshot []byte) {
	r.mu.Lock()
	subs := make([]*subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		select {
		case s.send <- snapshot:
		default:
		}
	}
}

// Count returns the number of active stats-stream subscribers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
