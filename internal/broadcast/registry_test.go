package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"flutserver/internal/transport"
)

type fakeConn struct {
	mu       sync.Mutex
	received [][]byte
	block    chan struct{} // when non-nil, WriteMessage blocks until closed
	closed   bool
}

func (f *fakeConn) WriteMessage(ctx context.Context, typ transport.MessageType, data []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.received = append(f.received, cp)
	return nil
}

func (f *fakeConn) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) WaitClosed(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	r := NewRegistry(1)
	conn := &fakeConn{}
	id := r.Subscribe(0, conn)
	defer r.Unsubscribe(0, id)

	r.Publish(0, []byte("frame-1"))

	waitFor(t, func() bool { return conn.count() == 1 })
}

func TestPublishDropsWhenSubscriberQueueFull(t *testing.T) {
	r := NewRegistry(1)
	block := make(chan struct{})
	conn := &fakeConn{block: block}
	id := r.Subscribe(0, conn)
	defer r.Unsubscribe(0, id)

	// First publish is picked up by the pump goroutine and blocks inside
	// WriteMessage, so the channel itself is empty again and can accept a
	// second frame; a third must be dropped because the channel (depth 1)
	// is now full while the pump is still blocked on the first write.
	r.Publish(0, []byte("a"))
	time.Sleep(20 * time.Millisecond) // let the pump goroutine pick up "a"
	r.Publish(0, []byte("b"))
	r.Publish(0, []byte("c"))

	close(block)
	waitFor(t, func() bool { return conn.count() >= 1 })
	time.Sleep(20 * time.Millisecond) // let the pump deliver whatever was queued
	if got := conn.count(); got > 2 {
		t.Fatalf("delivered %d frames, want at most 2 (the third must be dropped)", got)
	}
}

func TestUnsubscribeRemovesSubscriber(t *testing.T) {
	r := NewRegistry(1)
	conn := &fakeConn{}
	id := r.Subscribe(0, conn)
	if got := r.Count(0); got != 1 {
		t.Fatalf("Count()=%d, want 1", got)
	}
	r.Unsubscribe(0, id)
	if got := r.Count(0); got != 0 {
		t.Fatalf("Count()=%d, want 0 after Unsubscribe", got)
	}
}

func TestCountIgnoresOtherCanvases(t *testing.T) {
	r := NewRegistry(1)
	id := r.Subscribe(5, &fakeConn{})
	defer r.Unsubscribe(5, id)
	if got := r.Count(0); got != 0 {
		t.Fatalf("Count(0)=%d, want 0", got)
	}
	if got := r.Count(5); got != 1 {
		t.Fatalf("Count(5)=%d, want 1", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never became true")
}
