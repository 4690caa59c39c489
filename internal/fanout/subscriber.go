package fanout

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

// subscriberHandle is the bus-internal state behind one registered
// threatlens.Subscriber: its outbound queue, its transport, and the
// drop-counting needed to detect a slow consumer (spec §4.3).
type subscriberHandle struct {
	mu   sync.RWMutex
	sub  threatlens.Subscriber
	transport Transport

	outbound chan Message
	stop     chan struct{}
	closed   int32 // atomic bool, guards double-close of outbound/stop

	consecutiveDrops int32 // atomic
}

func newSubscriberHandle(sub threatlens.Subscriber, transport Transport, queueSize int) *subscriberHandle {
	return &subscriberHandle{
		sub:       sub,
		transport: transport,
		outbound:  make(chan Message, queueSize),
		stop:      make(chan struct{}),
	}
}

func (h *subscriberHandle) filter() threatlens.Filter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sub.Filter
}

func (h *subscriberHandle) setFilter(f threatlens.Filter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sub.Filter = f
}

func (h *subscriberHandle) snapshot() threatlens.Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sub
}

func (h *subscriberHandle) touchPing(t time.Time) {
	h.mu.Lock()
	h.sub.LastPingAt = t
	h.mu.Unlock()
}

// enqueue attempts a non-blocking send, reporting whether it succeeded
// and the current consecutive-drop count after the attempt.
func (h *subscriberHandle) enqueue(msg Message) (ok bool, drops int32) {
	select {
	case h.outbound <- msg:
		atomic.StoreInt32(&h.consecutiveDrops, 0)
		return true, 0
	default:
		h.mu.Lock()
		h.sub.DroppedCount++
		h.mu.Unlock()
		d := atomic.AddInt32(&h.consecutiveDrops, 1)
		return false, d
	}
}

// close idempotently stops the writer loop and drops any still-queued
// messages (spec §4.3 Unregister semantics).
func (h *subscriberHandle) close() {
	if !atomic.CompareAndSwapInt32(&h.closed, 0, 1) {
		return
	}
	close(h.stop)
}
