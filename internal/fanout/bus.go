// Package fanout implements the Event Fan-out Bus of spec §4.3: a
// dynamic subscriber registry with per-subscriber bounded queues, such
// that one slow subscriber can never stall delivery to the rest.
package fanout

import (
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map"
	"github.com/sysflow-telemetry/sf-apis/go/logger"

	"github.com/Stavin13/Threat-lens-sub000/internal/config"
	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

// Bus is the Event Fan-out Bus.
type Bus struct {
	cfg config.Fanout

	subscribers cmap.ConcurrentMap // id -> *subscriberHandle
	ids         *idGen

	slowEventsMu sync.Mutex
	slowEvents   int64 // lifetime count of slow_subscriber signals raised

	slowThreshold int32 // atomic, adaptive-tunable copy of cfg.SlowSubscriberThreshold

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Bus from fan-out configuration and starts its liveness
// (ping/pong-timeout) loop.
func New(cfg config.Fanout) *Bus {
	b := &Bus{
		cfg:         cfg,
		subscribers: cmap.New(),
		ids:         newIDGen(),
		stopCh:      make(chan struct{}),
	}
	atomic.StoreInt32(&b.slowThreshold, int32(cfg.SlowSubscriberThreshold))
	b.wg.Add(1)
	go b.livenessLoop()
	return b
}

// SetSlowSubscriberThreshold adjusts how many consecutive drops a
// subscriber tolerates before forced disconnect. The Health & Adaptive
// Controller lowers this under memory pressure (spec §4.4's "cap
// subscriber queues" action) to shed slow consumers faster.
func (b *Bus) SetSlowSubscriberThreshold(n int) {
	if n < 1 {
		n = 1
	}
	atomic.StoreInt32(&b.slowThreshold, int32(n))
}

func (b *Bus) slowSubscriberThreshold() int {
	return int(atomic.LoadInt32(&b.slowThreshold))
}

// Register enrolls a new subscriber behind the given transport,
// enforcing MaxSubscribers (spec §4.3).
func (b *Bus) Register(sub threatlens.Subscriber, transport Transport) (string, error) {
	if b.subscribers.Count() >= b.cfg.MaxSubscribers {
		return "", threatlens.ErrTooManySubscribers
	}
	now := time.Now().UTC()
	sub.ID = b.ids.next()
	sub.ConnectedAt = now
	sub.LastPingAt = now

	handle := newSubscriberHandle(sub, transport, b.cfg.PerSubscriberQueue)
	b.subscribers.Set(sub.ID, handle)

	b.wg.Add(1)
	go b.writerLoop(handle)

	handle.enqueue(Message{
		Type:      MessageConnectionEstablished,
		Timestamp: now,
		Payload:   map[string]string{"subscriber_id": sub.ID},
	})
	return sub.ID, nil
}

// Unregister idempotently removes a subscriber, closing its outbound
// queue and dropping anything still queued.
func (b *Bus) Unregister(id string) error {
	v, ok := b.subscribers.Get(id)
	if !ok {
		return nil
	}
	b.subscribers.Remove(id)
	v.(*subscriberHandle).close()
	return nil
}

// disconnect is Unregister plus a logged reason, used internally for
// slow-consumer and liveness-timeout forced disconnects.
func (b *Bus) disconnect(id, reason string) {
	v, ok := b.subscribers.Get(id)
	if !ok {
		return
	}
	b.subscribers.Remove(id)
	logger.Warn.Printf("fanout: disconnecting subscriber %s: %s", id, reason)
	v.(*subscriberHandle).close()
}

// UpdateFilter replaces a subscriber's Filter.
func (b *Bus) UpdateFilter(id string, f threatlens.Filter) error {
	v, ok := b.subscribers.Get(id)
	if !ok {
		return threatlens.ErrSubscriberNotFound
	}
	v.(*subscriberHandle).setFilter(f)
	v.(*subscriberHandle).enqueue(Message{
		Type:      MessageSubscriptionUpdated,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Broadcast delivers ev to every matching subscriber via a non-blocking
// enqueue, never blocking on a slow one (spec §4.3 core invariant).
func (b *Bus) Broadcast(ev threatlens.EventUpdate) int {
	delivered := 0
	msg := Message{Type: eventMessageType(ev.EventType), Timestamp: ev.Timestamp, Payload: ev.Payload}

	for item := range b.subscribers.IterBuffered() {
		handle := item.Val.(*subscriberHandle)
		if !handle.filter().Matches(ev) {
			continue
		}
		ok, drops := handle.enqueue(msg)
		if ok {
			delivered++
			continue
		}
		b.recordSlowSignal()
		if int(drops) >= b.slowSubscriberThreshold() {
			go b.disconnect(item.Key, "slow_consumer")
		}
	}
	return delivered
}

// SendTo delivers ev to exactly one subscriber, ignoring its filter —
// used for targeted replies rather than broadcast fan-out.
func (b *Bus) SendTo(id string, ev threatlens.EventUpdate) bool {
	v, ok := b.subscribers.Get(id)
	if !ok {
		return false
	}
	handle := v.(*subscriberHandle)
	msg := Message{Type: eventMessageType(ev.EventType), Timestamp: ev.Timestamp, Payload: ev.Payload}
	ok, drops := handle.enqueue(msg)
	if !ok {
		b.recordSlowSignal()
		if int(drops) >= b.slowSubscriberThreshold() {
			go b.disconnect(id, "slow_consumer")
		}
	}
	return ok
}

// Pong records a liveness acknowledgment from the given subscriber. The
// transport layer calls this when it receives a pong frame.
func (b *Bus) Pong(id string) {
	v, ok := b.subscribers.Get(id)
	if !ok {
		return
	}
	v.(*subscriberHandle).touchPing(time.Now().UTC())
}

func (b *Bus) recordSlowSignal() {
	b.slowEventsMu.Lock()
	b.slowEvents++
	b.slowEventsMu.Unlock()
}

// writerLoop drains one subscriber's outbound queue and writes frames to
// its transport. A write failure or explicit close disconnects it (spec
// §4.3: "a separate writer task per subscriber... if a write fails, the
// subscriber is disconnected").
func (b *Bus) writerLoop(handle *subscriberHandle) {
	defer b.wg.Done()
	for {
		select {
		case <-handle.stop:
			return
		case <-b.stopCh:
			return
		case msg := <-handle.outbound:
			if err := handle.transport.Send(msg); err != nil {
				id := handle.snapshot().ID
				go b.disconnect(id, "write_error")
				return
			}
		}
	}
}

// livenessLoop pings every subscriber on PingInterval and disconnects
// any that hasn't acknowledged within PongTimeout.
func (b *Bus) livenessLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			now := time.Now().UTC()
			for item := range b.subscribers.IterBuffered() {
				handle := item.Val.(*subscriberHandle)
				sub := handle.snapshot()
				if now.Sub(sub.LastPingAt) > b.cfg.PongTimeout {
					go b.disconnect(item.Key, "pong_timeout")
					continue
				}
				handle.enqueue(Message{Type: MessagePing, Timestamp: now})
			}
		}
	}
}

// Count reports the current number of registered subscribers.
func (b *Bus) Count() int {
	return b.subscribers.Count()
}

// Snapshot returns a point-in-time copy of every registered subscriber.
func (b *Bus) Snapshot() []threatlens.Subscriber {
	out := make([]threatlens.Subscriber, 0, b.subscribers.Count())
	for item := range b.subscribers.IterBuffered() {
		out = append(out, item.Val.(*subscriberHandle).snapshot())
	}
	return out
}

// HealthCheck implements threatlens.HealthChecker.
func (b *Bus) HealthCheck() threatlens.HealthCheck {
	start := time.Now()
	b.slowEventsMu.Lock()
	slow := b.slowEvents
	b.slowEventsMu.Unlock()

	status := threatlens.HealthHealthy
	msg := "fanout bus nominal"
	count := b.subscribers.Count()
	if count >= b.cfg.MaxSubscribers {
		status = threatlens.HealthWarning
		msg = "subscriber registry at capacity"
	}
	return threatlens.HealthCheck{
		Status:  status,
		Message: msg,
		Metrics: map[string]float64{
			"subscribers": float64(count),
			"slow_signals": float64(slow),
		},
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}
}

// Shutdown stops accepting liveness pings, closes every subscriber's
// writer loop, and waits up to grace for them to finish.
func (b *Bus) Shutdown(grace time.Duration) {
	close(b.stopCh)
	for item := range b.subscribers.IterBuffered() {
		item.Val.(*subscriberHandle).close()
	}
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		logger.Warn.Println("fanout: shutdown grace period elapsed with writer loops still running")
	}
}
