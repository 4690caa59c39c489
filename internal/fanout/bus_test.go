package fanout

import (
	"sync"
	"testing"
	"time"

	"github.com/Stavin13/Threat-lens-sub000/internal/config"
	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

func testConfig() config.Fanout {
	return config.Fanout{
		MaxSubscribers:          4,
		PerSubscriberQueue:      8,
		PingInterval:            50 * time.Millisecond,
		PongTimeout:             500 * time.Millisecond,
		SlowSubscriberThreshold: 3,
	}
}

// recorder is an in-memory Transport that records every frame it
// receives, optionally blocking forever to simulate a stalled consumer.
type recorder struct {
	mu      sync.Mutex
	got     []Message
	block   chan struct{}
	closed  bool
}

func newRecorder() *recorder { return &recorder{} }

func (r *recorder) Send(m Message) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.got = append(r.got, m)
	r.mu.Unlock()
	return nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *recorder) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.got...)
}

func TestRegisterAndBroadcastDelivers(t *testing.T) {
	b := New(testConfig())
	defer b.Shutdown(time.Second)

	rec := newRecorder()
	id, err := b.Register(threatlens.Subscriber{Filter: threatlens.NewFilter()}, rec)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty subscriber id")
	}

	delivered := b.Broadcast(threatlens.EventUpdate{
		EventType: "processing_update",
		Priority:  2,
		Timestamp: time.Now(),
		Payload:   map[string]interface{}{"source_name": "auth.log"},
	})
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		msgs := rec.messages()
		// connection_established + the broadcast event
		if len(msgs) >= 2 {
			if msgs[1].Type != MessageProcessingUpdate {
				t.Fatalf("expected processing_update frame, got %v", msgs[1].Type)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for broadcast frame delivery")
}

func TestBroadcastRespectsFilter(t *testing.T) {
	b := New(testConfig())
	defer b.Shutdown(time.Second)

	rec := newRecorder()
	f := threatlens.NewFilter()
	f.SourceAllowList = map[string]struct{}{"allowed.log": {}}
	if _, err := b.Register(threatlens.Subscriber{Filter: f}, rec); err != nil {
		t.Fatalf("Register: %v", err)
	}

	delivered := b.Broadcast(threatlens.EventUpdate{
		EventType: "processing_update",
		Timestamp: time.Now(),
		Payload:   map[string]interface{}{"source_name": "other.log"},
	})
	if delivered != 0 {
		t.Fatalf("expected 0 deliveries for filtered-out source, got %d", delivered)
	}
}

func TestRegisterEnforcesMaxSubscribers(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSubscribers = 1
	b := New(cfg)
	defer b.Shutdown(time.Second)

	if _, err := b.Register(threatlens.Subscriber{Filter: threatlens.NewFilter()}, newRecorder()); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := b.Register(threatlens.Subscriber{Filter: threatlens.NewFilter()}, newRecorder()); err != threatlens.ErrTooManySubscribers {
		t.Fatalf("expected ErrTooManySubscribers, got %v", err)
	}
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	cfg := testConfig()
	cfg.PerSubscriberQueue = 1
	cfg.SlowSubscriberThreshold = 2
	b := New(cfg)
	defer b.Shutdown(time.Second)

	rec := newRecorder()
	rec.block = make(chan struct{}) // never unblocks: writerLoop stalls on the first frame
	id, err := b.Register(threatlens.Subscriber{Filter: threatlens.NewFilter()}, rec)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	time.Sleep(20 * time.Millisecond) // let writerLoop pull the connection_established frame and stall on Send

	ev := threatlens.EventUpdate{EventType: "processing_update", Timestamp: time.Now()}
	for i := 0; i < 5; i++ {
		b.Broadcast(ev)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b.Count() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected subscriber %s to be force-disconnected after repeated drops", id)
}

func TestHealthCheckWarnsAtCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSubscribers = 1
	b := New(cfg)
	defer b.Shutdown(time.Second)

	if _, err := b.Register(threatlens.Subscriber{Filter: threatlens.NewFilter()}, newRecorder()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	hc := b.HealthCheck()
	if hc.Status != threatlens.HealthWarning {
		t.Fatalf("expected WARNING at capacity, got %v", hc.Status)
	}
}
