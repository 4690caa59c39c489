package runtime

import (
	"sync"
	"testing"
	"time"

	"github.com/Stavin13/Threat-lens-sub000/internal/config"
	"github.com/Stavin13/Threat-lens-sub000/internal/fanout"
	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

func testManagerConfig() *config.Config {
	cfg := config.Default()
	cfg.Global.BatchSize = 1
	cfg.Global.BatchTimeout = 20 * time.Millisecond
	cfg.Global.StatsInterval = 10 * time.Millisecond
	cfg.Fanout.PingInterval = time.Hour // keep liveness pings out of the way of the test
	cfg.Fanout.PongTimeout = time.Hour
	cfg.Controller.SampleInterval = 10 * time.Millisecond
	cfg.Controller.AdaptiveEnabled = false
	cfg.Tailing.PollingInterval = 20 * time.Millisecond
	return cfg
}

type recordingTransport struct {
	mu  sync.Mutex
	got []fanout.Message
}

func (r *recordingTransport) Send(m fanout.Message) error {
	r.mu.Lock()
	r.got = append(r.got, m)
	r.mu.Unlock()
	return nil
}
func (r *recordingTransport) Close() error { return nil }

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestManagerWiresTailedEntriesThroughToFanout(t *testing.T) {
	m := New(testManagerConfig(), nil)
	m.Start()
	defer m.Shutdown()

	rec := &recordingTransport{}
	if _, err := m.Bus.Register(threatlens.Subscriber{Filter: threatlens.NewFilter()}, rec); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := m.processBatch([]*threatlens.LogEntry{
		threatlens.NewLogEntry("auth", "/var/log/auth.log", "failed login", time.Now(), threatlens.PriorityHigh, 0),
	}); err != nil {
		t.Fatalf("processBatch: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		// connection_established + the processed event
		if rec.count() >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for the fan-out bus to deliver the processed event")
}

func TestManagerSnapshotAggregatesComponents(t *testing.T) {
	m := New(testManagerConfig(), nil)
	m.Start()
	defer m.Shutdown()

	time.Sleep(50 * time.Millisecond) // let the controller sample at least once

	snap := m.Snapshot()
	if _, ok := snap.ComponentHealth["queue"]; !ok {
		t.Fatalf("expected queue in component health, got %v", snap.ComponentHealth)
	}
	if _, ok := snap.ComponentHealth["fanout"]; !ok {
		t.Fatalf("expected fanout in component health, got %v", snap.ComponentHealth)
	}
	if _, ok := snap.ComponentHealth["tailer"]; !ok {
		t.Fatalf("expected tailer in component health, got %v", snap.ComponentHealth)
	}
}
