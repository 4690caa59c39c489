package queue

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Stavin13/Threat-lens-sub000/internal/config"
	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

func testConfig() config.Global {
	return config.Global{
		MaxQueueSize:          100,
		BatchSize:             4,
		BatchTimeout:          50 * time.Millisecond,
		MaxConcurrentBatches:  2,
		BackpressureThreshold: 0.8,
		StatsInterval:         20 * time.Millisecond,
		MinBatchSize:          1,
		MaxBatchSize:          50,
		MaxConcurrentCap:      10,
	}
}

func newEntry(name string, priority threatlens.Priority, offset int64) *threatlens.LogEntry {
	return threatlens.NewLogEntry(name, "/var/log/"+name, "line content", time.Now(), priority, offset)
}

func TestEntryHeapOrdersByPriorityThenAge(t *testing.T) {
	var h entryHeap
	now := time.Now()
	bulk := newEntry("bulk", threatlens.PriorityBulk, 1)
	bulk.Timestamp = now
	critical := newEntry("critical", threatlens.PriorityCritical, 2)
	critical.Timestamp = now.Add(time.Second)
	high := newEntry("high", threatlens.PriorityHigh, 3)
	high.Timestamp = now.Add(2 * time.Second)

	heap.Push(&h, bulk)
	heap.Push(&h, critical)
	heap.Push(&h, high)

	var order []threatlens.Priority
	for h.Len() > 0 {
		order = append(order, heap.Pop(&h).(*threatlens.LogEntry).Priority)
	}
	want := []threatlens.Priority{threatlens.PriorityCritical, threatlens.PriorityHigh, threatlens.PriorityBulk}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", order, want)
		}
	}
}

func TestEnqueueDeliversBatchToProcessor(t *testing.T) {
	q := New(testConfig())
	defer q.Shutdown(time.Second)

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})
	q.SetBatchProcessor(func(batch []*threatlens.LogEntry) error {
		mu.Lock()
		for _, e := range batch {
			seen = append(seen, e.SourceName)
		}
		n := len(seen)
		mu.Unlock()
		if n >= 3 {
			close(done)
		}
		return nil
	})

	for i, name := range []string{"a", "b", "c"} {
		if res := q.Enqueue(newEntry(name, threatlens.PriorityHigh, int64(i))); res != threatlens.Accepted {
			t.Fatalf("enqueue %s: %v", name, res)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch processing")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 3 {
		t.Fatalf("expected 3 entries processed, got %d", len(seen))
	}
}

func TestEnqueueRejectsInvalidEntry(t *testing.T) {
	q := New(testConfig())
	defer q.Shutdown(time.Second)

	e := newEntry("src", threatlens.PriorityMedium, 1)
	e.Content = "   "
	if res := q.Enqueue(e); res != threatlens.InvalidEntry {
		t.Fatalf("expected InvalidEntry, got %v", res)
	}
}

func TestEnqueueAppliesBackpressureToLowPriority(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueSize = 10
	cfg.BackpressureThreshold = 0.5
	q := New(cfg)
	defer q.Shutdown(time.Second)
	// No processor registered: entries accumulate as PENDING, never drain.

	for i := 0; i < 5; i++ {
		if res := q.Enqueue(newEntry("s", threatlens.PriorityCritical, int64(i))); res != threatlens.Accepted {
			t.Fatalf("enqueue %d: expected Accepted, got %v", i, res)
		}
	}
	// At the backpressure floor now; a bulk-priority entry should be rejected.
	res := q.Enqueue(newEntry("s", threatlens.PriorityBulk, 99))
	if res != threatlens.RejectedBackpressure {
		t.Fatalf("expected RejectedBackpressure, got %v", res)
	}
}

func TestRetryThenTerminalFailureInvokesErrorHandler(t *testing.T) {
	q := New(testConfig())
	defer q.Shutdown(time.Second)

	var attempts int32
	var handled int32
	handledCh := make(chan struct{})
	q.SetBatchProcessor(func(batch []*threatlens.LogEntry) error {
		atomic.AddInt32(&attempts, 1)
		return assertAlwaysFails
	})
	q.SetErrorHandler(func(entry *threatlens.LogEntry, err error) {
		if atomic.AddInt32(&handled, 1) == 1 {
			close(handledCh)
		}
	})

	e := newEntry("flaky", threatlens.PriorityHigh, 1)
	e.MaxRetries = 2
	if res := q.Enqueue(e); res != threatlens.Accepted {
		t.Fatalf("enqueue: %v", res)
	}

	select {
	case <-handledCh:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for terminal failure handling")
	}

	if atomic.LoadInt32(&attempts) < 2 {
		t.Fatalf("expected at least 2 attempts (initial + retry), got %d", attempts)
	}
}

var assertAlwaysFails = errAlwaysFails{}

type errAlwaysFails struct{}

func (errAlwaysFails) Error() string { return "synthetic processing failure" }

func TestHealthCheckReflectsBackpressure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueSize = 4
	cfg.BackpressureThreshold = 0.5
	cfg.StatsInterval = 5 * time.Millisecond
	q := New(cfg)
	defer q.Shutdown(time.Second)

	for i := 0; i < 3; i++ {
		q.Enqueue(newEntry("s", threatlens.PriorityCritical, int64(i)))
	}
	time.Sleep(50 * time.Millisecond) // let statsLoop sample

	hc := q.HealthCheck()
	if hc.Status != threatlens.HealthWarning {
		t.Fatalf("expected WARNING under backpressure, got %v (%s)", hc.Status, hc.Message)
	}
}

func TestPurgeCompletedRemovesOldEntries(t *testing.T) {
	q := New(testConfig())
	defer q.Shutdown(time.Second)

	done := make(chan struct{})
	q.SetBatchProcessor(func(batch []*threatlens.LogEntry) error {
		close(done)
		return nil
	})
	q.Enqueue(newEntry("s", threatlens.PriorityMedium, 1))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	time.Sleep(10 * time.Millisecond)

	purged := q.PurgeCompleted(0)
	if purged != 1 {
		t.Fatalf("expected 1 purged entry, got %d", purged)
	}
}
