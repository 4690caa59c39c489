package health

import (
	"testing"
	"time"

	"github.com/Stavin13/Threat-lens-sub000/internal/config"
	"github.com/Stavin13/Threat-lens-sub000/internal/queue"
	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

type fakeChecker struct {
	hc    threatlens.HealthCheck
	delay time.Duration
}

func (f fakeChecker) HealthCheck() threatlens.HealthCheck {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.hc
}

type fakeQueue struct {
	stats      queue.QueueStats
	batchSize  int
	concurrent int
	purged     int
}

func (q *fakeQueue) Stats() queue.QueueStats         { return q.stats }
func (q *fakeQueue) SetBatchSize(n int)              { q.batchSize = n }
func (q *fakeQueue) SetMaxConcurrentBatches(n int)   { q.concurrent = n }
func (q *fakeQueue) PurgeCompleted(time.Duration) int { q.purged++; return q.purged }

type fakeBus struct {
	threshold int
}

func (b *fakeBus) SetSlowSubscriberThreshold(n int) { b.threshold = n }

func testControllerConfig() config.Controller {
	return config.Controller{
		SampleInterval:  20 * time.Millisecond,
		AdaptiveEnabled: true,
		CheckTimeout:    100 * time.Millisecond,
		MetricsWindow:   10,
	}
}

func TestRunChecksAggregatesWorstStatus(t *testing.T) {
	c := New(testControllerConfig(), nil, nil, Bounds{})
	c.RegisterChecker("a", fakeChecker{hc: threatlens.HealthCheck{Status: threatlens.HealthHealthy}})
	c.RegisterChecker("b", fakeChecker{hc: threatlens.HealthCheck{Status: threatlens.HealthWarning}})
	c.RegisterChecker("c", fakeChecker{hc: threatlens.HealthCheck{Status: threatlens.HealthCritical, Message: "boom"}})

	agg := c.runChecks()
	if agg.Overall != threatlens.HealthCritical {
		t.Fatalf("expected CRITICAL overall, got %v", agg.Overall)
	}
	if len(agg.Components) != 3 {
		t.Fatalf("expected 3 components, got %d", len(agg.Components))
	}
}

func TestRunChecksTimesOutSlowChecker(t *testing.T) {
	c := New(testControllerConfig(), nil, nil, Bounds{})
	c.RegisterChecker("slow", fakeChecker{hc: threatlens.HealthCheck{Status: threatlens.HealthHealthy}, delay: time.Second})

	agg := c.runChecks()
	if agg.Components["slow"].Status != threatlens.HealthCritical {
		t.Fatalf("expected timed-out checker to report CRITICAL, got %v", agg.Components["slow"].Status)
	}
}

func TestActionHalveBatchSizeRateLimited(t *testing.T) {
	q := &fakeQueue{}
	c := New(testControllerConfig(), q, nil, Bounds{
		MinBatchSize: 1, MaxBatchSize: 100, InitialBatchSize: 20,
	})

	c.actionHalveBatchSize()
	if q.batchSize != 10 {
		t.Fatalf("expected batch size halved to 10, got %d", q.batchSize)
	}

	q.batchSize = -1 // sentinel: a second call within the rate-limit window must not touch it
	c.actionHalveBatchSize()
	if q.batchSize != -1 {
		t.Fatalf("expected rate limiting to suppress the second call, batch size changed to %d", q.batchSize)
	}
}

func TestActionIncreaseConcurrencyCapped(t *testing.T) {
	q := &fakeQueue{}
	c := New(testControllerConfig(), q, nil, Bounds{
		MaxConcurrentCap: 3, InitialMaxConcurrentBatches: 3,
	})
	c.actionIncreaseConcurrency()
	if q.concurrent != 0 {
		t.Fatalf("expected concurrency already at cap to be a no-op, got SetMaxConcurrentBatches(%d)", q.concurrent)
	}
}

func TestActionRelieveMemoryPressureTightensBusThreshold(t *testing.T) {
	q := &fakeQueue{}
	bus := &fakeBus{}
	c := New(testControllerConfig(), q, bus, Bounds{InitialSlowSubscriberThreshold: 10})

	c.actionRelieveMemoryPressure()
	if bus.threshold != 5 {
		t.Fatalf("expected subscriber threshold halved to 5, got %d", bus.threshold)
	}
	if q.purged != 1 {
		t.Fatalf("expected PurgeCompleted to be called once, got %d", q.purged)
	}
}

func TestControllerHealthCheckReflectsLastAggregate(t *testing.T) {
	c := New(testControllerConfig(), nil, nil, Bounds{})
	c.RegisterChecker("only", fakeChecker{hc: threatlens.HealthCheck{Status: threatlens.HealthWarning}})
	c.tick()

	hc := c.HealthCheck()
	if hc.Status != threatlens.HealthWarning {
		t.Fatalf("expected controller health to mirror WARNING aggregate, got %v", hc.Status)
	}
}
