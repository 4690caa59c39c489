// Package health implements the Health & Adaptive Controller of spec
// §4.4: concurrent component health fan-in, rolling system-resource
// sampling, and bounded, rate-limited tuning signals to the queue and
// fan-out bus.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sysflow-telemetry/sf-apis/go/logger"

	"github.com/Stavin13/Threat-lens-sub000/internal/config"
	"github.com/Stavin13/Threat-lens-sub000/internal/queue"
	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

// AdaptiveQueue is the subset of *queue.Queue the Controller tunes.
// Expressed as an interface so tests can exercise the adaptive rules
// against a fake.
type AdaptiveQueue interface {
	Stats() queue.QueueStats
	SetBatchSize(int)
	SetMaxConcurrentBatches(int)
	PurgeCompleted(time.Duration) int
}

// AdaptiveBus is the subset of *fanout.Bus the Controller tunes.
type AdaptiveBus interface {
	SetSlowSubscriberThreshold(int)
}

// Aggregate is the Controller's overall view of system health.
type Aggregate struct {
	Overall    threatlens.HealthStatus
	Components map[string]threatlens.HealthCheck
	System     sample
	SampledAt  time.Time
}

// Controller is the Health & Adaptive Controller.
type Controller struct {
	cfg     config.Controller
	metrics *Metrics
	sampler *systemSampler

	mu       sync.RWMutex
	checkers map[string]threatlens.HealthChecker

	queue AdaptiveQueue
	bus   AdaptiveBus

	minBatchSize, maxBatchSize, maxConcurrentCap, maxQueueSize int

	adaptiveMu          sync.Mutex
	subscriberThreshold int
	currentBatchSize    int
	currentConcurrency  int

	rateLimitMu sync.Mutex
	lastAction  map[string]time.Time

	lastAggMu sync.RWMutex
	lastAgg   Aggregate

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Bounds bundles the static limits the adaptive rules (spec §4.4 table)
// tune within: batch-size range and concurrency cap from config.Global,
// queue capacity for the occupancy check, and the fan-out bus's starting
// slow-subscriber threshold.
type Bounds struct {
	MinBatchSize                   int
	MaxBatchSize                   int
	InitialBatchSize               int
	MaxConcurrentCap               int
	InitialMaxConcurrentBatches    int
	MaxQueueSize                   int
	InitialSlowSubscriberThreshold int
}

// New builds a Controller.
func New(cfg config.Controller, q AdaptiveQueue, bus AdaptiveBus, bounds Bounds) *Controller {
	c := &Controller{
		cfg:                 cfg,
		metrics:             NewMetrics(),
		sampler:             newSystemSampler(cfg.MetricsWindow, "/"),
		checkers:            make(map[string]threatlens.HealthChecker),
		queue:               q,
		bus:                 bus,
		minBatchSize:        bounds.MinBatchSize,
		maxBatchSize:        bounds.MaxBatchSize,
		maxConcurrentCap:    bounds.MaxConcurrentCap,
		maxQueueSize:        bounds.MaxQueueSize,
		subscriberThreshold: bounds.InitialSlowSubscriberThreshold,
		currentBatchSize:    bounds.InitialBatchSize,
		currentConcurrency:  bounds.InitialMaxConcurrentBatches,
		lastAction:          make(map[string]time.Time),
		stopCh:              make(chan struct{}),
	}
	return c
}

// RegisterChecker adds a named component to the concurrent fan-in.
func (c *Controller) RegisterChecker(name string, checker threatlens.HealthChecker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkers[name] = checker
}

// Metrics exposes the Controller's Prometheus surface.
func (c *Controller) Metrics() *Metrics { return c.metrics }

// Run starts the sampling/check/adaptive loop; it blocks until Shutdown
// is called.
func (c *Controller) Run() {
	c.wg.Add(1)
	defer c.wg.Done()

	interval := c.cfg.SampleInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Controller) tick() {
	sys := c.sampler.take()
	c.metrics.cpuPercent.Set(sys.cpuPercent)
	c.metrics.memPercent.Set(sys.memPercent)
	c.metrics.diskPercent.Set(sys.diskPercent)
	c.metrics.loadAvg1.Set(sys.load1)

	agg := c.runChecks()
	agg.System = sys
	c.metrics.overallStatus.Set(float64(agg.Overall))

	c.lastAggMu.Lock()
	c.lastAgg = agg
	c.lastAggMu.Unlock()

	if c.cfg.AdaptiveEnabled {
		c.applyAdaptiveActions(agg)
	}
}

// runChecks runs every registered HealthCheck concurrently with a
// per-check timeout, aggregating failures via multierror and the
// overall status via threatlens.MaxHealth (spec §4.4).
func (c *Controller) runChecks() Aggregate {
	c.mu.RLock()
	checkers := make(map[string]threatlens.HealthChecker, len(c.checkers))
	for k, v := range c.checkers {
		checkers[k] = v
	}
	c.mu.RUnlock()

	timeout := c.cfg.CheckTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	type result struct {
		name  string
		check threatlens.HealthCheck
	}
	resultsCh := make(chan result, len(checkers))
	var wg sync.WaitGroup
	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker threatlens.HealthChecker) {
			defer wg.Done()
			resultsCh <- result{name: name, check: c.runOneCheck(name, checker, timeout)}
		}(name, checker)
	}
	wg.Wait()
	close(resultsCh)

	var merr *multierror.Error
	overall := threatlens.HealthHealthy
	components := make(map[string]threatlens.HealthCheck, len(checkers))
	for r := range resultsCh {
		components[r.name] = r.check
		overall = threatlens.MaxHealth(overall, r.check.Status)
		c.metrics.healthChecks.WithLabelValues(r.name, r.check.Status.String()).Inc()
		if r.check.Status == threatlens.HealthCritical {
			merr = multierror.Append(merr, fmt.Errorf("%s: %s", r.name, r.check.Message))
		}
	}
	if merr.ErrorOrNil() != nil {
		logger.Warn.Printf("health: critical components: %v", merr)
	}

	return Aggregate{Overall: overall, Components: components, SampledAt: time.Now().UTC()}
}

// runOneCheck isolates a single component's HealthCheck() behind
// ctx/timeout: a check that hangs past timeout counts as CRITICAL (spec
// §4.4), without blocking the rest of the fan-in.
func (c *Controller) runOneCheck(name string, checker threatlens.HealthChecker, timeout time.Duration) threatlens.HealthCheck {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan threatlens.HealthCheck, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- threatlens.HealthCheck{Status: threatlens.HealthCritical, Message: "health check panicked"}
			}
		}()
		done <- checker.HealthCheck()
	}()

	select {
	case hc := <-done:
		return hc
	case <-ctx.Done():
		return threatlens.HealthCheck{Status: threatlens.HealthCritical, Message: name + ": health check timed out"}
	}
}

// LastAggregate returns the most recently computed Aggregate.
func (c *Controller) LastAggregate() Aggregate {
	c.lastAggMu.RLock()
	defer c.lastAggMu.RUnlock()
	return c.lastAgg
}

// HealthCheck implements threatlens.HealthChecker for the Controller
// itself, so a runtime manager's own top-level health view can include
// it.
func (c *Controller) HealthCheck() threatlens.HealthCheck {
	agg := c.LastAggregate()
	return threatlens.HealthCheck{
		Status:  agg.Overall,
		Message: "controller aggregate",
		Metrics: map[string]float64{"components": float64(len(agg.Components))},
	}
}

// Shutdown stops the sampling loop.
func (c *Controller) Shutdown(grace time.Duration) {
	close(c.stopCh)
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		logger.Warn.Println("health: shutdown grace period elapsed")
	}
}
