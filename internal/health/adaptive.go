package health

import (
	"time"

	"github.com/sysflow-telemetry/sf-apis/go/logger"
)

// rateLimited reports whether action was already applied within the
// last 60 seconds, recording this attempt as the new "last applied" time
// when it was not. Spec §4.4: "no more than one adjustment per component
// per 60 s."
func (c *Controller) rateLimited(action string) bool {
	const window = 60 * time.Second
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()
	if last, ok := c.lastAction[action]; ok && time.Since(last) < window {
		return true
	}
	c.lastAction[action] = time.Now()
	return false
}

// applyAdaptiveActions implements the five rules of spec §4.4's table,
// each independently rate-limited.
func (c *Controller) applyAdaptiveActions(agg Aggregate) {
	samples := c.sampler.lastN(2)
	if len(samples) == 2 {
		if avgCPU(samples) > 90 {
			c.actionHalveBatchSize()
		}
		if avgMem(samples) > 90 {
			c.actionRelieveMemoryPressure()
		}
	}

	if c.queue == nil {
		return
	}
	stats := c.queue.Stats()

	// Error rate > 10%: exposed as CRITICAL via the queue's own
	// HealthCheck (spec §4.2/§4.4); no autonomous change here.

	if stats.AvgProcessingTimeMs > 5000 {
		c.actionIncreaseConcurrency()
	}

	if c.maxQueueSize > 0 {
		occupancy := float64(stats.Pending+stats.Processing+stats.Retrying) / float64(c.maxQueueSize)
		if stats.ThroughputPerSecond > 0 && stats.AvgProcessingTimeMs < 1000 && occupancy < 0.20 {
			c.actionGrowBatchSize()
		}
	}
}

func (c *Controller) actionHalveBatchSize() {
	if c.rateLimited("halve_batch_size") {
		return
	}
	c.adaptiveMu.Lock()
	next := c.currentBatchSize / 2
	if next < c.minBatchSize {
		next = c.minBatchSize
	}
	if next < 1 {
		next = 1
	}
	c.currentBatchSize = next
	c.adaptiveMu.Unlock()

	c.queue.SetBatchSize(next)
	c.metrics.adaptiveActions.WithLabelValues("halve_batch_size").Inc()
	logger.Info.Printf("health: sustained high CPU, halved batch size to %d", next)
}

func (c *Controller) actionGrowBatchSize() {
	if c.rateLimited("grow_batch_size") {
		return
	}
	c.adaptiveMu.Lock()
	current := c.currentBatchSize
	next := current + current/5 // +20%
	if next <= current {
		next = current + 1
	}
	if next > c.maxBatchSize {
		next = c.maxBatchSize
	}
	changed := next != current
	c.currentBatchSize = next
	c.adaptiveMu.Unlock()
	if !changed {
		return
	}

	c.queue.SetBatchSize(next)
	c.metrics.adaptiveActions.WithLabelValues("grow_batch_size").Inc()
	logger.Info.Printf("health: steady throughput and low latency, grew batch size to %d", next)
}

func (c *Controller) actionRelieveMemoryPressure() {
	if c.rateLimited("relieve_memory_pressure") {
		return
	}
	purged := c.queue.PurgeCompleted(0)

	c.adaptiveMu.Lock()
	next := c.subscriberThreshold / 2
	if next < 1 {
		next = 1
	}
	c.subscriberThreshold = next
	c.adaptiveMu.Unlock()

	if c.bus != nil {
		c.bus.SetSlowSubscriberThreshold(next)
	}
	c.metrics.adaptiveActions.WithLabelValues("relieve_memory_pressure").Inc()
	logger.Info.Printf("health: sustained high memory, purged %d completed entries and tightened subscriber queues to %d", purged, next)
}

func (c *Controller) actionIncreaseConcurrency() {
	if c.rateLimited("increase_concurrency") {
		return
	}
	c.adaptiveMu.Lock()
	current := c.currentConcurrency
	next := current + 1
	if next > c.maxConcurrentCap {
		next = c.maxConcurrentCap
	}
	changed := next != current
	c.currentConcurrency = next
	c.adaptiveMu.Unlock()
	if !changed {
		return
	}

	c.queue.SetMaxConcurrentBatches(next)
	c.metrics.adaptiveActions.WithLabelValues("increase_concurrency").Inc()
	logger.Info.Printf("health: high average processing latency, increased max concurrent batches to %d", next)
}
