package queue

import (
	"sync/atomic"
	"time"

	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

// QueueStats is the periodically-sampled snapshot returned by Stats(),
// per spec §4.2.5: computed on a fixed interval rather than on every
// call, since scanning the full entry set on every read would itself
// become a bottleneck under load.
type QueueStats struct {
	Total                int
	Pending              int
	Processing           int
	Retrying             int
	Completed            int
	Failed               int
	PriorityDistribution map[threatlens.Priority]int
	DroppedCount         int64
	RetryCount           int64
	TotalErrors          int64
	ErrorRate            float64
	BackpressureActive   bool
	AvgProcessingTimeMs  float64
	MinProcessingTimeMs  float64
	MaxProcessingTimeMs  float64
	ThroughputPerSecond  float64
	DuplicateSeenCount   int64
	SampledAt            time.Time
}

// Stats returns the most recently sampled QueueStats.
func (q *Queue) Stats() QueueStats {
	q.statsMu.RLock()
	defer q.statsMu.RUnlock()
	return q.statsCache
}

// statsLoop recomputes QueueStats on cfg.StatsInterval until shutdown.
func (q *Queue) statsLoop() {
	defer q.wg.Done()
	q.cfgMu.RLock()
	interval := q.cfg.StatsInterval
	q.cfgMu.RUnlock()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastProcessed int64
	lastSampleAt := time.Now()

	q.sample(&lastProcessed, &lastSampleAt)
	for {
		select {
		case <-q.stopCh:
			q.sample(&lastProcessed, &lastSampleAt)
			return
		case <-ticker.C:
			q.sample(&lastProcessed, &lastSampleAt)
		}
	}
}

func (q *Queue) sample(lastProcessed *int64, lastSampleAt *time.Time) {
	q.mu.Lock()
	var pending, processing, retrying, completed, failed int
	dist := make(map[threatlens.Priority]int, 5)
	for _, e := range q.all {
		dist[e.Priority]++
		switch e.Status {
		case threatlens.StatusPending:
			pending++
		case threatlens.StatusProcessing:
			processing++
		case threatlens.StatusRetrying:
			retrying++
		case threatlens.StatusCompleted:
			completed++
		case threatlens.StatusFailed:
			failed++
		}
	}
	totalEntries := len(q.all)
	q.mu.Unlock()

	dropped := atomic.LoadInt64(&q.droppedCount)
	retries := atomic.LoadInt64(&q.retryCount)
	errs := atomic.LoadInt64(&q.totalErrors)
	processed := atomic.LoadInt64(&q.totalProcessed)
	dupes := atomic.LoadInt64(&q.duplicateSeenCount)

	now := time.Now()
	elapsed := now.Sub(*lastSampleAt).Seconds()
	var throughput float64
	if elapsed > 0 {
		throughput = float64(processed-*lastProcessed) / elapsed
	}
	*lastProcessed = processed
	*lastSampleAt = now

	var errRate float64
	total := processed + errs
	if total > 0 {
		errRate = float64(errs) / float64(total)
	}

	q.procTimesMu.Lock()
	var avgMs, minMs, maxMs float64
	if n := len(q.procTimes); n > 0 {
		var sum time.Duration
		minD, maxD := q.procTimes[0], q.procTimes[0]
		for _, d := range q.procTimes {
			sum += d
			if d < minD {
				minD = d
			}
			if d > maxD {
				maxD = d
			}
		}
		avgMs = float64(sum.Milliseconds()) / float64(n)
		minMs = float64(minD.Milliseconds())
		maxMs = float64(maxD.Milliseconds())
	}
	q.procTimesMu.Unlock()

	stats := QueueStats{
		Total:                totalEntries,
		Pending:              pending,
		Processing:           processing,
		Retrying:             retrying,
		Completed:            completed,
		Failed:               failed,
		PriorityDistribution: dist,
		DroppedCount:         dropped,
		RetryCount:           retries,
		TotalErrors:          errs,
		ErrorRate:            errRate,
		BackpressureActive:   atomic.LoadInt32(&q.backpressureActive) == 1,
		AvgProcessingTimeMs:  avgMs,
		MinProcessingTimeMs:  minMs,
		MaxProcessingTimeMs:  maxMs,
		ThroughputPerSecond:  throughput,
		DuplicateSeenCount:   dupes,
		SampledAt:            now,
	}

	q.statsMu.Lock()
	q.statsCache = stats
	q.statsMu.Unlock()
}
