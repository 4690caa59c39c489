// Package queue implements the Priority Ingestion Queue of spec §4.2:
// priority-then-age ordering, batching under a concurrency cap,
// backpressure, retry, and observable statistics.
package queue

import (
	"container/heap"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sysflow-telemetry/sf-apis/go/logger"

	"github.com/Stavin13/Threat-lens-sub000/internal/config"
	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

// BatchProcessor handles one batch of entries selected in priority/age
// order. Its error is never propagated to the queue's caller (spec
// §4.2.4) — it only drives the retry state machine.
type BatchProcessor func(batch []*threatlens.LogEntry) error

// ErrorHandler is called once per entry that exhausts its retries.
type ErrorHandler func(entry *threatlens.LogEntry, err error)

const maxProcessingTimeSamples = 1000

// Queue is the Priority Ingestion Queue.
type Queue struct {
	cfgMu sync.RWMutex
	cfg   config.Global

	mu      sync.Mutex
	pending entryHeap
	all     map[string]*threatlens.LogEntry
	notify  chan struct{}

	inFlight           int64 // atomic: pending + processing + retrying
	droppedCount       int64 // atomic
	retryCount         int64 // atomic
	totalErrors        int64 // atomic
	totalProcessed     int64 // atomic: completed + terminally failed, for throughput
	duplicateSeenCount int64 // atomic: dedup guard hits, advisory only (spec §8 invariant 1/5)
	backpressureActive int32 // atomic bool

	processorMu sync.RWMutex
	processor   BatchProcessor
	errorHandler ErrorHandler

	batchSize  int32 // atomic, adaptive (spec §4.2.7)
	maxConcurr int32 // atomic

	batchSem chan struct{}

	dedup *dedupGuard

	procTimesMu sync.Mutex
	procTimes   []time.Duration

	statsMu    sync.RWMutex
	statsCache QueueStats

	stopCh      chan struct{}
	shuttingDown int32
	wg          sync.WaitGroup
}

// New builds a Queue from the given global configuration and starts its
// batch-formation and stats-sampling loops.
func New(cfg config.Global) *Queue {
	q := &Queue{
		cfg:        cfg,
		all:        make(map[string]*threatlens.LogEntry),
		notify:     make(chan struct{}, 1),
		batchSem:   make(chan struct{}, cfg.MaxConcurrentBatches),
		dedup:      newDedupGuard(uint64(cfg.MaxQueueSize) * 4),
		stopCh:     make(chan struct{}),
		batchSize:  int32(cfg.BatchSize),
		maxConcurr: int32(cfg.MaxConcurrentBatches),
	}
	heap.Init(&q.pending)

	q.wg.Add(2)
	go q.batchLoop()
	go q.statsLoop()
	return q
}

// SetBatchProcessor registers the function invoked for each formed batch.
func (q *Queue) SetBatchProcessor(fn BatchProcessor) {
	q.processorMu.Lock()
	defer q.processorMu.Unlock()
	q.processor = fn
}

// SetErrorHandler registers the function invoked once per entry that
// exhausts its retries.
func (q *Queue) SetErrorHandler(fn ErrorHandler) {
	q.processorMu.Lock()
	defer q.processorMu.Unlock()
	q.errorHandler = fn
}

// SetBatchSize adjusts the batch-formation target. Per spec §4.2.7 the
// new size is only honored at batch boundaries — in-flight batches are
// unaffected since batchLoop reads this value fresh for each new batch.
func (q *Queue) SetBatchSize(n int) {
	if n < 1 {
		n = 1
	}
	atomic.StoreInt32(&q.batchSize, int32(n))
}

func (q *Queue) batchSizeNow() int {
	return int(atomic.LoadInt32(&q.batchSize))
}

// SetMaxConcurrentBatches adjusts the in-flight batch cap. Existing
// in-flight batches keep their semaphore slot; only future acquisitions
// see the new size, since the semaphore channel itself is fixed-capacity
// and must be rebuilt to grow.
func (q *Queue) SetMaxConcurrentBatches(n int) {
	if n < 1 {
		n = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	// In-flight batches release their slot on the semaphore they acquired
	// from, so they are not counted against the new cap.
	q.batchSem = make(chan struct{}, n)
	atomic.StoreInt32(&q.maxConcurr, int32(n))
}

func (q *Queue) isShuttingDown() bool {
	return atomic.LoadInt32(&q.shuttingDown) == 1
}

// Enqueue accepts or rejects a LogEntry per spec §4.2.2's capacity and
// backpressure rules.
func (q *Queue) Enqueue(e *threatlens.LogEntry) threatlens.EnqueueResult {
	if strings.TrimSpace(e.Content) == "" || strings.TrimSpace(e.SourceName) == "" {
		return threatlens.InvalidEntry
	}
	if q.isShuttingDown() {
		atomic.AddInt64(&q.droppedCount, 1)
		return threatlens.RejectedFull
	}

	q.cfgMu.RLock()
	maxSize := q.cfg.MaxQueueSize
	threshold := q.cfg.BackpressureThreshold
	q.cfgMu.RUnlock()

	l := atomic.LoadInt64(&q.inFlight)
	if l >= int64(maxSize) {
		atomic.AddInt64(&q.droppedCount, 1)
		return threatlens.RejectedFull
	}

	backpressureFloor := int64(float64(maxSize) * threshold)
	if l >= backpressureFloor {
		if atomic.CompareAndSwapInt32(&q.backpressureActive, 0, 1) {
			logger.Warn.Printf("queue: backpressure_on at size %d (floor %d)", l, backpressureFloor)
		}
		if e.Priority > threatlens.PriorityHigh {
			atomic.AddInt64(&q.droppedCount, 1)
			return threatlens.RejectedBackpressure
		}
	} else if atomic.CompareAndSwapInt32(&q.backpressureActive, 1, 0) {
		logger.Info.Println("queue: backpressure_off")
	}

	if e.MaxRetries <= 0 {
		e.MaxRetries = threatlens.DefaultMaxRetries
	}
	if e.Status == "" {
		e.Status = threatlens.StatusPending
	}
	if q.dedup.seen(e.EntryID) {
		// Advisory only: the entry is still enqueued (at-least-once
		// delivery), but a repeat EntryID is worth surfacing via
		// QueueStats/HealthCheck as a signal of upstream re-delivery.
		atomic.AddInt64(&q.duplicateSeenCount, 1)
		logger.Trace.Printf("queue: duplicate entry_id %s observed by dedup guard", e.EntryID)
	}

	q.mu.Lock()
	heap.Push(&q.pending, e)
	q.all[e.EntryID] = e
	q.mu.Unlock()
	atomic.AddInt64(&q.inFlight, 1)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return threatlens.Accepted
}

// popOne removes and returns the highest-priority pending entry, marking
// it PROCESSING atomically with removal (spec §4.2.3), or returns nil,
// false if the heap is empty.
func (q *Queue) popOne() (*threatlens.LogEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending.Len() == 0 {
		return nil, false
	}
	e := heap.Pop(&q.pending).(*threatlens.LogEntry)
	e.Status = threatlens.StatusProcessing
	return e, true
}

// waitForFirst blocks until at least one pending entry is available or
// the queue is shutting down.
func (q *Queue) waitForFirst() (*threatlens.LogEntry, bool) {
	for {
		if e, ok := q.popOne(); ok {
			return e, true
		}
		select {
		case <-q.stopCh:
			return nil, false
		case <-q.notify:
		}
	}
}

// popWithTimeout waits up to d for the next pending entry.
func (q *Queue) popWithTimeout(d time.Duration) (*threatlens.LogEntry, bool) {
	if e, ok := q.popOne(); ok {
		return e, true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-q.stopCh:
		return nil, false
	case <-timer.C:
		return q.popOne()
	case <-q.notify:
		return q.popOne()
	}
}

// batchLoop forms batches per spec §4.2.3: BatchSize entries ready OR
// BatchTimeout elapsed since the first entry was placed into the forming
// batch, whichever comes first; then dispatches under the
// MaxConcurrentBatches cap.
func (q *Queue) batchLoop() {
	defer q.wg.Done()
	for {
		first, ok := q.waitForFirst()
		if !ok {
			q.drainFinal()
			return
		}
		batch := []*threatlens.LogEntry{first}
		q.cfgMu.RLock()
		timeout := q.cfg.BatchTimeout
		q.cfgMu.RUnlock()
		deadline := time.Now().Add(timeout)
		target := q.batchSizeNow()
		for len(batch) < target {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			e, ok := q.popWithTimeout(remaining)
			if !ok {
				break
			}
			batch = append(batch, e)
		}
		q.dispatch(batch)
	}
}

// dispatch acquires a concurrency slot (spec §5: Enqueue itself never
// blocks more than briefly; this wait is internal to the batch-formation
// task, not the caller of Enqueue) and runs the batch.
func (q *Queue) dispatch(batch []*threatlens.LogEntry) {
	q.mu.Lock()
	sem := q.batchSem
	q.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-q.stopCh:
		// Shutting down: still process this batch synchronously so
		// Shutdown's "drains one last batch" guarantee holds.
		q.processBatch(batch)
		return
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer func() { <-sem }()
		q.processBatch(batch)
	}()
}

// processBatch runs the registered BatchProcessor with panic isolation
// (spec §7) and drives the retry state machine on failure (spec §4.2.4).
func (q *Queue) processBatch(batch []*threatlens.LogEntry) {
	now := time.Now().UTC()
	for _, e := range batch {
		started := now
		e.ProcessingStartedAt = &started
	}

	q.processorMu.RLock()
	proc := q.processor
	errHandler := q.errorHandler
	q.processorMu.RUnlock()

	if proc == nil {
		// Nothing to do with no processor registered; entries stay
		// PROCESSING forever otherwise, so return them to pending.
		q.mu.Lock()
		for _, e := range batch {
			e.Status = threatlens.StatusPending
			heap.Push(&q.pending, e)
		}
		q.mu.Unlock()
		return
	}

	err := q.invokeProcessor(proc, batch)
	completedAt := time.Now().UTC()

	if err == nil {
		for _, e := range batch {
			e.Status = threatlens.StatusCompleted
			e.ProcessingCompletedAt = &completedAt
			if d, ok := e.ProcessingTime(); ok {
				q.recordProcessingTime(d)
			}
			atomic.AddInt64(&q.inFlight, -1)
			atomic.AddInt64(&q.totalProcessed, 1)
		}
		return
	}

	atomic.AddInt64(&q.totalErrors, int64(len(batch)))
	q.mu.Lock()
	for _, e := range batch {
		e.Status = threatlens.StatusFailed
		e.LastError = err.Error()
		e.ErrorCount++
		e.ProcessingCompletedAt = &completedAt

		if e.CanRetry() {
			e.Status = threatlens.StatusRetrying
			e.RetryCount++
			e.ProcessingStartedAt = nil
			e.ProcessingCompletedAt = nil
			atomic.AddInt64(&q.retryCount, 1)
			heap.Push(&q.pending, e)
		} else {
			atomic.AddInt64(&q.inFlight, -1)
			atomic.AddInt64(&q.totalProcessed, 1)
			if errHandler != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							logger.Error.Printf("queue: error handler panicked: %v", r)
						}
					}()
					errHandler(e, err)
				}()
			}
		}
	}
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// invokeProcessor calls proc with panic isolation: a crash in the
// user-supplied callback must not take down the queue (spec §7).
func (q *Queue) invokeProcessor(proc BatchProcessor, batch []*threatlens.LogEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("queue: batch processor panicked: %v", r)
		}
	}()
	return proc(batch)
}

func (q *Queue) recordProcessingTime(d time.Duration) {
	q.procTimesMu.Lock()
	defer q.procTimesMu.Unlock()
	q.procTimes = append(q.procTimes, d)
	if len(q.procTimes) > maxProcessingTimeSamples {
		q.procTimes = q.procTimes[len(q.procTimes)-maxProcessingTimeSamples:]
	}
}

// drainFinal processes whatever is left in the pending heap once, if a
// processor is registered, implementing Shutdown's "drains one last
// batch" guarantee.
func (q *Queue) drainFinal() {
	q.processorMu.RLock()
	proc := q.processor
	q.processorMu.RUnlock()
	if proc == nil {
		return
	}
	var final []*threatlens.LogEntry
	for {
		e, ok := q.popOne()
		if !ok {
			break
		}
		final = append(final, e)
	}
	if len(final) == 0 {
		return
	}
	q.processBatch(final)
}

// Shutdown stops accepting new batches, drains one last batch if a
// processor is set, then returns once outstanding work has settled or
// grace elapses (spec §4.2 Shutdown(), §5 stop-order contract).
func (q *Queue) Shutdown(grace time.Duration) {
	if !atomic.CompareAndSwapInt32(&q.shuttingDown, 0, 1) {
		return
	}
	close(q.stopCh)
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		logger.Warn.Println("queue: shutdown grace period elapsed with batches still running")
	}
}

// PurgeCompleted removes COMPLETED entries whose ProcessingCompletedAt is
// older than olderThan, per spec §4.2.6.
func (q *Queue) PurgeCompleted(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	q.mu.Lock()
	defer q.mu.Unlock()
	purged := 0
	for id, e := range q.all {
		if e.Status == threatlens.StatusCompleted && e.ProcessingCompletedAt != nil && e.ProcessingCompletedAt.Before(cutoff) {
			delete(q.all, id)
			purged++
		}
	}
	return purged
}

// HealthCheck implements threatlens.HealthChecker.
func (q *Queue) HealthCheck() threatlens.HealthCheck {
	start := time.Now()
	stats := q.Stats()
	status := threatlens.HealthHealthy
	msg := "queue nominal"
	if stats.ErrorRate > 0.10 {
		status = threatlens.HealthCritical
		msg = "error rate above 10%"
	} else if stats.BackpressureActive {
		status = threatlens.HealthWarning
		msg = "backpressure active"
	}
	return threatlens.HealthCheck{
		Status:  status,
		Message: msg,
		Metrics: map[string]float64{
			"pending":         float64(stats.Pending),
			"processing":      float64(stats.Processing),
			"dropped":         float64(stats.DroppedCount),
			"duplicates_seen": float64(stats.DuplicateSeenCount),
		},
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}
}
