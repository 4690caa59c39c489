// Package tailer implements the File Tailing Engine of spec §4.1: it
// watches a set of LogSources, detects growth/rotation, and hands
// complete lines to a registered Consumer as threatlens.LogEntry values.
package tailer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	cmap "github.com/orcaman/concurrent-map"
	"github.com/sysflow-telemetry/sf-apis/go/logger"

	"github.com/Stavin13/Threat-lens-sub000/internal/checkpoint"
	"github.com/Stavin13/Threat-lens-sub000/internal/config"
	"github.com/Stavin13/Threat-lens-sub000/internal/tailer/logline"
	"github.com/Stavin13/Threat-lens-sub000/internal/tailer/logstream"
	"github.com/Stavin13/Threat-lens-sub000/internal/tailer/waker"
	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

// ErrBackpressure is the backpressure signal a Consumer returns to ask
// the engine to pause reading the offending source for a bounded backoff,
// per spec §4.1 step 5.
var ErrBackpressure = errors.New("tailer: consumer applied backpressure")

// Consumer receives each LogEntry produced by the engine. Returning
// ErrBackpressure (or an error wrapping it) pauses that source's reads;
// any other non-nil error is logged and does not stop the engine.
type Consumer func(entry *threatlens.LogEntry) error

const (
	initialErrorBackoff = 1 * time.Second
	maxErrorBackoff      = 60 * time.Second
	maxBackpressureMult  = 10

	// defaultCheckpointInterval backs runSource's periodic checkpoint
	// ticker when no interval is configured.
	defaultCheckpointInterval = 10 * time.Second
)

type subSource struct {
	reader *logstream.Reader
	path   string
}

// sourceState is the engine's single-writer-owned mutable state for one
// configured LogSource (spec §5).
type sourceState struct {
	mu     sync.Mutex
	source threatlens.LogSource

	reader  *logstream.Reader   // set for SourceKindFile
	subs    map[string]*subSource // set for SourceKindDirectory, keyed by path

	consecutiveErrors int
	backpressureUntil time.Time
	stopCh            chan struct{}
	stopped           bool
}

// Engine is the File Tailing Engine.
type Engine struct {
	cfg      config.Tailing
	store    checkpoint.Store
	sources  cmap.ConcurrentMap

	mu       sync.RWMutex
	consumer Consumer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	watcher *fsnotify.Watcher // optional edge-triggered change detector

	w waker.Waker // not consulted by runSource, which always uses real tickers
}

// New builds a File Tailing Engine. store may be nil, in which case
// offsets are not persisted across restarts.
func New(cfg config.Tailing, store checkpoint.Store) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:     cfg,
		store:   store,
		sources: cmap.New(),
		ctx:     ctx,
		cancel:  cancel,
	}
	if err := e.enableWatcher(); err != nil {
		logger.Trace.Printf("tailer: fsnotify watcher unavailable, polling only: %v", err)
	}
	return e
}

// SetConsumer registers the function that receives each produced
// LogEntry. The consumer is read afresh on every poll; while none is set,
// polls read nothing.
func (e *Engine) SetConsumer(c Consumer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consumer = c
}

func (e *Engine) getConsumer() Consumer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.consumer
}

// AddSource validates and registers a LogSource, per spec §4.1. For
// files, LastOffset starts at the current size (history is not replayed)
// unless a checkpointed offset exists. For directories, FilePattern is
// expanded (recursively if Recursive is set) into per-file sub-readers.
func (e *Engine) AddSource(src threatlens.LogSource) error {
	if src.Name == "" {
		return fmt.Errorf("%w: source name cannot be empty", threatlens.ErrValidation)
	}
	if _, exists := e.sources.Get(src.Name); exists {
		return threatlens.ErrSourceExists
	}
	if src.PollingInterval <= 0 {
		src.PollingInterval = e.cfg.PollingInterval
	}
	if !src.Priority.Valid() {
		src.Priority = threatlens.PriorityMedium
	}

	st := &sourceState{source: src, stopCh: make(chan struct{})}

	var priorOffset int64
	if e.store != nil {
		if cp, ok, err := e.store.Load(e.ctx, src.Name); err == nil && ok {
			priorOffset = cp.LastOffset
		} else if err != nil {
			logger.Warn.Printf("tailer: checkpoint load for %s failed: %v", src.Name, err)
		}
	}

	switch src.Kind {
	case threatlens.SourceKindFile, "":
		st.source.Kind = threatlens.SourceKindFile
		r, err := logstream.NewReader(src.Path, false, priorOffset)
		if err != nil {
			st.source.Status = threatlens.SourceError
			st.source.LastError = err.Error()
			// per spec: "file may not yet exist" is not a hard AddSource
			// error; runSource's polls keep trying to open it.
			break
		}
		st.reader = r
		st.source.LastOffset = r.LastOffset()
		st.source.KnownSize = r.KnownSize()
		st.source.Status = threatlens.SourceActive
		e.watchSourcePath(src.Path, false)
	case threatlens.SourceKindDirectory:
		st.subs = make(map[string]*subSource)
		matches, err := expandDirectory(src.Path, src.FilePattern, src.Recursive)
		if err != nil {
			return fmt.Errorf("%w: %v", threatlens.ErrValidation, err)
		}
		for _, m := range matches {
			r, err := logstream.NewReader(m, false, 0)
			if err != nil {
				continue
			}
			st.subs[m] = &subSource{reader: r, path: m}
		}
		st.source.Status = threatlens.SourceActive
		e.watchSourcePath(src.Path, true)
	default:
		return fmt.Errorf("%w: unknown source kind %q", threatlens.ErrValidation, src.Kind)
	}

	st.source.Enabled = true
	e.sources.Set(src.Name, st)

	e.wg.Add(1)
	go e.runSource(src.Name, st)
	return nil
}

// RemoveSource stops and forgets a source, discarding any sub-source tail
// state (directory sources), per spec §4.1.
func (e *Engine) RemoveSource(name string) bool {
	v, ok := e.sources.Get(name)
	if !ok {
		return false
	}
	st := v.(*sourceState)
	st.mu.Lock()
	if !st.stopped {
		st.stopped = true
		close(st.stopCh)
	}
	st.mu.Unlock()
	e.sources.Remove(name)
	return true
}

// ListSources returns a point-in-time snapshot of every configured
// source's runtime state.
func (e *Engine) ListSources() []threatlens.LogSource {
	out := make([]threatlens.LogSource, 0, e.sources.Count())
	for item := range e.sources.IterBuffered() {
		st := item.Val.(*sourceState)
		st.mu.Lock()
		out = append(out, st.source.Snapshot())
		st.mu.Unlock()
	}
	return out
}

// SourcesStatus summarizes source health, per spec §4.1's
// Status() operation.
type SourcesStatus struct {
	TotalSources  int
	ActiveSources int
	ErrorSources  int
	PerSource     map[string]threatlens.LogSource
}

// Status implements the engine's Status() operation.
func (e *Engine) Status() SourcesStatus {
	out := SourcesStatus{PerSource: make(map[string]threatlens.LogSource)}
	for item := range e.sources.IterBuffered() {
		st := item.Val.(*sourceState)
		st.mu.Lock()
		snap := st.source.Snapshot()
		st.mu.Unlock()
		out.TotalSources++
		switch snap.Status {
		case threatlens.SourceActive:
			out.ActiveSources++
		case threatlens.SourceError:
			out.ErrorSources++
		}
		out.PerSource[snap.Name] = snap
	}
	return out
}

// Shutdown stops every source's read loop and waits up to grace for them
// to finish, per spec §5's stop-order contract.
func (e *Engine) Shutdown(grace time.Duration) {
	e.cancel()
	for item := range e.sources.IterBuffered() {
		st := item.Val.(*sourceState)
		st.mu.Lock()
		if !st.stopped {
			st.stopped = true
			close(st.stopCh)
		}
		st.mu.Unlock()
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		logger.Warn.Println("tailer: shutdown grace period elapsed with goroutines still running")
	}
}

// runSource is the per-source task: polls on a floor timer and
// checkpoints on CheckpointInterval. The engine's filesystem watcher
// (watch.go) additionally runs pollOnce for the same source from its own
// goroutine whenever it observes a change; st.mu serializes those polls.
func (e *Engine) runSource(name string, st *sourceState) {
	defer e.wg.Done()
	interval := st.source.PollingInterval
	if interval <= 0 {
		interval = e.cfg.PollingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	checkpointEvery := e.cfg.CheckpointInterval
	if checkpointEvery <= 0 {
		checkpointEvery = defaultCheckpointInterval
	}
	checkpointTicker := time.NewTicker(checkpointEvery)
	defer checkpointTicker.Stop()

	for {
		select {
		case <-st.stopCh:
			e.checkpointSource(name, st)
			return
		case <-e.ctx.Done():
			e.checkpointSource(name, st)
			return
		case <-ticker.C:
			e.pollOnce(name, st)
		case <-checkpointTicker.C:
			// Periodic write so a non-graceful exit loses at most
			// CheckpointInterval of progress, per spec §6.
			e.checkpointSource(name, st)
		}
	}
}

func (e *Engine) pollOnce(name string, st *sourceState) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if time.Now().Before(st.backpressureUntil) {
		return
	}

	consumer := e.getConsumer()
	if consumer == nil {
		return
	}

	emit := func(ll *logline.LogLine) error {
		entry := threatlens.NewLogEntry(st.source.Name, st.source.Path, ll.Line, time.Now(), st.source.Priority, ll.Offset)
		if err := consumer(entry); err != nil {
			return err
		}
		return nil
	}

	switch st.source.Kind {
	case threatlens.SourceKindDirectory:
		e.pollDirectory(name, st, emit)
		return
	}

	if st.reader == nil {
		// File didn't exist at AddSource time; try to open it now.
		r, err := logstream.NewReader(st.source.Path, true, 0)
		if err != nil {
			e.recordSourceError(st, err)
			return
		}
		st.reader = r
	}

	res, err := st.reader.Poll(emit, e.cfg.MaxPartialLineHold)
	if err != nil {
		if errors.Is(err, ErrBackpressure) {
			e.applyBackpressure(st)
			return
		}
		e.recordSourceError(st, err)
		return
	}
	st.consecutiveErrors = 0
	st.source.Status = threatlens.SourceActive
	st.source.LastError = ""
	st.source.LastOffset = st.reader.LastOffset()
	st.source.KnownSize = st.reader.KnownSize()
	st.source.LastMonitoredAt = time.Now()
	_ = res
}

func (e *Engine) pollDirectory(name string, st *sourceState, emit func(*logline.LogLine) error) {
	matches, err := expandDirectory(st.source.Path, st.source.FilePattern, st.source.Recursive)
	if err != nil {
		e.recordSourceError(st, err)
		return
	}
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		seen[m] = struct{}{}
		sub, ok := st.subs[m]
		if !ok {
			r, err := logstream.NewReader(m, false, 0)
			if err != nil {
				continue
			}
			sub = &subSource{reader: r, path: m}
			st.subs[m] = sub
		}
		if _, err := sub.reader.Poll(emit, e.cfg.MaxPartialLineHold); err != nil {
			if errors.Is(err, ErrBackpressure) {
				e.applyBackpressure(st)
				return
			}
			logger.Warn.Printf("tailer: sub-source %s: %v", m, err)
		}
	}
	// Drop tail state for files that no longer match (spec §4.1: "an
	// unmatched file's tail state is discarded on removal").
	for path := range st.subs {
		if _, ok := seen[path]; !ok {
			delete(st.subs, path)
		}
	}
	st.source.Status = threatlens.SourceActive
	st.source.LastMonitoredAt = time.Now()
}

func (e *Engine) recordSourceError(st *sourceState, err error) {
	st.consecutiveErrors++
	st.source.Status = threatlens.SourceError
	st.source.LastError = err.Error()
	backoff := initialErrorBackoff << uint(st.consecutiveErrors-1)
	if backoff > maxErrorBackoff || backoff <= 0 {
		backoff = maxErrorBackoff
	}
	st.backpressureUntil = time.Now().Add(backoff)
	logger.Warn.Printf("tailer: source %s error (backoff %s): %v", st.source.Name, backoff, err)
}

func (e *Engine) applyBackpressure(st *sourceState) {
	mult := st.consecutiveErrors
	if mult < 1 {
		mult = 1
	}
	if mult > maxBackpressureMult {
		mult = maxBackpressureMult
	}
	st.consecutiveErrors++
	interval := st.source.PollingInterval
	if interval <= 0 {
		interval = e.cfg.PollingInterval
	}
	backoff := time.Duration(mult) * interval
	cap := interval * maxBackpressureMult
	if backoff > cap {
		backoff = cap
	}
	st.backpressureUntil = time.Now().Add(backoff)
}

func (e *Engine) checkpointSource(name string, st *sourceState) {
	if e.store == nil {
		return
	}
	st.mu.Lock()
	cp := checkpoint.Offset{
		SourceName: name,
		LastOffset: st.source.LastOffset,
		KnownSize:  st.source.KnownSize,
		Status:     string(st.source.Status),
		LastError:  st.source.LastError,
	}
	st.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.Save(ctx, cp); err != nil {
		logger.Warn.Printf("tailer: checkpoint save for %s failed: %v", name, err)
	}
}

// HealthCheck implements threatlens.HealthChecker: CRITICAL if any
// source is in SourceError, WARNING if sources exist but none are
// active, else HEALTHY.
func (e *Engine) HealthCheck() threatlens.HealthCheck {
	start := time.Now()
	status := e.Status()

	health := threatlens.HealthHealthy
	msg := "tailing engine nominal"
	switch {
	case status.ErrorSources > 0:
		health = threatlens.HealthCritical
		msg = "one or more sources in error"
	case status.TotalSources > 0 && status.ActiveSources == 0:
		health = threatlens.HealthWarning
		msg = "no active sources"
	}
	return threatlens.HealthCheck{
		Status:  health,
		Message: msg,
		Metrics: map[string]float64{
			"total_sources":  float64(status.TotalSources),
			"active_sources": float64(status.ActiveSources),
			"error_sources":  float64(status.ErrorSources),
		},
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}
}

// expandDirectory resolves a directory LogSource's FilePattern into
// concrete file paths, recursing when Recursive is set (spec §4.1).
func expandDirectory(root, pattern string, recursive bool) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	if !recursive {
		return filepath.Glob(filepath.Join(root, pattern))
	}
	return walkMatch(root, pattern)
}
