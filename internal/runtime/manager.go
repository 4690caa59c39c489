// Package runtime supervises the four core components' start/stop
// order (spec §5: Controller → Queue → Fan-out Bus → Tailing Engine,
// reverse on shutdown) and aggregates their state for diagnostics.
package runtime

import (
	"context"
	"time"

	"github.com/sysflow-telemetry/sf-apis/go/logger"

	"github.com/Stavin13/Threat-lens-sub000/internal/analyzer"
	"github.com/Stavin13/Threat-lens-sub000/internal/checkpoint"
	"github.com/Stavin13/Threat-lens-sub000/internal/config"
	"github.com/Stavin13/Threat-lens-sub000/internal/fanout"
	"github.com/Stavin13/Threat-lens-sub000/internal/health"
	"github.com/Stavin13/Threat-lens-sub000/internal/notify"
	"github.com/Stavin13/Threat-lens-sub000/internal/queue"
	"github.com/Stavin13/Threat-lens-sub000/internal/tailer"
	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

// DefaultGrace is the shutdown grace period of spec §5 ("default 5 s").
const DefaultGrace = 5 * time.Second

// Manager owns the four core components' lifecycle and wires the glue
// between them: tailed entries into the queue, analyzed batches into the
// fan-out bus and the notification router.
type Manager struct {
	Config *config.Config

	Controller *health.Controller
	Queue      *queue.Queue
	Bus        *fanout.Bus
	Tailer     *tailer.Engine

	Router   *notify.Router
	Notifier notify.Notifier
	Analyze  analyzer.Analyzer

	grace time.Duration
}

// New wires the four components together from cfg, but does not start
// them — call Start for that. store backs the tailer's checkpoints (may
// be nil).
func New(cfg *config.Config, store checkpoint.Store) *Manager {
	q := queue.New(cfg.Global)
	bus := fanout.New(cfg.Fanout)
	tail := tailer.New(cfg.Tailing, store)

	ctrl := health.New(cfg.Controller, q, bus, health.Bounds{
		MinBatchSize:                   cfg.Global.MinBatchSize,
		MaxBatchSize:                   cfg.Global.MaxBatchSize,
		InitialBatchSize:               cfg.Global.BatchSize,
		MaxConcurrentCap:               cfg.Global.MaxConcurrentCap,
		InitialMaxConcurrentBatches:    cfg.Global.MaxConcurrentBatches,
		MaxQueueSize:                   cfg.Global.MaxQueueSize,
		InitialSlowSubscriberThreshold: cfg.Fanout.SlowSubscriberThreshold,
	})
	ctrl.RegisterChecker("queue", q)
	ctrl.RegisterChecker("fanout", bus)
	ctrl.RegisterChecker("tailer", tail)

	m := &Manager{
		Config:     cfg,
		Controller: ctrl,
		Queue:      q,
		Bus:        bus,
		Tailer:     tail,
		Analyze:    analyzer.Passthrough,
		grace:      DefaultGrace,
	}

	q.SetBatchProcessor(m.processBatch)
	tail.SetConsumer(m.consumeEntry)
	return m
}

// consumeEntry bridges the Tailing Engine to the Priority Ingestion
// Queue (spec §2's data flow: files → Tailing Engine → [LogEntry] →
// Ingestion Queue). Backpressure from the queue is surfaced to the
// engine as tailer.ErrBackpressure so the offending source backs off.
func (m *Manager) consumeEntry(entry *threatlens.LogEntry) error {
	switch m.Queue.Enqueue(entry) {
	case threatlens.Accepted:
		return nil
	case threatlens.RejectedBackpressure:
		return tailer.ErrBackpressure
	default:
		return nil // invalid/full entries are dropped, not retried by the tailer
	}
}

// processBatch bridges the queue to the (opaque) Analyzer and onward to
// the Event Fan-out Bus and notification router (spec §2's data flow:
// Ingestion Queue → batches → Analyzer → AnalysisResult → Fan-out Bus).
func (m *Manager) processBatch(batch []*threatlens.LogEntry) error {
	ctx := context.Background()
	for _, entry := range batch {
		result, err := m.Analyze(ctx, entry)
		if err != nil {
			logger.Warn.Printf("runtime: analyzer error for %s: %v", entry.EntryID, err)
			continue
		}
		ev := threatlens.EventUpdate{
			EventType: "processing_update",
			Priority:  int(entry.Priority),
			Timestamp: time.Now().UTC(),
			Payload: map[string]interface{}{
				"entry_id":    entry.EntryID,
				"source_name": entry.SourceName,
				"detections":  result.Detections,
				"score":       result.Score,
			},
		}
		m.Bus.Broadcast(ev)
		m.routeNotification(ev)
	}
	return nil
}

func (m *Manager) routeNotification(ev threatlens.EventUpdate) {
	if m.Router == nil || m.Notifier == nil {
		return
	}
	channels := m.Router.Select(ev)
	if len(channels) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Notifier.Dispatch(ctx, ev); err != nil {
		logger.Warn.Printf("runtime: notification dispatch failed: %v", err)
	}
}

// Start brings components up in spec §5's order: Controller → Queue →
// Fan-out Bus → Tailing Engine. Queue and Bus are already running their
// internal loops as of construction; only the Controller's sampling loop
// needs an explicit start, and the Tailing Engine has no further action
// beyond AddSource calls the caller makes afterward.
func (m *Manager) Start() {
	go m.Controller.Run()
}

// Shutdown stops components in reverse order, each within its own grace
// period (spec §5).
func (m *Manager) Shutdown() {
	m.Tailer.Shutdown(m.grace)
	m.Bus.Shutdown(m.grace)
	m.Queue.Shutdown(m.grace)
	m.Controller.Shutdown(m.grace)
	if m.Notifier != nil {
		if err := m.Notifier.Close(); err != nil {
			logger.Warn.Printf("runtime: notifier close failed: %v", err)
		}
	}
}

// Diagnostics is a point-in-time dump combining queue stats, fan-out
// subscriber counts and component health into one structure (supplements
// original_source/app/realtime/diagnostics.py's troubleshooting snapshot
// with exactly the data the four components already expose — no new
// subsystem).
type Diagnostics struct {
	SampledAt         time.Time
	QueueStats        queue.QueueStats
	SubscriberCount   int
	Subscribers       []threatlens.Subscriber
	Sources           []threatlens.LogSource
	ComponentHealth   map[string]threatlens.HealthCheck
	OverallHealth     threatlens.HealthStatus
}

// Snapshot aggregates the current state of every component.
func (m *Manager) Snapshot() Diagnostics {
	agg := m.Controller.LastAggregate()
	return Diagnostics{
		SampledAt:       time.Now().UTC(),
		QueueStats:      m.Queue.Stats(),
		SubscriberCount: m.Bus.Count(),
		Subscribers:     m.Bus.Snapshot(),
		Sources:         m.Tailer.ListSources(),
		ComponentHealth: agg.Components,
		OverallHealth:   agg.Overall,
	}
}
