package queue

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/steakknife/bloomfilter"
)

// dedupGuard is a best-effort "have we seen this EntryID before"
// probabilistic filter, backing the idempotent-consumer story of spec
// §8 invariant 1/5: at-least-once delivery means a retried/replayed
// LogEntry may be offered to Enqueue again, and a bloom filter lets the
// queue flag likely duplicates cheaply without keeping every ID forever.
// False positives only cause an extra stats counter tick, never data
// loss — the filter is advisory, not a correctness gate.
type dedupGuard struct {
	mu     sync.Mutex
	filter *bloomfilter.Filter
}

// newDedupGuard sizes the filter for maxExpected entries at a 1% false
// positive rate.
func newDedupGuard(maxExpected uint64) *dedupGuard {
	if maxExpected == 0 {
		maxExpected = 1
	}
	f, err := bloomfilter.NewOptimal(maxExpected, 0.01)
	if err != nil {
		// Degrade to a minimal one-entry filter rather than a fatal
		// construction error. It saturates almost at once, after which
		// most IDs are reported as seen; only the advisory counter is
		// affected.
		f, _ = bloomfilter.NewOptimal(1, 0.5)
	}
	return &dedupGuard{filter: f}
}

// seen reports whether id has already been observed, and then records it
// unconditionally so later identical IDs are flagged too.
func (d *dedupGuard) seen(id string) bool {
	h := xxhash.New()
	_, _ = h.Write([]byte(id))

	d.mu.Lock()
	defer d.mu.Unlock()
	wasPresent := d.filter.Contains(h)
	d.filter.Add(h)
	return wasPresent
}
