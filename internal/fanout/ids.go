package fanout

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

// idGen hands out lexicographically-sortable, collision-resistant
// subscriber IDs. ulid.Monotonic is explicitly documented as unsafe for
// concurrent use by multiple goroutines, so generation is serialized
// behind a mutex — registration is not hot enough for that to matter.
type idGen struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newIDGen() *idGen {
	return &idGen{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *idGen) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
	return id.String()
}
