package notify

import (
	"context"

	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

// Notifier dispatches one EventUpdate to a single external channel.
// Message content/formatting is deliberately opaque here — spec.md's
// Non-goals exclude notification dispatch content; only the existence
// of the dispatch boundary is in scope.
type Notifier interface {
	Dispatch(ctx context.Context, ev threatlens.EventUpdate) error
	Close() error
}
