// Package waker provides an interface for a routine waker: something that
// lets an idle goroutine block efficiently until there's a reason to look
// for new work, instead of a tight poll loop.
// Adapted from the teacher's driver/log/waker package (itself adapted
// from https://github.com/google/mtail/tree/main/internal).
package waker

// Waker wakes a waiting goroutine.
type Waker interface {
	// Wake returns a channel that is closed when it's time to wake up
	// and look for new work.
	Wake() <-chan struct{}
}

// intervalWaker wakes up every tick of an external ticker channel.
type intervalWaker struct {
	ticks <-chan struct{}
}

// NewInterval builds a Waker that wakes whenever a value arrives on
// ticks. Callers own the lifetime of the channel/ticker feeding it.
func NewInterval(ticks <-chan struct{}) Waker {
	return &intervalWaker{ticks: ticks}
}

func (w *intervalWaker) Wake() <-chan struct{} {
	out := make(chan struct{})
	go func() {
		<-w.ticks
		close(out)
	}()
	return out
}
