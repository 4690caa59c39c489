package waker

import (
	"context"
	"sync"

	"github.com/sysflow-telemetry/sf-apis/go/logger"
)

// testWaker is used by tests to manually signal idle routines that it's
// time to look for new work, without relying on real sleeps.
// Adapted verbatim in spirit from the teacher's driver/log/waker/testwaker.go.
type testWaker struct {
	ctx context.Context

	n int

	wakeeReady chan struct{}
	wakeeDone  chan struct{}
	wait       chan struct{}

	mu   sync.Mutex
	wake chan struct{}
}

// WakeFunc triggers a wakeup of blocked goroutines under test, taking the
// number of goroutines expected to be waiting on the next round.
type WakeFunc func(int)

// NewTest creates a Waker for tests and a function to trigger a wakeup.
// n is how many wakees are expected in the first pass.
func NewTest(ctx context.Context, n int) (Waker, WakeFunc) {
	t := &testWaker{
		ctx:        ctx,
		n:          n,
		wakeeReady: make(chan struct{}),
		wakeeDone:  make(chan struct{}),
		wait:       make(chan struct{}),
		wake:       make(chan struct{}),
	}
	initDone := make(chan struct{})
	go func() {
		defer close(initDone)
		for i := 0; i < t.n; i++ {
			<-t.wakeeDone
		}
	}()
	wakeFunc := func(after int) {
		<-initDone
		logger.Trace.Println("testWaker yielding to wakee")
		for i := 0; i < t.n; i++ {
			t.wait <- struct{}{}
		}
		for i := 0; i < t.n; i++ {
			<-t.wakeeReady
		}
		t.broadcastWakeAndReset()
		for i := 0; i < after; i++ {
			<-t.wakeeDone
		}
		t.n = after
	}
	return t, wakeFunc
}

func (t *testWaker) Wake() (w <-chan struct{}) {
	t.mu.Lock()
	w = t.wake
	t.mu.Unlock()
	go func() {
		select {
		case <-t.ctx.Done():
			return
		case t.wakeeDone <- struct{}{}:
		}
		select {
		case <-t.ctx.Done():
			return
		case <-t.wait:
		}
		select {
		case <-t.ctx.Done():
			return
		case t.wakeeReady <- struct{}{}:
		}
	}()
	return
}

func (t *testWaker) broadcastWakeAndReset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	close(t.wake)
	t.wake = make(chan struct{})
}

// alwaysWaker never blocks the wakee; every Wake() call returns an
// already-closed channel.
type alwaysWaker struct {
	wake chan struct{}
}

// NewTestAlways builds a Waker that never blocks, for tests that don't
// care about pacing.
func NewTestAlways() Waker {
	w := &alwaysWaker{wake: make(chan struct{})}
	close(w.wake)
	return w
}

func (w *alwaysWaker) Wake() <-chan struct{} {
	return w.wake
}
