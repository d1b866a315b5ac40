package forgeauth

import (
	"context"
	"sync"
	"sync/atomic"
)

// inflightTracker counts RoundTrip calls currently in progress so Close can
// wait for them to drain instead of cutting a send off mid-flight. It is a
// WaitGroup variant whose drain can be abandoned when ctx is done, since
// sync.WaitGroup.Wait has no cancellation hook of its own.
type inflightTracker struct {
	done   chan struct{}
	count  atomic.Int32
	once   sync.Once
	closed atomic.Bool
}

func (t *inflightTracker) init() {
	t.once.Do(func() {
		t.done = make(chan struct{})
	})
}

// enter registers one in-flight RoundTrip call.
func (t *inflightTracker) enter() {
	t.init()
	t.count.Add(1)
}

// leave marks one in-flight RoundTrip call finished.
func (t *inflightTracker) leave() {
	t.init()
	if t.count.Add(-1) == 0 && t.closed.CompareAndSwap(false, true) {
		close(t.done)
	}
}

// drain blocks until every entered call has left, or ctx is done first.
func (t *inflightTracker) drain(ctx context.Context) error {
	t.init()
	if t.count.Load() == 0 {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
