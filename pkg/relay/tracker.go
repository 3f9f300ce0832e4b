package relay

import (
	"context"
	"sync"
)

// tracker holds the cancel funcs of live handlers so a shutdown can close
// them all and wait for their teardown.
type tracker struct {
	mu      sync.Mutex
	handles map[string]*trackedConn
	closed  bool
	wg      sync.WaitGroup
}

type trackedConn struct {
	cancel context.CancelFunc
	once   sync.Once
}

func newTracker() *tracker {
	return &tracker{handles: make(map[string]*trackedConn)}
}

// register adds connID. A previous entry under the same id is cancelled and
// released first. Once cancelAll has run, register refuses new entries and
// reports false.
func (t *tracker) register(connID string, cancel context.CancelFunc) (unregister func(), ok bool) {
	entry := &trackedConn{cancel: cancel}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return func() {}, false
	}
	old := t.handles[connID]
	t.handles[connID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		old.cancel()
		t.release(connID, old)
	}
	return func() { t.release(connID, entry) }, true
}

func (t *tracker) release(connID string, entry *trackedConn) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.handles[connID] == entry {
			delete(t.handles, connID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

func (t *tracker) cancelAll() int {
	t.mu.Lock()
	t.closed = true
	cancels := make([]context.CancelFunc, 0, len(t.handles))
	for _, entry := range t.handles {
		cancels = append(cancels, entry.cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// wait reports whether every registered handler finished before ctx ended.
func (t *tracker) wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
