package proxy

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Handle is the guest-visible stand-in for a retained host object. It owns a
// single reference on its table entry, given up either explicitly through
// Finalizer.Dispose or when the handle is garbage collected, whichever comes
// first.
type Handle struct {
	ID ID
	// Kind is the host type name of the object, e.g. "function".
	Kind  string
	claim *claim
}

// claim is kept apart from the Handle so the cleanup does not keep it alive.
type claim struct {
	id   ID
	done atomic.Bool
}

func (c *claim) take() bool { return c.done.CompareAndSwap(false, true) }

// NewHandle returns a handle for an id already retained on behalf of the
// caller.
func NewHandle(id ID, kind string) *Handle {
	return &Handle{ID: id, Kind: kind, claim: &claim{id: id}}
}

// Ref returns the id the handle holds a reference on. Unlike ID it cannot be
// changed by the guest.
func (h *Handle) Ref() ID { return h.claim.id }

// Released reports whether the handle has given up its reference.
func (h *Handle) Released() bool { return h.claim.done.Load() }

// Finalizer collects the ids of handles the guest engine has dropped. Handles
// become unreachable on arbitrary goroutines, so ids are only queued here; the
// owner flushes them onto the table from the goroutine that runs the guest.
type Finalizer struct {
	mu      sync.Mutex
	pending []ID
	notify  func()
}

// NewFinalizer returns a Finalizer that calls notify (if not nil) whenever a
// handle is queued.
func NewFinalizer(notify func()) *Finalizer {
	return &Finalizer{notify: notify}
}

// Track arranges for h's id to be queued once h is garbage collected.
func (f *Finalizer) Track(h *Handle) {
	runtime.AddCleanup(h, f.enqueue, h.claim)
}

func (f *Finalizer) enqueue(c *claim) {
	if !c.take() {
		return
	}
	f.mu.Lock()
	f.pending = append(f.pending, c.id)
	notify := f.notify
	f.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// Dispose releases the reference of each handle that still holds one and
// returns how many did.
func (f *Finalizer) Dispose(t *Table, handles ...*Handle) int {
	batch := make([]ID, 0, len(handles))
	for _, h := range handles {
		if h != nil && h.claim.take() {
			batch = append(batch, h.claim.id)
		}
	}
	t.Finalize(batch)
	return len(batch)
}

// Drain returns and clears the queued batch.
func (f *Finalizer) Drain() []ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := f.pending
	f.pending = nil
	return batch
}

// Flush finalizes the queued batch on t and returns its size.
func (f *Finalizer) Flush(t *Table) int {
	batch := f.Drain()
	if len(batch) > 0 {
		t.Finalize(batch)
	}
	return len(batch)
}
