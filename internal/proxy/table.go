// Package proxy keeps host objects alive while the guest engine holds opaque
// handles to them.
//
// Every handle owns one reference to its entry in a Table. Entries are keyed
// by a stable integer id, and an object retained more than once keeps the
// same id with a higher count. Releasing a batch of ids decrements each
// count; an entry is dropped, and becomes collectable by the host, only once
// its count reaches zero.
package proxy

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/joeycumines/guestjs/internal/host"
)

var (
	// ErrStaleHandle is returned when an id no longer names a retained object.
	ErrStaleHandle = errors.New("proxy: stale handle")
	// ErrMalformedHandle is returned when a wire id cannot be parsed.
	ErrMalformedHandle = errors.New("proxy: malformed handle")
)

// ID identifies a retained host object.
type ID uint64

// String returns the decimal wire encoding of the id.
func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseID parses the decimal wire encoding of an id.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedHandle, s)
	}
	return ID(n), nil
}

type slot struct {
	value host.Value
	refs  int
}

// Table is the retention table. The zero value is not usable; use NewTable.
type Table struct {
	mu        sync.Mutex
	next      ID
	slots     map[ID]*slot
	ids       map[any]ID
	onRelease []func(ID, host.Value)
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		slots: make(map[ID]*slot),
		ids:   make(map[any]ID),
	}
}

// Retain adds a reference to v and returns its id.
func (t *Table) Retain(v host.Value) ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := host.MapKey(v)
	if id, ok := t.ids[key]; ok {
		t.slots[id].refs++
		return id
	}
	t.next++
	id := t.next
	t.slots[id] = &slot{value: v, refs: 1}
	t.ids[key] = id
	return id
}

// Acquire adds a reference to an already retained id.
func (t *Table) Acquire(id ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrStaleHandle, id)
	}
	s.refs++
	return nil
}

// Resolve returns the object named by id without affecting retention.
func (t *Table) Resolve(id ID) (host.Value, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrStaleHandle, id)
	}
	return s.value, nil
}

// ResolveString resolves the wire encoding of an id.
func (t *Table) ResolveString(s string) (host.Value, error) {
	id, err := ParseID(s)
	if err != nil {
		return nil, err
	}
	return t.Resolve(id)
}

// Release drops one reference per listed id. Unknown ids are ignored, since
// the guest may report a handle after the table was cleared.
func (t *Table) Release(ids ...ID) {
	var released []*releasedSlot
	t.mu.Lock()
	for _, id := range ids {
		s, ok := t.slots[id]
		if !ok {
			continue
		}
		s.refs--
		if s.refs > 0 {
			continue
		}
		delete(t.slots, id)
		delete(t.ids, host.MapKey(s.value))
		released = append(released, &releasedSlot{id: id, value: s.value})
	}
	hooks := t.onRelease
	t.mu.Unlock()

	for _, r := range released {
		for _, fn := range hooks {
			fn(r.id, r.value)
		}
	}
}

type releasedSlot struct {
	id    ID
	value host.Value
}

// Finalize processes a batch of handles the guest engine found unreachable.
func (t *Table) Finalize(batch []ID) {
	t.Release(batch...)
}

// OnRelease registers fn to observe entries leaving the table.
func (t *Table) OnRelease(fn func(ID, host.Value)) {
	t.mu.Lock()
	t.onRelease = append(t.onRelease, fn)
	t.mu.Unlock()
}

// Len returns the number of distinct retained objects.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// Count returns the number of references held on id.
func (t *Table) Count(id ID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.slots[id]; ok {
		return s.refs
	}
	return 0
}

// Clear drops every entry, e.g. when the guest engine is discarded.
func (t *Table) Clear() {
	t.mu.Lock()
	ids := make([]ID, 0, len(t.slots))
	for id, s := range t.slots {
		s.refs = 1
		ids = append(ids, id)
	}
	t.mu.Unlock()
	t.Release(ids...)
}
