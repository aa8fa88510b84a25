// Package goroutineid identifies the calling goroutine, which is how the
// bridge tells a call arriving on the guest loop goroutine (a reentrant call)
// apart from a call made by the host.
package goroutineid

import (
	"bytes"
	"runtime"
	"sync"
	"sync/atomic"
)

var stackBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 64)
		return &b
	},
}

var goroutinePrefix = []byte("goroutine ")

// Get returns the current goroutine id, or 0 if it cannot be determined.
func Get() int64 {
	bp := stackBufPool.Get().(*[]byte)
	defer stackBufPool.Put(bp)
	// the header line fits in the buffer; runtime.Stack truncates the rest
	n := runtime.Stack(*bp, false)
	return parse((*bp)[:n])
}

// parse reads the id out of the "goroutine N [status]:" header without
// allocating.
func parse(stack []byte) int64 {
	if !bytes.HasPrefix(stack, goroutinePrefix) {
		return 0
	}
	var id int64
	for _, b := range stack[len(goroutinePrefix):] {
		if b < '0' || b > '9' {
			break
		}
		id = id*10 + int64(b-'0')
	}
	return id
}

// Owner records which goroutine currently owns a resource.
type Owner struct {
	id atomic.Int64
}

// Claim marks the calling goroutine as the owner.
func (o *Owner) Claim() { o.id.Store(Get()) }

// Disown clears the owner.
func (o *Owner) Disown() { o.id.Store(0) }

// IsCurrent reports whether the calling goroutine is the owner.
func (o *Owner) IsCurrent() bool {
	id := o.id.Load()
	return id != 0 && id == Get()
}
