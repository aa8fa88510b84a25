// Package testutil provides helpers shared by the package tests.
package testutil

import (
	"sync"
	"time"

	"github.com/joeycumines/guestjs/internal/host"
)

// ManualScheduler is a host.Scheduler that records requests instead of
// running them. Tests fire them explicitly with RunNext.
type ManualScheduler struct {
	mu      sync.Mutex
	pending []Scheduled
}

// Scheduled is one recorded RunAfter request.
type Scheduled struct {
	Delay time.Duration
	Fn    func()
}

var _ host.Scheduler = (*ManualScheduler)(nil)

func (s *ManualScheduler) RunAfter(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, Scheduled{Delay: d, Fn: fn})
}

// Len reports how many requests are waiting.
func (s *ManualScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Peek returns the oldest waiting request without removing it.
func (s *ManualScheduler) Peek() (Scheduled, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return Scheduled{}, false
	}
	return s.pending[0], true
}

// RunNext removes the oldest request and runs it on the calling goroutine.
// It reports false if nothing was waiting.
func (s *ManualScheduler) RunNext() bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()
	next.Fn()
	return true
}
