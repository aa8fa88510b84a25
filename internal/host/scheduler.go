package host

import "time"

// Scheduler is the host timer facility. The bridge only ever asks it to call
// a function again after a delay.
type Scheduler interface {
	RunAfter(d time.Duration, fn func())
}

// TimerScheduler runs callbacks on their own goroutine using time.AfterFunc.
type TimerScheduler struct{}

func (TimerScheduler) RunAfter(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(d time.Duration, fn func())

func (f SchedulerFunc) RunAfter(d time.Duration, fn func()) { f(d, fn) }
