// Package schedule abstracts one-shot timers behind an interface so the
// components that arm them (presence grace window, call ring timeout)
// can be driven by a fake clock in tests.
package schedule

import "time"

// Timer is a one-shot pending callback. Stop reports whether the
// callback was cancelled before it ran.
type Timer interface {
	Stop() bool
}

// Scheduler arms one-shot timers. The callback runs at most once.
type Scheduler interface {
	After(d time.Duration, fn func()) Timer
}

type systemScheduler struct{}

type systemTimer struct{ t *time.Timer }

func (t systemTimer) Stop() bool { return t.t.Stop() }

func (systemScheduler) After(d time.Duration, fn func()) Timer {
	return systemTimer{t: time.AfterFunc(d, fn)}
}

// System returns a Scheduler backed by time.AfterFunc.
func System() Scheduler { return systemScheduler{} }
