package realtime

import "time"

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. The manager only needs one-shot timers; the
// keepalive re-arms itself after each tick.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
