package modsync

import "time"

// Scheduler runs a function once after a delay. The returned cancel func makes
// the pending run a no-op; it is safe to call after the function has fired.
// Peer timeouts and lock-broadcast retries are tied to peer lifetime through
// these cancel funcs.
type Scheduler interface {
	After(d time.Duration, fn func()) (cancel func())
}

type systemScheduler struct{}

func (systemScheduler) After(d time.Duration, fn func()) func() {
	timer := time.AfterFunc(d, fn)
	return func() { timer.Stop() }
}

// SystemScheduler returns a Scheduler backed by time.AfterFunc.
func SystemScheduler() Scheduler {
	return systemScheduler{}
}
