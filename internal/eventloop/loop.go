package eventloop

import "time"

// Loop schedules callbacks on a single logical thread.
type Loop interface {
	// Post queues fn to run after the currently running task.
	Post(fn func())
	// Every runs fn once per period until the returned Timer is stopped.
	Every(period time.Duration, fn func()) Timer
}

// Timer is a handle to a periodic callback.
type Timer interface {
	// Stop cancels the timer. Ticks already queued are skipped. Safe to
	// call more than once.
	Stop()
}
