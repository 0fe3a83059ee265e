package health

import "sync/atomic"

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady flips the readiness gate. The HTTP server calls SetReady(false)
// before draining connections so load balancers stop routing new traffic.
func SetReady(ok bool) {
	ready.Store(ok)
}

// IsReady reports the current state of the readiness gate.
func IsReady() bool {
	return ready.Load()
}
