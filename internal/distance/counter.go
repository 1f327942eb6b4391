package distance

import "sync/atomic"

// callCount/callEnable are a process-wide, opt-in profiling counter for
// similarity calls, gated by a runtime flag.
var (
	callCount  atomic.Uint64
	callEnable atomic.Bool
)

// EnableCallCounting turns the similarity call counter on or off. Off by
// default; recordCall is a single relaxed load when disabled so the hot path
// stays branch-free in the disabled case beyond that one check.
func EnableCallCounting(enable bool) {
	callEnable.Store(enable)
}

// CallCount returns the current tally. Advisory only: reads race concurrent
// increments by design.
func CallCount() uint64 {
	return callCount.Load()
}

// ResetCallCount zeroes the tally.
func ResetCallCount() {
	callCount.Store(0)
}

func recordCall() {
	if callEnable.Load() {
		callCount.Add(1)
	}
}
