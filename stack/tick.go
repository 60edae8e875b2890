package stack

import (
	"time"

	lantern "github.com/joshuafuller/lantern"
)

// timerCallbackEntry is one row of the process-wide timer table. A row is
// free when fn is nil.
type timerCallbackEntry struct {
	period    time.Duration
	remaining time.Duration
	fn        func()
}

// RegisterTicker adds a per-protocol tick handler. The handler runs under
// the stack mutex every time the accumulated tick time crosses interval.
// Protocol engines register once at construction; there is no detach.
func (s *Stack) RegisterTicker(name string, interval time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickers = append(s.tickers, &protoTicker{name: name, interval: interval, fn: fn})
}

// Tick advances every protocol counter by one tick interval and runs the
// handlers whose intervals elapsed, then services the timer callback
// table. The dispatcher calls this on its own; tests call it directly to
// step protocol time deterministically.
func (s *Stack) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tickers {
		t.elapsed += s.tickInterval
		if t.elapsed >= t.interval {
			t.elapsed = 0
			t.fn()
		}
	}

	for i := range s.timerCallbacks {
		e := &s.timerCallbacks[i]
		if e.fn == nil {
			continue
		}
		e.remaining -= s.tickInterval
		if e.remaining <= 0 {
			e.remaining = e.period
			e.fn()
		}
	}
}

// AttachTimerCallback registers fn to run every period, driven by the
// stack tick. It returns a handle for DetachTimerCallback, or
// ErrOutOfResources when the table is full. Callbacks run under the stack
// mutex and must not call stack APIs that reacquire it.
func (s *Stack) AttachTimerCallback(period time.Duration, fn func()) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fn == nil || period <= 0 {
		return 0, lantern.ErrInvalidParameter
	}
	for i := range s.timerCallbacks {
		e := &s.timerCallbacks[i]
		if e.fn == nil {
			e.period = period
			e.remaining = period
			e.fn = fn
			return i, nil
		}
	}
	return 0, lantern.ErrOutOfResources
}

// DetachTimerCallback removes a timer callback by handle. Unknown handles
// are ignored.
func (s *Stack) DetachTimerCallback(handle int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if handle < 0 || handle >= len(s.timerCallbacks) {
		return
	}
	s.timerCallbacks[handle] = timerCallbackEntry{}
}
