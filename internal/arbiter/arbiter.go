package arbiter

import (
	"sync"
	"time"
)

// DefaultDelay is how long the operator has to respond before unattended mode starts.
const DefaultDelay = 30 * time.Second

// State of the arbiter.
type State int

const (
	Disarmed State = iota
	Armed
	Fired
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	default:
		return "disarmed"
	}
}

// Arbiter races an operator response against a countdown. Whichever comes
// first decides the mode; the other is ignored.
type Arbiter struct {
	mu    sync.Mutex
	state State
	timer *time.Timer

	// AfterFunc schedules f after d. Replaced in tests.
	AfterFunc func(d time.Duration, f func()) *time.Timer
}

// New creates a disarmed arbiter.
func New() *Arbiter {
	return &Arbiter{AfterFunc: time.AfterFunc}
}

// Arm starts the countdown. When it expires before Disarm, fire runs exactly once
// on its own goroutine. Arming an armed arbiter restarts the countdown.
func (a *Arbiter) Arm(delay time.Duration, fire func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.state = Armed
	var t *time.Timer
	t = a.AfterFunc(delay, func() {
		a.mu.Lock()
		if a.state != Armed || a.timer != t {
			a.mu.Unlock()
			return
		}
		a.state = Fired
		a.timer = nil
		a.mu.Unlock()
		fire()
	})
	a.timer = t
}

// Disarm cancels a pending countdown. It reports whether it prevented the fire.
func (a *Arbiter) Disarm() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != Armed {
		return false
	}
	a.state = Disarmed
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	return true
}

// State returns the current state.
func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
