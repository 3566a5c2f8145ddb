package amp

import (
	"fmt"
	"sync"
)

// State is the lifecycle position of a driver instance.
type State int

const (
	StateIdle State = iota
	StateConfigured
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Lifecycle guards the state machine for a driver instance. Drivers embed
// it so every driver rejects out-of-order calls with the same error kinds.
//
// The zero value is an Idle lifecycle.
type Lifecycle struct {
	mu    sync.Mutex
	state State
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Set records a completed transition.
func (l *Lifecycle) Set(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Guard fails unless the current state is one of allowed. The error is
// ErrNotConfigured when the call needed a configuration that never
// happened (current state Idle, Idle not allowed), and ErrInvalidState for
// every other ordering violation.
func (l *Lifecycle) Guard(op string, allowed ...State) error {
	l.mu.Lock()
	cur := l.state
	l.mu.Unlock()

	for _, s := range allowed {
		if cur == s {
			return nil
		}
	}
	if cur == StateIdle {
		return fmt.Errorf("%w: %s requires a prior configure", ErrNotConfigured, op)
	}
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, cur)
}
