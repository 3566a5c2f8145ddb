package amp

import (
	"errors"
	"testing"
)

func TestLifecycleGuard(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		allowed []State
		wantErr error
	}{{
		"allowed single",
		StateConfigured,
		[]State{StateConfigured},
		nil,
	}, {
		"allowed one of several",
		StateStreaming,
		[]State{StateConfigured, StateStreaming},
		nil,
	}, {
		"query before configure",
		StateIdle,
		[]State{StateConfigured, StateStreaming},
		ErrNotConfigured,
	}, {
		"configure while streaming",
		StateStreaming,
		[]State{StateIdle, StateConfigured},
		ErrInvalidState,
	}, {
		"stop while configured",
		StateConfigured,
		[]State{StateStreaming},
		ErrInvalidState,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l Lifecycle
			l.Set(tt.state)
			err := l.Guard("op", tt.allowed...)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Guard() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateIdle:       "idle",
		StateConfigured: "configured",
		StateStreaming:  "streaming",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

