package turn

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is a step of the turn state machine.
type State string

const (
	StateIntake          State = "INTAKE"
	StateContextAssembly State = "CONTEXT_ASSEMBLY"
	StateGeneration      State = "GENERATION"
	StateMemoryUpdate    State = "MEMORY_UPDATE"
	StateDone            State = "DONE"
	StateFailed          State = "FAILED"
)

// ErrInvalidTransition reports a transition the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// transitions lists the allowed successors of each state. The empty state
// is the machine before INTAKE.
var transitions = map[State][]State{
	"":                   {StateIntake},
	StateIntake:          {StateContextAssembly},
	StateContextAssembly: {StateGeneration},
	StateGeneration:      {StateMemoryUpdate, StateFailed},
	StateMemoryUpdate:    {StateDone},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Observer is notified each time the machine enters a state.
type Observer func(ctx context.Context, state State)

type machine struct {
	current   State
	enteredAt time.Time
	visited   []State
	observer  Observer
	// onLeave receives the state just left and the time spent in it.
	onLeave func(state State, d time.Duration)
}

func newMachine(observer Observer, onLeave func(State, time.Duration)) *machine {
	return &machine{observer: observer, onLeave: onLeave}
}

func (m *machine) advance(ctx context.Context, next State) error {
	allowed := false
	for _, candidate := range transitions[m.current] {
		if candidate == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, next)
	}

	now := time.Now()
	if m.current != "" && m.onLeave != nil {
		m.onLeave(m.current, now.Sub(m.enteredAt))
	}

	m.current = next
	m.enteredAt = now
	m.visited = append(m.visited, next)
	if m.observer != nil {
		m.observer(ctx, next)
	}
	return nil
}

// must advances and panics on an invalid transition. Orchestrator code only
// performs transitions from the table, so a failure here is a programming error.
func (m *machine) must(ctx context.Context, next State) {
	if err := m.advance(ctx, next); err != nil {
		panic(err)
	}
}

func (m *machine) path() []State {
	out := make([]State, len(m.visited))
	copy(out, m.visited)
	return out
}
