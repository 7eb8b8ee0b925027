// Package fsm validates the state transitions of the test sequencer.  States and the edges between them are
// declared up front; any other transition is rejected.
package fsm

import (
	"fmt"
	"sync"
)

// State is a named state of a Machine
type State string

// Hook is called after every successful transition
type Hook func(t Transition)

// Machine is a basic finite state machine.  It is safe for concurrent use, hooks run while the machine is
// locked and must not call back into it.
type Machine struct {
	current   State
	allowable map[State][]State
	hooks     []Hook
	mutex     sync.Mutex
}

// NewMachine returns a machine in the initial state.  Without WithTransitions it can never leave it.
func NewMachine(initial State, opts ...MachineOption) (*Machine, error) {
	machine := &Machine{
		current:   initial,
		allowable: map[State][]State{},
	}
	for _, opt := range opts {
		if err := opt(machine); err != nil {
			return nil, err
		}
	}
	return machine, nil
}

// State returns the current state of the Machine
func (m *Machine) State() State {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.current
}

// Allowable checks whether the graph has an edge from one state to another
func (m *Machine) Allowable(from, to State) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return contains(to, m.allowable[from])
}

// Transition will change the current state of the machine if it is allowable
func (m *Machine) Transition(to State) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !contains(to, m.allowable[m.current]) {
		return TransitionNotAllowed{From: m.current, To: to}
	}

	t := Transition{From: m.current, To: to}
	m.current = to
	for _, hook := range m.hooks {
		hook(t)
	}
	return nil
}

func contains(s State, all []State) bool {
	for _, a := range all {
		if s == a {
			return true
		}
	}
	return false
}

// String shows the current state and the edges of the machine, for logging
func (m *Machine) String() string {
	return fmt.Sprintf("fsm(current=%s edges=%v)", m.State(), m.Edges())
}
