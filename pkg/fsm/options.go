package fsm

// MachineOption configures a new machine
type MachineOption func(m *Machine) error

// WithTransitions adds edges declared with T, for example
// `NewMachine(Idle, WithTransitions(T(Idle, Countdown), T(Countdown, Work, Idle)))`.  Declaring the same
// edge twice is an error.
func WithTransitions(edges ...[]Transition) MachineOption {
	return func(m *Machine) error {
		for _, group := range edges {
			for _, t := range group {
				if contains(t.To, m.allowable[t.From]) {
					return DuplicateTransition(t)
				}
				m.allowable[t.From] = append(m.allowable[t.From], t.To)
			}
		}
		return nil
	}
}

// WithHook registers a function called after every successful transition
func WithHook(h Hook) MachineOption {
	return func(m *Machine) error {
		m.hooks = append(m.hooks, h)
		return nil
	}
}
