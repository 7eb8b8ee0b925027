package fsm

import "fmt"

// TransitionNotAllowed is returned when a machine is asked to take an edge that was never declared
type TransitionNotAllowed Transition

func (e TransitionNotAllowed) Error() string {
	return fmt.Sprintf("cannot transition from state %s to %s", e.From, e.To)
}

// DuplicateTransition is returned when the same edge is declared twice
type DuplicateTransition Transition

func (e DuplicateTransition) Error() string {
	return fmt.Sprintf("transition %s declared twice", Transition(e))
}
