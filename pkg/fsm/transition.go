package fsm

import (
	"fmt"
	"sort"
)

// Transition is an edge of the transition graph, and the step a machine takes when it changes state
type Transition struct {
	From State
	To   State
}

func (t Transition) String() string {
	return fmt.Sprintf("%s->%s", t.From, t.To)
}

// T declares every edge leaving one state, e.g. T(Work, Rest, Stopped)
func T(from State, tos ...State) []Transition {
	edges := make([]Transition, 0, len(tos))
	for _, to := range tos {
		edges = append(edges, Transition{From: from, To: to})
	}
	return edges
}

// Edges returns the transition graph ordered by source state, then by the order the edges were declared
func (m *Machine) Edges() []Transition {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	from := make([]State, 0, len(m.allowable))
	for s := range m.allowable {
		from = append(from, s)
	}
	sort.Slice(from, func(i, j int) bool { return from[i] < from[j] })

	var edges []Transition
	for _, s := range from {
		edges = append(edges, T(s, m.allowable[s]...)...)
	}
	return edges
}
