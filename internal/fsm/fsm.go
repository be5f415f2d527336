// Package fsm provides table-driven finite state machines for the
// lifecycle records (withdrawals, loans, certificates, chores, coupons).
package fsm

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when an event is not allowed from the
// current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// TransitionError describes a rejected transition.
type TransitionError struct {
	Machine string
	From    string
	Event   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s from %s", e.Machine, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Machine is an immutable transition table keyed by state and event.
type Machine[S ~string, E ~string] struct {
	name  string
	table map[S]map[E]S
}

// New builds a machine. The table is copied so callers cannot mutate it later.
func New[S ~string, E ~string](name string, table map[S]map[E]S) *Machine[S, E] {
	copied := make(map[S]map[E]S, len(table))
	for from, edges := range table {
		inner := make(map[E]S, len(edges))
		for event, to := range edges {
			inner[event] = to
		}
		copied[from] = inner
	}
	return &Machine[S, E]{name: name, table: copied}
}

// Name returns the machine name used in errors and metrics.
func (m *Machine[S, E]) Name() string {
	return m.name
}

// Next returns the target state for event from state, or a *TransitionError.
func (m *Machine[S, E]) Next(from S, event E) (S, error) {
	if to, ok := m.table[from][event]; ok {
		return to, nil
	}
	return from, &TransitionError{Machine: m.name, From: string(from), Event: string(event)}
}

// Can reports whether event is allowed from state.
func (m *Machine[S, E]) Can(from S, event E) bool {
	_, ok := m.table[from][event]
	return ok
}

// Terminal reports whether no event leaves state.
func (m *Machine[S, E]) Terminal(state S) bool {
	return len(m.table[state]) == 0
}
