// Package statemachine validates status transitions against an explicit table.
//
// A Machine is immutable after construction and safe for concurrent use. Domain
// packages declare their table once and call Validate before persisting a change.
package statemachine

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidTransition is returned (wrapped with the offending states) when a
// transition is not in the table or the guard refuses it.
var ErrInvalidTransition = errors.New("invalid transition")

// Guard decides whether role may perform a transition that the table allows.
type Guard[S comparable] func(from, to S, role string) bool

// Option configures a Machine.
type Option[S comparable] func(*Machine[S])

// WithGuard restricts allowed transitions by role.
func WithGuard[S comparable](guard Guard[S]) Option[S] {
	return func(m *Machine[S]) {
		m.guard = guard
	}
}

// Machine holds the allowed transitions for a status type.
type Machine[S comparable] struct {
	transitions map[S][]S
	guard       Guard[S]
}

// New builds a Machine from a transition table. States with no entry are terminal.
func New[S comparable](transitions map[S][]S, opts ...Option[S]) *Machine[S] {
	m := &Machine[S]{transitions: make(map[S][]S, len(transitions))}
	for from, to := range transitions {
		m.transitions[from] = slices.Clone(to)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CanTransition reports whether the table allows current -> next, ignoring the guard.
func (m *Machine[S]) CanTransition(current, next S) bool {
	return slices.Contains(m.transitions[current], next)
}

// Validate checks current -> next for role.
func (m *Machine[S]) Validate(current, next S, role string) error {
	if !m.CanTransition(current, next) {
		return fmt.Errorf("%w: %v -> %v", ErrInvalidTransition, current, next)
	}
	if m.guard != nil && !m.guard(current, next, role) {
		return fmt.Errorf("%w: %v -> %v not permitted for role %q", ErrInvalidTransition, current, next, role)
	}
	return nil
}

// ValidateAny passes when Validate passes for at least one of roles.
// With no roles the guard is consulted with the empty role.
func (m *Machine[S]) ValidateAny(current, next S, roles []string) error {
	if len(roles) == 0 {
		return m.Validate(current, next, "")
	}
	var err error
	for _, role := range roles {
		if err = m.Validate(current, next, role); err == nil {
			return nil
		}
	}
	return err
}

// Allowed returns the states reachable from current in table order.
func (m *Machine[S]) Allowed(current S) []S {
	return slices.Clone(m.transitions[current])
}

// IsTerminal reports whether no transition leaves s.
func (m *Machine[S]) IsTerminal(s S) bool {
	return len(m.transitions[s]) == 0
}
