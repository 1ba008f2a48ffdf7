package workflow

import (
	"context"
	"fmt"
	"sort"
)

// StateMachine tracks one idea's current state and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger is configured for the current state.
	// Guards are not evaluated.
	CanFire(trigger Trigger) bool

	// Fire executes the trigger, moving to the first target whose guard passes
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns the triggers configured for the current state, sorted
	PermittedTriggers() []Trigger
}

type stateMachine struct {
	currentState State
	table        transitionTable
}

// State returns the current state
func (m *stateMachine) State() State {
	return m.currentState
}

// CanFire returns true if the trigger is configured for the current state
func (m *stateMachine) CanFire(trigger Trigger) bool {
	return len(m.table[m.currentState][trigger]) > 0
}

// Fire executes the trigger. The state is unchanged when an error is returned.
func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) error {
	transitions := m.table[m.currentState][trigger]
	if len(transitions) == 0 {
		return fmt.Errorf("%w: cannot fire %s from %s", ErrInvalidTransition, trigger, m.currentState)
	}

	for _, t := range transitions {
		if t.guard == nil || t.guard(ctx) {
			m.currentState = t.toState
			return nil
		}
	}

	return fmt.Errorf("%w: trigger %s from state %s", ErrGuardFailed, trigger, m.currentState)
}

// PermittedTriggers returns the triggers configured for the current state
func (m *stateMachine) PermittedTriggers() []Trigger {
	byTrigger := m.table[m.currentState]
	triggers := make([]Trigger, 0, len(byTrigger))
	for trigger, transitions := range byTrigger {
		if len(transitions) > 0 {
			triggers = append(triggers, trigger)
		}
	}

	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}
