package workflow

import (
	"context"
	"fmt"
	"sort"
)

// GuardFunc decides whether a configured transition may be taken
type GuardFunc func(ctx context.Context) bool

// StateMachineBuilder builds configured state machines
type StateMachineBuilder interface {
	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Build creates a new state machine instance with the given initial state
	Build(initialState State) StateMachine

	// Edges lists every configured transition, sorted by source then trigger
	Edges() []Edge
}

// StateConfiguration configures the outgoing transitions of one state
type StateConfiguration interface {
	// Permit allows a trigger to transition to the target state
	Permit(trigger Trigger, toState State) StateConfiguration

	// PermitIf allows a trigger to transition to the target state if the guard passes
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

// Edge is one row of the transition table.
type Edge struct {
	From    State
	Trigger Trigger
	To      State
}

type transition struct {
	toState State
	guard   GuardFunc
}

// transitionTable maps source state and trigger to candidate transitions in
// registration order.
type transitionTable map[State]map[Trigger][]transition

type stateConfig struct {
	fromState State
	table     transitionTable
}

type stateMachineBuilder struct {
	table transitionTable
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{
		table: make(transitionTable),
	}
}

// Configure returns a state configuration for the given state
func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	if state.IsTerminal() {
		panic(fmt.Sprintf("terminal state cannot have outgoing transitions: %s", state))
	}

	if _, exists := b.table[state]; !exists {
		b.table[state] = make(map[Trigger][]transition)
	}

	return &stateConfig{fromState: state, table: b.table}
}

// Build creates a machine positioned at initialState. The transition table
// is copied so later Configure calls do not affect built machines.
func (b *stateMachineBuilder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}

	tableCopy := make(transitionTable, len(b.table))
	for state, byTrigger := range b.table {
		triggers := make(map[Trigger][]transition, len(byTrigger))
		for trigger, transitions := range byTrigger {
			triggers[trigger] = append([]transition(nil), transitions...)
		}
		tableCopy[state] = triggers
	}

	return &stateMachine{
		currentState: initialState,
		table:        tableCopy,
	}
}

// Edges lists every configured transition
func (b *stateMachineBuilder) Edges() []Edge {
	var edges []Edge
	for from, byTrigger := range b.table {
		for trigger, transitions := range byTrigger {
			for _, t := range transitions {
				edges = append(edges, Edge{From: from, Trigger: trigger, To: t.toState})
			}
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		if edges[i].Trigger != edges[j].Trigger {
			return edges[i].Trigger < edges[j].Trigger
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

// Permit allows a trigger to transition to the target state
func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

// PermitIf allows a trigger to transition to the target state if the guard passes
func (c *stateConfig) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !trigger.IsValid() {
		panic(fmt.Sprintf("invalid trigger: %s", trigger))
	}
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}

	c.table[c.fromState][trigger] = append(c.table[c.fromState][trigger], transition{
		toState: toState,
		guard:   guard,
	})

	return c
}
