package workflow

import (
	"context"
	"errors"
	"testing"
)

type guardKey struct{}

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StateNew, false},
		{StateAnalystReview, false},
		{StateFinanceReview, false},
		{StateDeveloperAssignment, false},
		{StateImplementation, false},
		{StateCompleted, true},
		{StateRejected, true},
		{StateDuplicate, true},
		{StateImprovement, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"initial state", StateNew, true},
		{"terminal state", StateImprovement, true},
		{"wrong case", State("NEW"), false},
		{"empty state", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_Stage(t *testing.T) {
	tests := []struct {
		state State
		stage Stage
	}{
		{StateNew, StageNone},
		{StateAnalystReview, StageAnalyst},
		{StateFinanceReview, StageFinance},
		{StateDeveloperAssignment, StageDeveloper},
		{StateImplementation, StageNone},
		{StateCompleted, StageNone},
	}

	for _, tt := range tests {
		if got := tt.state.Stage(); got != tt.stage {
			t.Errorf("%s.Stage() = %q, want %q", tt.state, got, tt.stage)
		}
	}
}

func TestParseState(t *testing.T) {
	if s, err := ParseState("finance_review"); err != nil || s != StateFinanceReview {
		t.Errorf("ParseState(finance_review) = %v, %v", s, err)
	}
	if _, err := ParseState("archived"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("ParseState(archived) error = %v, want %v", err, ErrInvalidState)
	}
}

func TestParseTrigger(t *testing.T) {
	if tr, err := ParseTrigger("route_to_finance"); err != nil || tr != TriggerRouteToFinance {
		t.Errorf("ParseTrigger(route_to_finance) = %v, %v", tr, err)
	}
	if _, err := ParseTrigger("approve"); !errors.Is(err, ErrUnknownTrigger) {
		t.Errorf("ParseTrigger(approve) error = %v, want %v", err, ErrUnknownTrigger)
	}
}

func TestBuilder_ConfigurePanicsOnInvalidState(t *testing.T) {
	builder := NewBuilder()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Configure() should panic on invalid state")
		}
	}()

	builder.Configure(State("archived"))
}

func TestBuilder_ConfigurePanicsOnTerminalState(t *testing.T) {
	builder := NewBuilder()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Configure() should panic on terminal state")
		}
	}()

	builder.Configure(StateCompleted)
}

func TestBuilder_BuildPanicsOnInvalidInitialState(t *testing.T) {
	builder := NewBuilder()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Build() should panic on invalid initial state")
		}
	}()

	builder.Build(State("archived"))
}

func TestStateConfiguration_Permit(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateNew).
		Permit(TriggerRouteToAnalyst, StateAnalystReview)

	machine := builder.Build(StateNew)

	if !machine.CanFire(TriggerRouteToAnalyst) {
		t.Error("CanFire() should return true for permitted trigger")
	}
	if machine.CanFire(TriggerComplete) {
		t.Error("CanFire() should return false for unconfigured trigger")
	}

	if err := machine.Fire(context.Background(), TriggerRouteToAnalyst); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}

	if machine.State() != StateAnalystReview {
		t.Errorf("State after Fire() = %v, want %v", machine.State(), StateAnalystReview)
	}
}

func TestStateMachine_FireUnconfigured(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateNew).
		Permit(TriggerRouteToAnalyst, StateAnalystReview)

	machine := builder.Build(StateNew)

	err := machine.Fire(context.Background(), TriggerComplete)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}
	if machine.State() != StateNew {
		t.Errorf("State should remain %v, got %v", StateNew, machine.State())
	}
}

func TestStateConfiguration_PermitIf_GuardFails(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateNew).
		PermitIf(TriggerRouteToAnalyst, StateAnalystReview, func(ctx context.Context) bool {
			return false
		})

	machine := builder.Build(StateNew)

	err := machine.Fire(context.Background(), TriggerRouteToAnalyst)
	if !errors.Is(err, ErrGuardFailed) {
		t.Fatalf("Fire() error = %v, want %v", err, ErrGuardFailed)
	}
	if machine.State() != StateNew {
		t.Errorf("State should remain %v after failed Fire(), got %v", StateNew, machine.State())
	}
}

func TestStateConfiguration_PermitIf_FirstPassingGuardWins(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateAnalystReview).
		PermitIf(TriggerReject, StateDuplicate, func(ctx context.Context) bool {
			v, _ := ctx.Value(guardKey{}).(bool)
			return v
		}).
		Permit(TriggerReject, StateRejected)

	withFlag := builder.Build(StateAnalystReview)
	ctx := context.WithValue(context.Background(), guardKey{}, true)
	if err := withFlag.Fire(ctx, TriggerReject); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if withFlag.State() != StateDuplicate {
		t.Errorf("State = %v, want %v", withFlag.State(), StateDuplicate)
	}

	withoutFlag := builder.Build(StateAnalystReview)
	if err := withoutFlag.Fire(context.Background(), TriggerReject); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if withoutFlag.State() != StateRejected {
		t.Errorf("State = %v, want %v", withoutFlag.State(), StateRejected)
	}
}

func TestBuilder_BuildIsolatesLaterConfiguration(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateNew).Permit(TriggerRouteToAnalyst, StateAnalystReview)

	machine := builder.Build(StateNew)
	builder.Configure(StateNew).Permit(TriggerReject, StateRejected)

	if machine.CanFire(TriggerReject) {
		t.Error("machine built earlier should not see later transitions")
	}
}

func TestStateMachine_PermittedTriggersSorted(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateAnalystReview).
		Permit(TriggerRouteToFinance, StateFinanceReview).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerMarkDuplicate, StateDuplicate)

	got := builder.Build(StateAnalystReview).PermittedTriggers()
	want := []Trigger{TriggerMarkDuplicate, TriggerReject, TriggerRouteToFinance}

	if len(got) != len(want) {
		t.Fatalf("PermittedTriggers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("PermittedTriggers()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if n := len(builder.Build(StateNew).PermittedTriggers()); n != 0 {
		t.Errorf("unconfigured state should have no triggers, got %d", n)
	}
}

func TestBuilder_Edges(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateFinanceReview).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerRouteToDevelopers, StateDeveloperAssignment)
	builder.Configure(StateNew).
		Permit(TriggerRouteToAnalyst, StateAnalystReview)

	edges := builder.Edges()
	if len(edges) != 3 {
		t.Fatalf("Edges() returned %d edges, want 3", len(edges))
	}
	if edges[0].From != StateFinanceReview || edges[0].Trigger != TriggerReject {
		t.Errorf("Edges()[0] = %+v, want finance_review/reject first", edges[0])
	}
	if edges[2].From != StateNew {
		t.Errorf("Edges()[2].From = %v, want %v", edges[2].From, StateNew)
	}
}
