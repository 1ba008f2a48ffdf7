package workflow

import (
	"github.com/garyjia/idea-hub/internal/domain/entity"
	domainwf "github.com/garyjia/idea-hub/internal/domain/workflow"
)

// BuildIdeaStateMachine creates a state machine configured for the idea pipeline
func BuildIdeaStateMachine(initialState domainwf.State) domainwf.StateMachine {
	return ideaBuilder().Build(initialState)
}

// IdeaTransitions lists every legal transition of the idea pipeline
func IdeaTransitions() []domainwf.Edge {
	return ideaBuilder().Edges()
}

func ideaBuilder() domainwf.StateMachineBuilder {
	builder := domainwf.NewBuilder()

	// NEW: first analyst touch
	builder.Configure(domainwf.StateNew).
		Permit(domainwf.TriggerRouteToAnalyst, domainwf.StateAnalystReview)

	// ANALYST_REVIEW
	builder.Configure(domainwf.StateAnalystReview).
		Permit(domainwf.TriggerRouteToFinance, domainwf.StateFinanceReview).
		Permit(domainwf.TriggerRouteToDevelopers, domainwf.StateDeveloperAssignment).
		Permit(domainwf.TriggerReject, domainwf.StateRejected).
		Permit(domainwf.TriggerMarkDuplicate, domainwf.StateDuplicate).
		Permit(domainwf.TriggerMarkImprovement, domainwf.StateImprovement)

	// FINANCE_REVIEW
	builder.Configure(domainwf.StateFinanceReview).
		Permit(domainwf.TriggerRouteToDevelopers, domainwf.StateDeveloperAssignment).
		Permit(domainwf.TriggerReject, domainwf.StateRejected)

	// DEVELOPER_ASSIGNMENT: left only by an accepted invitation or a claim
	builder.Configure(domainwf.StateDeveloperAssignment).
		Permit(domainwf.TriggerStartImplementation, domainwf.StateImplementation)

	// IMPLEMENTATION
	builder.Configure(domainwf.StateImplementation).
		Permit(domainwf.TriggerComplete, domainwf.StateCompleted).
		Permit(domainwf.TriggerReject, domainwf.StateRejected)

	// COMPLETED, REJECTED, DUPLICATE and IMPROVEMENT are terminal

	return builder
}

var (
	analysts   = []entity.Role{entity.RoleAnalyst, entity.RoleManager, entity.RoleAdmin}
	managers   = []entity.Role{entity.RoleManager, entity.RoleAdmin}
	finance    = []entity.Role{entity.RoleFinance, entity.RoleManager, entity.RoleAdmin}
	developers = []entity.Role{entity.RoleDeveloper, entity.RoleManager, entity.RoleAdmin}
)

// rolePolicy maps source state and trigger to the roles allowed to fire it
var rolePolicy = map[domainwf.State]map[domainwf.Trigger][]entity.Role{
	domainwf.StateNew: {
		domainwf.TriggerRouteToAnalyst: analysts,
	},
	domainwf.StateAnalystReview: {
		domainwf.TriggerRouteToFinance:    managers,
		domainwf.TriggerRouteToDevelopers: managers,
		domainwf.TriggerReject:            analysts,
		domainwf.TriggerMarkDuplicate:     analysts,
		domainwf.TriggerMarkImprovement:   analysts,
	},
	domainwf.StateFinanceReview: {
		domainwf.TriggerRouteToDevelopers: finance,
		domainwf.TriggerReject:            finance,
	},
	domainwf.StateDeveloperAssignment: {
		domainwf.TriggerStartImplementation: developers,
	},
	domainwf.StateImplementation: {
		domainwf.TriggerComplete: developers,
		domainwf.TriggerReject:   managers,
	},
}

// Authorized reports whether caller may fire trigger from state
func Authorized(from domainwf.State, trigger domainwf.Trigger, caller entity.Caller) bool {
	return caller.HasRole(rolePolicy[from][trigger]...)
}

// AllowedRoles returns the roles that may fire trigger from state
func AllowedRoles(from domainwf.State, trigger domainwf.Trigger) []entity.Role {
	return append([]entity.Role(nil), rolePolicy[from][trigger]...)
}

// routingTriggers are the triggers clients may fire through Route
var routingTriggers = map[domainwf.Trigger]bool{
	domainwf.TriggerRouteToAnalyst:    true,
	domainwf.TriggerRouteToFinance:    true,
	domainwf.TriggerRouteToDevelopers: true,
	domainwf.TriggerReject:            true,
	domainwf.TriggerMarkDuplicate:     true,
	domainwf.TriggerMarkImprovement:   true,
	domainwf.TriggerComplete:          true,
}

// IsRoutingTrigger reports whether trigger may be fired through Route
func IsRoutingTrigger(trigger domainwf.Trigger) bool {
	return routingTriggers[trigger]
}
