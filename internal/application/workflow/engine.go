package workflow

import (
	"context"

	"github.com/garyjia/idea-hub/internal/domain/entity"
	domainwf "github.com/garyjia/idea-hub/internal/domain/workflow"
)

// WorkflowEngine applies status transitions to ideas. It is the only writer of
// Idea.status and the stage-entry timestamps.
type WorkflowEngine interface {
	// Transition fires trigger on the idea for caller. Checks run in order:
	// the idea exists, the trigger is legal from its status, the caller's role
	// may fire it. The status update, stage stamp, audit event and author
	// notification then commit together.
	Transition(ctx context.Context, ideaID int64, trigger domainwf.Trigger, caller entity.Caller, opts ...TransitionOption) (*entity.Idea, error)

	// Route is Transition limited to the routing triggers exposed to clients.
	// start_implementation is reserved for the assignment manager.
	Route(ctx context.Context, ideaID int64, trigger domainwf.Trigger, caller entity.Caller, opts ...TransitionOption) (*entity.Idea, error)

	// PermittedActions lists the triggers caller may fire on the idea now
	PermittedActions(ctx context.Context, ideaID int64, caller entity.Caller) ([]domainwf.Trigger, error)

	// GetIdea returns the idea or a NotFound error
	GetIdea(ctx context.Context, ideaID int64) (*entity.Idea, error)
}

// TransitionOption adjusts a single transition
type TransitionOption func(*transitionOptions)

type transitionOptions struct {
	similarityParentID *int64
	similarityScore    *float64
}

// WithSimilarity links a duplicate or improvement to the idea it matches.
// It is ignored for other target states.
func WithSimilarity(parentID int64, score float64) TransitionOption {
	return func(o *transitionOptions) {
		o.similarityParentID = &parentID
		o.similarityScore = &score
	}
}
