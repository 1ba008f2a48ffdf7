package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/idea-hub/internal/application/port"
	"github.com/garyjia/idea-hub/internal/domain/entity"
	domainwf "github.com/garyjia/idea-hub/internal/domain/workflow"
	"github.com/garyjia/idea-hub/pkg/apperror"
)

// TemplateStatusChanged is the notification sent to the author on every transition
const TemplateStatusChanged = "idea.status_changed"

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	ideaRepo  port.IdeaRepository
	audit     port.AuditRecorder
	notifier  port.NotificationEnqueuer
	txManager port.TransactionManager
	metrics   port.Metrics
	now       func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithMetrics sets the recorder for transition counters
func WithMetrics(m port.Metrics) EngineOption {
	return func(e *engineImpl) {
		e.metrics = m
	}
}

// WithClock overrides the time source used for stage stamps
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	ideaRepo port.IdeaRepository,
	audit port.AuditRecorder,
	notifier port.NotificationEnqueuer,
	txManager port.TransactionManager,
	opts ...EngineOption,
) WorkflowEngine {
	e := &engineImpl{
		ideaRepo:  ideaRepo,
		audit:     audit,
		notifier:  notifier,
		txManager: txManager,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// GetIdea returns the idea or a NotFound error
func (e *engineImpl) GetIdea(ctx context.Context, ideaID int64) (*entity.Idea, error) {
	idea, err := e.ideaRepo.GetByID(ctx, ideaID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch idea: %w", err)
	}
	if idea == nil {
		return nil, apperror.NotFound(apperror.CodeIdeaNotFound, "idea not found").
			WithParams(map[string]interface{}{"idea_id": ideaID})
	}
	return idea, nil
}

// Route is Transition limited to routing triggers
func (e *engineImpl) Route(ctx context.Context, ideaID int64, trigger domainwf.Trigger, caller entity.Caller, opts ...TransitionOption) (*entity.Idea, error) {
	if !trigger.IsValid() {
		return nil, apperror.Validation(apperror.CodeValidationFailed, "unknown routing action").
			WithParams(map[string]interface{}{"action": string(trigger)})
	}
	if !IsRoutingTrigger(trigger) {
		idea, err := e.GetIdea(ctx, ideaID)
		if err != nil {
			return nil, err
		}
		return nil, invalidTransition(idea.Status, trigger)
	}
	return e.Transition(ctx, ideaID, trigger, caller, opts...)
}

// Transition fires trigger on the idea for caller
func (e *engineImpl) Transition(ctx context.Context, ideaID int64, trigger domainwf.Trigger, caller entity.Caller, opts ...TransitionOption) (*entity.Idea, error) {
	var o transitionOptions
	for _, opt := range opts {
		opt(&o)
	}

	idea, err := e.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	from := idea.Status
	machine := BuildIdeaStateMachine(from)
	if !machine.CanFire(trigger) {
		return nil, invalidTransition(from, trigger)
	}

	if !Authorized(from, trigger, caller) {
		return nil, apperror.Forbidden(apperror.CodeRoleForbidden, "role may not perform this action").
			WithParams(map[string]interface{}{
				"role":    string(caller.Role),
				"action":  string(trigger),
				"allowed": AllowedRoles(from, trigger),
			})
	}

	if err := machine.Fire(ctx, trigger); err != nil {
		if errors.Is(err, domainwf.ErrInvalidTransition) || errors.Is(err, domainwf.ErrGuardFailed) {
			return nil, invalidTransition(from, trigger).WithCause(err)
		}
		return nil, fmt.Errorf("state machine fire failed: %w", err)
	}
	to := machine.State()

	now := e.now().UTC()
	updated := *idea
	updated.Status = to
	updated.UpdatedAt = now
	updated.StampStage(to, now)
	linked := (to == domainwf.StateDuplicate || to == domainwf.StateImprovement) && o.similarityParentID != nil
	if linked {
		updated.SimilarityParentID = o.similarityParentID
		updated.SimilarityScore = o.similarityScore
	}

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := e.ideaRepo.UpdateStatus(txCtx, &updated, from)
		if err != nil {
			return fmt.Errorf("failed to update idea status: %w", err)
		}
		if !ok {
			return apperror.Conflict(apperror.CodeIdeaStatusChanged, "idea status changed concurrently").
				WithParams(map[string]interface{}{"idea_id": ideaID, "expected": string(from)})
		}

		payload := map[string]interface{}{
			"from":    string(from),
			"to":      string(to),
			"trigger": string(trigger),
		}
		if linked {
			payload["similarity_parent_id"] = *updated.SimilarityParentID
			payload["similarity_score"] = *updated.SimilarityScore
		}
		if _, err := e.audit.Record(txCtx, entity.EntityIdea, ideaID, entity.EventStatusChanged, caller, payload); err != nil {
			return fmt.Errorf("failed to record transition: %w", err)
		}

		if updated.Author.Email != "" {
			_, err := e.notifier.Enqueue(txCtx, updated.Author.Email, TemplateStatusChanged, map[string]interface{}{
				"IdeaID":  ideaID,
				"Title":   updated.Title,
				"From":    string(from),
				"To":      string(to),
				"Trigger": string(trigger),
			})
			if err != nil {
				return fmt.Errorf("failed to enqueue status notification: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.ObserveTransition(string(from), string(to), string(trigger))
	}

	return &updated, nil
}

// PermittedActions lists the triggers caller may fire on the idea now
func (e *engineImpl) PermittedActions(ctx context.Context, ideaID int64, caller entity.Caller) ([]domainwf.Trigger, error) {
	idea, err := e.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	machine := BuildIdeaStateMachine(idea.Status)
	permitted := make([]domainwf.Trigger, 0)
	for _, trigger := range machine.PermittedTriggers() {
		if Authorized(idea.Status, trigger, caller) {
			permitted = append(permitted, trigger)
		}
	}
	return permitted, nil
}

func invalidTransition(from domainwf.State, trigger domainwf.Trigger) *apperror.AppError {
	return apperror.InvalidTransition(apperror.CodeInvalidTransition,
		fmt.Sprintf("cannot %s from %s", trigger, from)).
		WithParams(map[string]interface{}{"from": string(from), "action": string(trigger)})
}
