package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/idea-hub/internal/application/port"
	"github.com/garyjia/idea-hub/internal/application/workflow"
	"github.com/garyjia/idea-hub/internal/domain/entity"
	domainwf "github.com/garyjia/idea-hub/internal/domain/workflow"
	"github.com/garyjia/idea-hub/pkg/apperror"
)

// ReviewInput is an analyst or finance decision on an idea
type ReviewInput struct {
	IdeaID                int64  `json:"idea_id"`
	Stage                 string `json:"stage"`
	Decision              string `json:"decision"`
	Notes                 string `json:"notes,omitempty"`
	RecommendedDepartment string `json:"recommended_department,omitempty"`
}

// ReviewResult is the stored review and the idea after any transitions it caused
type ReviewResult struct {
	Review *entity.Review `json:"review"`
	Idea   *entity.Idea   `json:"idea"`
}

// ReviewService records reviews and applies the transitions they imply
type ReviewService interface {
	Create(ctx context.Context, input ReviewInput, caller entity.Caller) (*ReviewResult, error)
	List(ctx context.Context, ideaID int64, stage string, page entity.Page) (*entity.ReviewPage, error)
}

var reviewRoles = map[string][]entity.Role{
	entity.ReviewStageAnalyst: {entity.RoleAnalyst, entity.RoleManager, entity.RoleAdmin},
	entity.ReviewStageFinance: {entity.RoleFinance, entity.RoleManager, entity.RoleAdmin},
}

var reviewDecisions = map[string]bool{
	entity.DecisionAccepted:  true,
	entity.DecisionRejected:  true,
	entity.DecisionNeedsInfo: true,
}

type reviewServiceImpl struct {
	reviewRepo port.ReviewRepository
	engine     workflow.WorkflowEngine
	audit      port.AuditRecorder
	txManager  port.TransactionManager
	now        func() time.Time
	logger     Logger
}

// NewReviewService creates a new ReviewService
func NewReviewService(
	reviewRepo port.ReviewRepository,
	engine workflow.WorkflowEngine,
	audit port.AuditRecorder,
	txManager port.TransactionManager,
	logger Logger,
) ReviewService {
	return &reviewServiceImpl{
		reviewRepo: reviewRepo,
		engine:     engine,
		audit:      audit,
		txManager:  txManager,
		now:        time.Now,
		logger:     logger,
	}
}

// Create stores a review. An analyst review of a new idea first moves it into
// analyst_review. A rejection rejects the idea, and an accepted finance review
// routes it to developers.
func (s *reviewServiceImpl) Create(ctx context.Context, input ReviewInput, caller entity.Caller) (*ReviewResult, error) {
	stage := strings.TrimSpace(input.Stage)
	roles, ok := reviewRoles[stage]
	if !ok {
		return nil, validation("review stage must be analyst or finance", map[string]interface{}{"stage": input.Stage})
	}
	if !reviewDecisions[input.Decision] {
		return nil, validation("unknown review decision", map[string]interface{}{"decision": input.Decision})
	}

	idea, err := s.engine.GetIdea(ctx, input.IdeaID)
	if err != nil {
		return nil, err
	}

	expected := []domainwf.State{domainwf.StateFinanceReview}
	if stage == entity.ReviewStageAnalyst {
		expected = []domainwf.State{domainwf.StateNew, domainwf.StateAnalystReview}
	}
	if !containsState(expected, idea.Status) {
		return nil, apperror.InvalidTransition(apperror.CodeInvalidTransition,
			fmt.Sprintf("cannot record %s review while idea is %s", stage, idea.Status)).
			WithParams(map[string]interface{}{"from": string(idea.Status), "stage": stage})
	}

	if !caller.HasRole(roles...) {
		return nil, forbidden(caller, "review_"+stage, roles...)
	}

	review := &entity.Review{
		IdeaID:                idea.ID,
		ReviewerID:            caller.UserID,
		Stage:                 stage,
		Decision:              input.Decision,
		Notes:                 strings.TrimSpace(input.Notes),
		RecommendedDepartment: strings.TrimSpace(input.RecommendedDepartment),
		DecidedAt:             s.now().UTC(),
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if idea.Status == domainwf.StateNew {
			updated, err := s.engine.Transition(txCtx, idea.ID, domainwf.TriggerRouteToAnalyst, caller)
			if err != nil {
				return err
			}
			idea = updated
		}

		if err := s.reviewRepo.Create(txCtx, review); err != nil {
			return fmt.Errorf("create review: %w", err)
		}

		payload := map[string]interface{}{
			"review_id": review.ID,
			"stage":     review.Stage,
			"decision":  review.Decision,
		}
		if _, err := s.audit.Record(txCtx, entity.EntityIdea, idea.ID, entity.EventReviewCreated, caller, payload); err != nil {
			return err
		}

		if trigger, ok := reviewTrigger(stage, input.Decision); ok {
			updated, err := s.engine.Transition(txCtx, idea.ID, trigger, caller)
			if err != nil {
				return err
			}
			idea = updated
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Review recorded",
		"idea_id", idea.ID,
		"stage", stage,
		"decision", input.Decision,
		"status", idea.Status,
	)
	return &ReviewResult{Review: review, Idea: idea}, nil
}

// List returns one page of reviews
func (s *reviewServiceImpl) List(ctx context.Context, ideaID int64, stage string, page entity.Page) (*entity.ReviewPage, error) {
	if stage != "" {
		if _, ok := reviewRoles[stage]; !ok {
			return nil, validation("review stage must be analyst or finance", map[string]interface{}{"stage": stage})
		}
	}
	page = NormalizePage(page)

	items, total, err := s.reviewRepo.List(ctx, ideaID, stage, page)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	if items == nil {
		items = []*entity.Review{}
	}
	return &entity.ReviewPage{Items: items, Total: total, Skip: page.Skip, Limit: page.Limit}, nil
}

// reviewTrigger maps a review decision to the transition it implies
func reviewTrigger(stage, decision string) (domainwf.Trigger, bool) {
	switch {
	case decision == entity.DecisionRejected:
		return domainwf.TriggerReject, true
	case stage == entity.ReviewStageFinance && decision == entity.DecisionAccepted:
		return domainwf.TriggerRouteToDevelopers, true
	default:
		return "", false
	}
}

func containsState(states []domainwf.State, s domainwf.State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}
