package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/idea-hub/internal/application/port"
	"github.com/garyjia/idea-hub/internal/application/workflow"
	"github.com/garyjia/idea-hub/internal/domain/entity"
	domainwf "github.com/garyjia/idea-hub/internal/domain/workflow"
	"github.com/garyjia/idea-hub/pkg/apperror"
)

// MarketplacePage is one page of open listings
type MarketplacePage struct {
	Items []*entity.MarketplaceEntry `json:"items"`
	Total int                        `json:"total"`
	Skip  int                        `json:"skip"`
	Limit int                        `json:"limit"`
}

// EscalatedInvitation reports one invitation moved to no_response
type EscalatedInvitation struct {
	AssignmentID int64         `json:"assignment_id"`
	IdeaID       int64         `json:"idea_id"`
	DeveloperID  string        `json:"developer_id"`
	Elapsed      time.Duration `json:"elapsed"`
	ListingID    int64         `json:"listing_id,omitempty"`
}

// EscalationReport summarizes one ExpireInvitations run
type EscalationReport struct {
	Checked   int                   `json:"checked"`
	Escalated []EscalatedInvitation `json:"escalated"`
}

// AssignmentConfig holds assignment manager settings
type AssignmentConfig struct {
	// DeveloperSLA is how long an invitation may wait for a response
	DeveloperSLA time.Duration

	// AdminRecipient receives escalation summaries. Empty disables them.
	AdminRecipient string
}

// AssignmentService manages invitations and the marketplace
type AssignmentService interface {
	Invite(ctx context.Context, ideaID int64, developerID string, caller entity.Caller) (*entity.Assignment, error)
	Respond(ctx context.Context, assignmentID int64, action entity.ResponseAction, caller entity.Caller) (*entity.Assignment, error)
	List(ctx context.Context, ideaID int64, caller entity.Caller) (*entity.Assignment, error)
	Claim(ctx context.Context, ideaID int64, developerID string, caller entity.Caller) (*entity.Assignment, error)

	Get(ctx context.Context, assignmentID int64) (*entity.Assignment, error)
	ListAssignments(ctx context.Context, filter entity.AssignmentFilter, page entity.Page) (*entity.AssignmentPage, error)
	Marketplace(ctx context.Context, page entity.Page) (*MarketplacePage, error)
	History(ctx context.Context, assignmentID int64) ([]*entity.AuditEvent, error)

	// ExpireInvitations moves invitations older than the developer SLA to
	// no_response and lists their ideas on the marketplace
	ExpireInvitations(ctx context.Context, now time.Time) (*EscalationReport, error)
}

// AssignmentOption configures the assignment service
type AssignmentOption func(*assignmentServiceImpl)

// WithAssignmentMetrics sets the recorder for claim counters
func WithAssignmentMetrics(m port.Metrics) AssignmentOption {
	return func(s *assignmentServiceImpl) {
		s.metrics = m
	}
}

// WithAssignmentClock overrides the time source
func WithAssignmentClock(now func() time.Time) AssignmentOption {
	return func(s *assignmentServiceImpl) {
		s.now = now
	}
}

type assignmentServiceImpl struct {
	assignmentRepo port.AssignmentRepository
	userRepo       port.UserRepository
	engine         workflow.WorkflowEngine
	audit          AuditService
	notifier       port.NotificationEnqueuer
	txManager      port.TransactionManager
	metrics        port.Metrics
	config         AssignmentConfig
	now            func() time.Time
	logger         Logger
}

// NewAssignmentService creates a new AssignmentService
func NewAssignmentService(
	assignmentRepo port.AssignmentRepository,
	userRepo port.UserRepository,
	engine workflow.WorkflowEngine,
	audit AuditService,
	notifier port.NotificationEnqueuer,
	txManager port.TransactionManager,
	config AssignmentConfig,
	logger Logger,
	opts ...AssignmentOption,
) AssignmentService {
	s := &assignmentServiceImpl{
		assignmentRepo: assignmentRepo,
		userRepo:       userRepo,
		engine:         engine,
		audit:          audit,
		notifier:       notifier,
		txManager:      txManager,
		config:         config,
		now:            time.Now,
		logger:         logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Invite offers an idea in developer_assignment to one developer. The idea's
// status and the active-assignment check are read inside the write
// transaction, so a claim or accept committed first is always observed.
func (s *assignmentServiceImpl) Invite(ctx context.Context, ideaID int64, developerID string, caller entity.Caller) (*entity.Assignment, error) {
	if developerID == "" {
		return nil, validation("developer_id is required", map[string]interface{}{"field": "developer_id"})
	}

	var a *entity.Assignment
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		idea, err := s.assignableIdea(txCtx, ideaID, "invite")
		if err != nil {
			return err
		}
		if !caller.IsElevated() {
			return forbidden(caller, "invite", entity.RoleManager, entity.RoleAdmin)
		}
		if _, err := requireDeveloper(txCtx, s.userRepo, developerID); err != nil {
			return err
		}
		if err := s.ensureNoActive(txCtx, ideaID); err != nil {
			return err
		}

		now := s.now().UTC()
		a = &entity.Assignment{
			IdeaID:      ideaID,
			DeveloperID: developerID,
			Status:      entity.AssignmentInvited,
			CreatedBy:   caller.UserID,
			InvitedAt:   &now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.createAssignment(txCtx, a); err != nil {
			return err
		}
		payload := map[string]interface{}{"idea_id": ideaID, "developer_id": developerID}
		if _, err := s.audit.Record(txCtx, entity.EntityAssignment, a.ID, entity.EventAssignmentInvited, caller, payload); err != nil {
			return err
		}
		return s.notify(txCtx, TemplateAssignmentInvited, idea, a, idea.Author.Email, developerID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Developer invited", "idea_id", ideaID, "assignment_id", a.ID, "developer_id", developerID)
	return a, nil
}

// Respond accepts or declines an invitation
func (s *assignmentServiceImpl) Respond(ctx context.Context, assignmentID int64, action entity.ResponseAction, caller entity.Caller) (*entity.Assignment, error) {
	if action != entity.ResponseAccept && action != entity.ResponseDecline {
		return nil, validation("action must be accept or decline", map[string]interface{}{"action": string(action)})
	}

	a, err := s.Get(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.Status != entity.AssignmentInvited {
		return nil, alreadyResolved(a)
	}
	if !caller.IsElevated() && !(caller.HasRole(entity.RoleDeveloper) && caller.UserID == a.DeveloperID) {
		return nil, forbidden(caller, "respond", entity.RoleDeveloper, entity.RoleManager, entity.RoleAdmin)
	}

	idea, err := s.engine.GetIdea(ctx, a.IdeaID)
	if err != nil {
		return nil, err
	}

	to, event, template := entity.AssignmentDeclined, entity.EventAssignmentDeclined, TemplateAssignmentDeclined
	if action == entity.ResponseAccept {
		to, event, template = entity.AssignmentAccepted, entity.EventAssignmentAccepted, TemplateAssignmentAccepted
	}

	now := s.now().UTC()
	var resolved *entity.Assignment
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := s.assignmentRepo.Resolve(txCtx, a.ID, entity.AssignmentInvited, to, now)
		if err != nil {
			return fmt.Errorf("resolve assignment: %w", err)
		}
		if !ok {
			return alreadyResolved(a)
		}

		if action == entity.ResponseAccept {
			if _, err := s.engine.Transition(txCtx, a.IdeaID, domainwf.TriggerStartImplementation, caller); err != nil {
				return engineRefused(err, a.IdeaID)
			}
		}

		payload := map[string]interface{}{"idea_id": a.IdeaID, "developer_id": a.DeveloperID}
		if _, err := s.audit.Record(txCtx, entity.EntityAssignment, a.ID, event, caller, payload); err != nil {
			return err
		}

		resolved, err = s.assignmentRepo.GetByID(txCtx, a.ID)
		if err != nil {
			return fmt.Errorf("reload assignment: %w", err)
		}
		return s.notify(txCtx, template, idea, resolved, idea.Author.Email, a.DeveloperID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Invitation answered", "assignment_id", a.ID, "idea_id", a.IdeaID, "action", action)
	return resolved, nil
}

// List opens an idea in developer_assignment on the marketplace. Checks run
// inside the write transaction as in Invite.
func (s *assignmentServiceImpl) List(ctx context.Context, ideaID int64, caller entity.Caller) (*entity.Assignment, error) {
	var listing *entity.Assignment
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		idea, err := s.assignableIdea(txCtx, ideaID, "list")
		if err != nil {
			return err
		}
		if !caller.IsElevated() {
			return forbidden(caller, "list", entity.RoleManager, entity.RoleAdmin)
		}
		if err := s.ensureNoActive(txCtx, ideaID); err != nil {
			return err
		}
		listing, err = s.createListing(txCtx, idea, caller)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Idea listed on marketplace", "idea_id", ideaID, "assignment_id", listing.ID)
	return listing, nil
}

// Claim takes an open listing for developerID. The conditional update in the
// repository lets exactly one concurrent claimant win; the idea moves to
// implementation in the same transaction.
func (s *assignmentServiceImpl) Claim(ctx context.Context, ideaID int64, developerID string, caller entity.Caller) (*entity.Assignment, error) {
	if developerID == "" {
		developerID = caller.UserID
	}

	idea, err := s.engine.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	if !caller.IsElevated() && !(caller.HasRole(entity.RoleDeveloper) && caller.UserID == developerID) {
		return nil, forbidden(caller, "claim", entity.RoleDeveloper, entity.RoleManager, entity.RoleAdmin)
	}
	// Directory entries are never removed or re-roled, so this read may
	// precede the claim transaction.
	if _, err := requireDeveloper(ctx, s.userRepo, developerID); err != nil {
		return nil, err
	}

	var claimed *entity.Assignment
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		claimed, err = s.assignmentRepo.ClaimListing(txCtx, ideaID, developerID, s.now().UTC())
		if err != nil {
			return fmt.Errorf("claim listing: %w", err)
		}
		if claimed == nil {
			return s.lostClaim(txCtx, ideaID)
		}

		if _, err := s.engine.Transition(txCtx, ideaID, domainwf.TriggerStartImplementation, caller); err != nil {
			return engineRefused(err, ideaID)
		}

		payload := map[string]interface{}{"idea_id": ideaID, "developer_id": developerID}
		if _, err := s.audit.Record(txCtx, entity.EntityAssignment, claimed.ID, entity.EventAssignmentClaimed, caller, payload); err != nil {
			return err
		}
		return s.notify(txCtx, TemplateAssignmentClaimed, idea, claimed, idea.Author.Email, developerID)
	})
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			s.observeClaim(false)
		}
		return nil, err
	}

	s.observeClaim(true)
	s.logger.Info("Listing claimed", "idea_id", ideaID, "assignment_id", claimed.ID, "developer_id", developerID)
	return claimed, nil
}

// Get returns an assignment or NotFound
func (s *assignmentServiceImpl) Get(ctx context.Context, assignmentID int64) (*entity.Assignment, error) {
	a, err := s.assignmentRepo.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	if a == nil {
		return nil, apperror.NotFound(apperror.CodeAssignmentNotFound, "assignment not found").
			WithParams(map[string]interface{}{"assignment_id": assignmentID})
	}
	return a, nil
}

// ListAssignments returns one page of assignments
func (s *assignmentServiceImpl) ListAssignments(ctx context.Context, filter entity.AssignmentFilter, page entity.Page) (*entity.AssignmentPage, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, validation("unknown assignment status", map[string]interface{}{"status": string(filter.Status)})
	}
	page = NormalizePage(page)

	items, total, err := s.assignmentRepo.List(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	if items == nil {
		items = []*entity.Assignment{}
	}
	return &entity.AssignmentPage{Items: items, Total: total, Skip: page.Skip, Limit: page.Limit}, nil
}

// Marketplace returns open listings, oldest first
func (s *assignmentServiceImpl) Marketplace(ctx context.Context, page entity.Page) (*MarketplacePage, error) {
	page = NormalizePage(page)

	items, total, err := s.assignmentRepo.ListMarketplace(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("list marketplace: %w", err)
	}
	if items == nil {
		items = []*entity.MarketplaceEntry{}
	}
	return &MarketplacePage{Items: items, Total: total, Skip: page.Skip, Limit: page.Limit}, nil
}

// History returns an assignment's audit events
func (s *assignmentServiceImpl) History(ctx context.Context, assignmentID int64) ([]*entity.AuditEvent, error) {
	if _, err := s.Get(ctx, assignmentID); err != nil {
		return nil, err
	}
	return s.audit.History(ctx, entity.EntityAssignment, assignmentID)
}

// ExpireInvitations escalates invitations that outlived the developer SLA
func (s *assignmentServiceImpl) ExpireInvitations(ctx context.Context, now time.Time) (*EscalationReport, error) {
	now = now.UTC()
	invited, err := s.assignmentRepo.ListByStatus(ctx, entity.AssignmentInvited)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}

	report := &EscalationReport{Checked: len(invited), Escalated: []EscalatedInvitation{}}
	if s.config.DeveloperSLA <= 0 {
		return report, nil
	}

	for _, a := range invited {
		if a.InvitedAt == nil {
			continue
		}
		elapsed := now.Sub(*a.InvitedAt)
		if elapsed <= s.config.DeveloperSLA {
			continue
		}

		item, err := s.escalate(ctx, a, elapsed, now)
		if err != nil {
			s.logger.Error("Failed to escalate invitation", "error", err, "assignment_id", a.ID, "idea_id", a.IdeaID)
			continue
		}
		if item != nil {
			report.Escalated = append(report.Escalated, *item)
		}
	}

	if len(report.Escalated) > 0 && s.config.AdminRecipient != "" {
		items := make([]map[string]interface{}, 0, len(report.Escalated))
		for _, e := range report.Escalated {
			items = append(items, map[string]interface{}{
				"AssignmentID": e.AssignmentID,
				"IdeaID":       e.IdeaID,
				"DeveloperID":  e.DeveloperID,
			})
		}
		_, err := s.notifier.Enqueue(ctx, s.config.AdminRecipient, TemplateAssignmentEscalated, map[string]interface{}{
			"Count": len(report.Escalated),
			"Items": items,
		})
		if err != nil {
			s.logger.Error("Failed to enqueue escalation summary", "error", err)
		}
	}

	if len(report.Escalated) > 0 {
		s.logger.Info("Invitations escalated", "count", len(report.Escalated))
	}
	return report, nil
}

func (s *assignmentServiceImpl) escalate(ctx context.Context, a *entity.Assignment, elapsed time.Duration, now time.Time) (*EscalatedInvitation, error) {
	var item *EscalatedInvitation
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := s.assignmentRepo.Resolve(txCtx, a.ID, entity.AssignmentInvited, entity.AssignmentNoResponse, now)
		if err != nil {
			return fmt.Errorf("expire invitation: %w", err)
		}
		if !ok {
			// Answered between the scan and the update
			return nil
		}

		payload := map[string]interface{}{
			"idea_id":         a.IdeaID,
			"developer_id":    a.DeveloperID,
			"elapsed_seconds": int64(elapsed / time.Second),
			"threshold":       s.config.DeveloperSLA.String(),
		}
		if _, err := s.audit.Record(txCtx, entity.EntityAssignment, a.ID, entity.EventAssignmentEscalated, entity.SystemCaller, payload); err != nil {
			return err
		}

		item = &EscalatedInvitation{
			AssignmentID: a.ID,
			IdeaID:       a.IdeaID,
			DeveloperID:  a.DeveloperID,
			Elapsed:      elapsed,
		}

		idea, err := s.engine.GetIdea(txCtx, a.IdeaID)
		if err != nil {
			return err
		}
		if idea.Status != domainwf.StateDeveloperAssignment {
			return nil
		}
		listing, err := s.createListing(txCtx, idea, entity.SystemCaller)
		if err != nil {
			return err
		}
		item.ListingID = listing.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// createListing inserts a listed assignment with its audit event and author
// notification. It must run inside a transaction.
func (s *assignmentServiceImpl) createListing(ctx context.Context, idea *entity.Idea, caller entity.Caller) (*entity.Assignment, error) {
	now := s.now().UTC()
	listing := &entity.Assignment{
		IdeaID:    idea.ID,
		Status:    entity.AssignmentListed,
		CreatedBy: caller.UserID,
		ListedAt:  &now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.createAssignment(ctx, listing); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{"idea_id": idea.ID}
	if _, err := s.audit.Record(ctx, entity.EntityAssignment, listing.ID, entity.EventAssignmentListed, caller, payload); err != nil {
		return nil, err
	}
	if err := s.notify(ctx, TemplateAssignmentListed, idea, listing, idea.Author.Email); err != nil {
		return nil, err
	}
	return listing, nil
}

func (s *assignmentServiceImpl) createAssignment(ctx context.Context, a *entity.Assignment) error {
	if err := s.assignmentRepo.Create(ctx, a); err != nil {
		if errors.Is(err, port.ErrUniqueViolation) {
			return activeExists(a.IdeaID)
		}
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

// assignableIdea loads the idea and requires developer_assignment
func (s *assignmentServiceImpl) assignableIdea(ctx context.Context, ideaID int64, action string) (*entity.Idea, error) {
	idea, err := s.engine.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	if idea.Status != domainwf.StateDeveloperAssignment {
		return nil, apperror.InvalidTransition(apperror.CodeInvalidTransition,
			fmt.Sprintf("cannot %s while idea is %s", action, idea.Status)).
			WithParams(map[string]interface{}{"from": string(idea.Status), "action": action})
	}
	return idea, nil
}

func (s *assignmentServiceImpl) ensureNoActive(ctx context.Context, ideaID int64) error {
	active, err := s.assignmentRepo.GetActiveByIdea(ctx, ideaID)
	if err != nil {
		return fmt.Errorf("get active assignment: %w", err)
	}
	if active != nil {
		return activeExists(ideaID).WithParams(map[string]interface{}{
			"idea_id":       ideaID,
			"assignment_id": active.ID,
			"status":        string(active.Status),
		})
	}
	return nil
}

// lostClaim explains why no listed row was updated
func (s *assignmentServiceImpl) lostClaim(ctx context.Context, ideaID int64) error {
	all, err := s.assignmentRepo.ListByIdea(ctx, ideaID)
	if err != nil {
		return fmt.Errorf("list assignments: %w", err)
	}
	for _, a := range all {
		if a.Status.IsWon() {
			return apperror.Conflict(apperror.CodeAlreadyClaimed, "idea was already taken by another developer").
				WithParams(map[string]interface{}{"idea_id": ideaID, "assignment_id": a.ID})
		}
	}
	return apperror.NotFound(apperror.CodeListingNotFound, "idea is not listed on the marketplace").
		WithParams(map[string]interface{}{"idea_id": ideaID})
}

func (s *assignmentServiceImpl) notify(ctx context.Context, template string, idea *entity.Idea, a *entity.Assignment, recipients ...string) error {
	data := map[string]interface{}{
		"IdeaID":       idea.ID,
		"Title":        idea.Title,
		"AssignmentID": a.ID,
		"DeveloperID":  a.DeveloperID,
	}

	seen := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		if _, err := s.notifier.Enqueue(ctx, r, template, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *assignmentServiceImpl) observeClaim(won bool) {
	if s.metrics != nil {
		s.metrics.ObserveClaim(won)
	}
}

func alreadyResolved(a *entity.Assignment) *apperror.AppError {
	return apperror.Conflict(apperror.CodeAlreadyResolved, "assignment was already resolved").
		WithParams(map[string]interface{}{"assignment_id": a.ID, "status": string(a.Status)})
}

func activeExists(ideaID int64) *apperror.AppError {
	return apperror.Conflict(apperror.CodeActiveAssignmentExists, "idea already has an active assignment").
		WithParams(map[string]interface{}{"idea_id": ideaID})
}

// engineRefused turns a refused start_implementation into a Conflict. The idea
// left developer_assignment concurrently.
func engineRefused(err error, ideaID int64) error {
	if errors.Is(err, apperror.ErrInvalidTransition) || errors.Is(err, apperror.ErrConflict) {
		return apperror.Conflict(apperror.CodeIdeaStatusChanged, "idea is no longer awaiting assignment").
			WithParams(map[string]interface{}{"idea_id": ideaID}).
			WithCause(err)
	}
	return err
}
