package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/garyjia/idea-hub/internal/application/port"
	"github.com/garyjia/idea-hub/internal/application/workflow"
	"github.com/garyjia/idea-hub/internal/domain/entity"
	domainwf "github.com/garyjia/idea-hub/internal/domain/workflow"
	"github.com/garyjia/idea-hub/pkg/apperror"
)

// MaxExportRows bounds a single export
const MaxExportRows = 10000

// Similarity classifications
const (
	ClassDuplicate   = "duplicate"
	ClassImprovement = "improvement"
	ClassUnique      = "unique"
)

// SubmitInput is a new idea as entered by its author
type SubmitInput struct {
	RawInput       string         `json:"raw_input"`
	Category       string         `json:"category,omitempty"`
	ReadinessLevel string         `json:"readiness_level,omitempty"`
	Author         *entity.Author `json:"author,omitempty"`
}

// DuplicateCandidate is a scorer candidate with its classification
type DuplicateCandidate struct {
	IdeaID         int64   `json:"idea_id"`
	Title          string  `json:"title,omitempty"`
	Status         string  `json:"status,omitempty"`
	Score          float64 `json:"score"`
	Classification string  `json:"classification"`
}

// SimilarityThresholds splits scores into classifications
type SimilarityThresholds struct {
	Duplicate   float64
	Improvement float64
}

// DefaultSimilarityThresholds returns the standard cut-offs
func DefaultSimilarityThresholds() SimilarityThresholds {
	return SimilarityThresholds{Duplicate: 0.8, Improvement: 0.5}
}

// Classify maps a similarity score to a classification
func (t SimilarityThresholds) Classify(score float64) string {
	switch {
	case score >= t.Duplicate:
		return ClassDuplicate
	case score >= t.Improvement:
		return ClassImprovement
	default:
		return ClassUnique
	}
}

// IdeaService manages idea intake and idea read models
type IdeaService interface {
	Submit(ctx context.Context, input SubmitInput, caller entity.Caller) (*entity.Idea, error)
	Get(ctx context.Context, ideaID int64) (*entity.Idea, error)
	List(ctx context.Context, filter entity.IdeaFilter, page entity.Page) (*entity.IdeaPage, error)
	History(ctx context.Context, ideaID int64) ([]*entity.AuditEvent, error)
	Duplicates(ctx context.Context, ideaID int64) ([]DuplicateCandidate, error)
	Export(ctx context.Context, filter entity.IdeaFilter, w io.Writer) error
}

// IdeaOption configures the idea service
type IdeaOption func(*ideaServiceImpl)

// WithScorer sets the duplicate-similarity scorer
func WithScorer(scorer port.SimilarityScorer, thresholds SimilarityThresholds) IdeaOption {
	return func(s *ideaServiceImpl) {
		s.scorer = scorer
		s.thresholds = thresholds
	}
}

// WithExporter sets the spreadsheet exporter
func WithExporter(exporter port.IdeaExporter) IdeaOption {
	return func(s *ideaServiceImpl) {
		s.exporter = exporter
	}
}

// WithUserDirectory records submitting authors in the user directory
func WithUserDirectory(users port.UserRepository) IdeaOption {
	return func(s *ideaServiceImpl) {
		s.users = users
	}
}

// WithIdeaClock overrides the time source
func WithIdeaClock(now func() time.Time) IdeaOption {
	return func(s *ideaServiceImpl) {
		s.now = now
	}
}

type ideaServiceImpl struct {
	ideaRepo   port.IdeaRepository
	engine     workflow.WorkflowEngine
	audit      AuditService
	notifier   port.NotificationEnqueuer
	txManager  port.TransactionManager
	scorer     port.SimilarityScorer
	thresholds SimilarityThresholds
	exporter   port.IdeaExporter
	users      port.UserRepository
	now        func() time.Time
	logger     Logger
}

// NewIdeaService creates a new IdeaService
func NewIdeaService(
	ideaRepo port.IdeaRepository,
	engine workflow.WorkflowEngine,
	audit AuditService,
	notifier port.NotificationEnqueuer,
	txManager port.TransactionManager,
	logger Logger,
	opts ...IdeaOption,
) IdeaService {
	s := &ideaServiceImpl{
		ideaRepo:   ideaRepo,
		engine:     engine,
		audit:      audit,
		notifier:   notifier,
		txManager:  txManager,
		thresholds: DefaultSimilarityThresholds(),
		now:        time.Now,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Submit stores a new idea in status new
func (s *ideaServiceImpl) Submit(ctx context.Context, input SubmitInput, caller entity.Caller) (*entity.Idea, error) {
	raw := strings.TrimSpace(input.RawInput)
	if raw == "" {
		return nil, validation("idea text must not be empty", map[string]interface{}{"field": "raw_input"})
	}

	author := entity.Author{
		UserID: caller.UserID,
		Name:   caller.Name,
		Email:  caller.Email,
		Role:   string(caller.Role),
	}
	if input.Author != nil {
		if input.Author.UserID != "" {
			author.UserID = input.Author.UserID
		}
		if input.Author.Name != "" {
			author.Name = input.Author.Name
		}
		if input.Author.Email != "" {
			author.Email = input.Author.Email
		}
		if input.Author.Role != "" {
			author.Role = input.Author.Role
		}
		author.Department = input.Author.Department
	}

	now := s.now().UTC()
	idea := &entity.Idea{
		RawInput:       raw,
		Title:          entity.DeriveTitle(raw),
		Category:       strings.TrimSpace(input.Category),
		ReadinessLevel: strings.TrimSpace(input.ReadinessLevel),
		Author:         author,
		Status:         domainwf.StateNew,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.ideaRepo.Create(txCtx, idea); err != nil {
			return fmt.Errorf("create idea: %w", err)
		}

		if err := s.touchAuthor(txCtx, author, now); err != nil {
			return err
		}

		payload := map[string]interface{}{"title": idea.Title, "author_email": author.Email}
		if _, err := s.audit.Record(txCtx, entity.EntityIdea, idea.ID, entity.EventIdeaCreated, caller, payload); err != nil {
			return err
		}

		if author.Email != "" {
			_, err := s.notifier.Enqueue(txCtx, author.Email, TemplateIdeaSubmitted, map[string]interface{}{
				"IdeaID": idea.ID,
				"Title":  idea.Title,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to submit idea", "error", err, "caller", caller.UserID)
		return nil, err
	}

	s.logger.Info("Idea submitted", "idea_id", idea.ID, "author", author.Email)
	return idea, nil
}

// touchAuthor inserts the author into the directory on first submission and
// stamps last contact afterwards. An email already held by another entry is
// logged and skipped so the submission still goes through.
func (s *ideaServiceImpl) touchAuthor(ctx context.Context, author entity.Author, at time.Time) error {
	if s.users == nil || author.UserID == "" {
		return nil
	}

	role := entity.Role(author.Role)
	if !role.IsValid() {
		role = entity.RoleSubmitter
	}
	department := entity.Department(author.Department)
	if !department.IsValid() {
		department = ""
	}

	err := s.users.Touch(ctx, &entity.User{
		ID:         author.UserID,
		Name:       author.Name,
		Email:      author.Email,
		Role:       role,
		Department: department,
	}, at)
	if errors.Is(err, port.ErrUniqueViolation) {
		s.logger.Error("Author email held by another user", "user_id", author.UserID, "email", author.Email)
		return nil
	}
	if err != nil {
		return fmt.Errorf("touch author: %w", err)
	}
	return nil
}

// Get returns an idea or NotFound
func (s *ideaServiceImpl) Get(ctx context.Context, ideaID int64) (*entity.Idea, error) {
	return s.engine.GetIdea(ctx, ideaID)
}

// List returns one page of ideas, newest first
func (s *ideaServiceImpl) List(ctx context.Context, filter entity.IdeaFilter, page entity.Page) (*entity.IdeaPage, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, validation("unknown idea status", map[string]interface{}{"status": string(filter.Status)})
	}
	page = NormalizePage(page)

	items, total, err := s.ideaRepo.List(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	if items == nil {
		items = []*entity.Idea{}
	}
	return &entity.IdeaPage{Items: items, Total: total, Skip: page.Skip, Limit: page.Limit}, nil
}

// History returns the idea's audit events in canonical order
func (s *ideaServiceImpl) History(ctx context.Context, ideaID int64) ([]*entity.AuditEvent, error) {
	if _, err := s.engine.GetIdea(ctx, ideaID); err != nil {
		return nil, err
	}
	return s.audit.History(ctx, entity.EntityIdea, ideaID)
}

// Duplicates asks the scorer for candidates and classifies them
func (s *ideaServiceImpl) Duplicates(ctx context.Context, ideaID int64) ([]DuplicateCandidate, error) {
	if _, err := s.engine.GetIdea(ctx, ideaID); err != nil {
		return nil, err
	}
	if s.scorer == nil {
		return nil, apperror.DependencyUnavailable(apperror.CodeScorerUnavailable, "similarity scorer is not configured")
	}

	candidates, err := s.scorer.Candidates(ctx, ideaID)
	if err != nil {
		s.logger.Error("Similarity scorer failed", "error", err, "idea_id", ideaID)
		return nil, apperror.DependencyUnavailable(apperror.CodeScorerUnavailable, "similarity scorer unavailable").WithCause(err)
	}

	result := make([]DuplicateCandidate, 0, len(candidates))
	for _, c := range candidates {
		dc := DuplicateCandidate{
			IdeaID:         c.IdeaID,
			Score:          c.Score,
			Classification: s.thresholds.Classify(c.Score),
		}
		if other, err := s.ideaRepo.GetByID(ctx, c.IdeaID); err == nil && other != nil {
			dc.Title = other.Title
			dc.Status = string(other.Status)
		}
		result = append(result, dc)
	}
	return result, nil
}

// Export writes every idea matching filter through the configured exporter
func (s *ideaServiceImpl) Export(ctx context.Context, filter entity.IdeaFilter, w io.Writer) error {
	if s.exporter == nil {
		return apperror.DependencyUnavailable(apperror.CodeExportUnavailable, "export is not configured")
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return validation("unknown idea status", map[string]interface{}{"status": string(filter.Status)})
	}

	var all []*entity.Idea
	for skip := 0; skip < MaxExportRows; skip += MaxPageLimit {
		items, total, err := s.ideaRepo.List(ctx, filter, entity.Page{Skip: skip, Limit: MaxPageLimit})
		if err != nil {
			return fmt.Errorf("list ideas for export: %w", err)
		}
		all = append(all, items...)
		if len(all) >= total || len(items) == 0 {
			break
		}
	}

	if err := s.exporter.Export(ctx, all, w); err != nil {
		return fmt.Errorf("export ideas: %w", err)
	}
	s.logger.Info("Ideas exported", "count", len(all))
	return nil
}
