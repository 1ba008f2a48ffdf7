package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/garyjia/idea-hub/internal/application/port"
	"github.com/garyjia/idea-hub/internal/domain/entity"
	domainwf "github.com/garyjia/idea-hub/internal/domain/workflow"
)

// DefaultStageSLA is the threshold applied to every stage unless configured
const DefaultStageSLA = 5 * 24 * time.Hour

// SLAThresholds is the allowed waiting time per review stage
type SLAThresholds struct {
	Analyst   time.Duration `json:"analyst"`
	Finance   time.Duration `json:"finance"`
	Developer time.Duration `json:"developer"`
}

// DefaultSLAThresholds returns five days for every stage
func DefaultSLAThresholds() SLAThresholds {
	return SLAThresholds{
		Analyst:   DefaultStageSLA,
		Finance:   DefaultStageSLA,
		Developer: DefaultStageSLA,
	}
}

// For returns the threshold of stage, or zero for untimed stages
func (t SLAThresholds) For(stage domainwf.Stage) time.Duration {
	switch stage {
	case domainwf.StageAnalyst:
		return t.Analyst
	case domainwf.StageFinance:
		return t.Finance
	case domainwf.StageDeveloper:
		return t.Developer
	default:
		return 0
	}
}

// SLASummary counts overdue ideas per stage
type SLASummary struct {
	AnalystOverdue   int `json:"analyst_overdue"`
	FinanceOverdue   int `json:"finance_overdue"`
	DeveloperOverdue int `json:"developer_overdue"`
}

// Total returns the number of overdue ideas across stages
func (s SLASummary) Total() int {
	return s.AnalystOverdue + s.FinanceOverdue + s.DeveloperOverdue
}

// OverdueIdea is one idea past its stage threshold
type OverdueIdea struct {
	IdeaID    int64          `json:"idea_id"`
	Title     string         `json:"title"`
	Status    domainwf.State `json:"status"`
	Stage     domainwf.Stage `json:"stage"`
	EnteredAt time.Time      `json:"entered_at"`
	Elapsed   time.Duration  `json:"elapsed"`
	Threshold time.Duration  `json:"threshold"`
}

// Evaluate returns the ideas whose time in their current stage exceeds the
// stage threshold at now. Terminal ideas, untimed stages and ideas without a
// stage-entry stamp are never overdue. The result is ordered by elapsed time,
// longest first.
func Evaluate(ideas []*entity.Idea, now time.Time, thresholds SLAThresholds) []OverdueIdea {
	overdue := make([]OverdueIdea, 0)
	for _, idea := range ideas {
		if idea == nil || idea.Status.IsTerminal() {
			continue
		}
		stage := idea.Status.Stage()
		threshold := thresholds.For(stage)
		entered := idea.StageEnteredAt()
		if stage == domainwf.StageNone || threshold <= 0 || entered == nil {
			continue
		}

		elapsed := now.Sub(*entered)
		if elapsed > threshold {
			overdue = append(overdue, OverdueIdea{
				IdeaID:    idea.ID,
				Title:     idea.Title,
				Status:    idea.Status,
				Stage:     stage,
				EnteredAt: *entered,
				Elapsed:   elapsed,
				Threshold: threshold,
			})
		}
	}

	sort.SliceStable(overdue, func(i, j int) bool {
		if overdue[i].Elapsed != overdue[j].Elapsed {
			return overdue[i].Elapsed > overdue[j].Elapsed
		}
		return overdue[i].IdeaID < overdue[j].IdeaID
	})
	return overdue
}

// Summarize counts overdue ideas per stage
func Summarize(overdue []OverdueIdea) SLASummary {
	var s SLASummary
	for _, o := range overdue {
		switch o.Stage {
		case domainwf.StageAnalyst:
			s.AnalystOverdue++
		case domainwf.StageFinance:
			s.FinanceOverdue++
		case domainwf.StageDeveloper:
			s.DeveloperOverdue++
		}
	}
	return s
}

// SLAService evaluates stage clocks on demand. It never caches and never writes.
type SLAService interface {
	Summary(ctx context.Context, now time.Time) (SLASummary, error)
	Overdue(ctx context.Context, now time.Time) ([]OverdueIdea, error)
	Thresholds() SLAThresholds

	// NotifySummary queues an sla.summary digest for the admin recipient when
	// anything is overdue. It returns nil when there is nothing to send or no
	// recipient is configured.
	NotifySummary(ctx context.Context, now time.Time) (*entity.NotificationTask, error)
}

// SLAOption configures the SLA service
type SLAOption func(*slaServiceImpl)

// WithSLADigest sets where overdue digests are queued
func WithSLADigest(notifier port.NotificationEnqueuer, recipient string) SLAOption {
	return func(s *slaServiceImpl) {
		s.notifier = notifier
		s.recipient = recipient
	}
}

type slaServiceImpl struct {
	ideaRepo   port.IdeaRepository
	thresholds SLAThresholds
	notifier   port.NotificationEnqueuer
	recipient  string
	logger     Logger
}

// NewSLAService creates a new SLAService
func NewSLAService(ideaRepo port.IdeaRepository, thresholds SLAThresholds, logger Logger, opts ...SLAOption) SLAService {
	s := &slaServiceImpl{
		ideaRepo:   ideaRepo,
		thresholds: thresholds,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// timedStates are the states whose stage carries an SLA clock
var timedStates = []domainwf.State{
	domainwf.StateAnalystReview,
	domainwf.StateFinanceReview,
	domainwf.StateDeveloperAssignment,
}

// Summary counts overdue ideas per stage at now
func (s *slaServiceImpl) Summary(ctx context.Context, now time.Time) (SLASummary, error) {
	overdue, err := s.Overdue(ctx, now)
	if err != nil {
		return SLASummary{}, err
	}
	return Summarize(overdue), nil
}

// Overdue lists the ideas past their stage threshold at now
func (s *slaServiceImpl) Overdue(ctx context.Context, now time.Time) ([]OverdueIdea, error) {
	ideas, err := s.ideaRepo.ListByStatuses(ctx, timedStates)
	if err != nil {
		s.logger.Error("Failed to load ideas for SLA evaluation", "error", err)
		return nil, fmt.Errorf("list ideas in timed stages: %w", err)
	}
	return Evaluate(ideas, now.UTC(), s.thresholds), nil
}

// Thresholds returns the configured thresholds
func (s *slaServiceImpl) Thresholds() SLAThresholds {
	return s.thresholds
}

// NotifySummary queues the overdue digest
func (s *slaServiceImpl) NotifySummary(ctx context.Context, now time.Time) (*entity.NotificationTask, error) {
	if s.notifier == nil || s.recipient == "" {
		return nil, nil
	}
	summary, err := s.Summary(ctx, now)
	if err != nil {
		return nil, err
	}
	if summary.Total() == 0 {
		return nil, nil
	}

	task, err := s.notifier.Enqueue(ctx, s.recipient, TemplateSLASummary, map[string]interface{}{
		"AnalystOverdue":   summary.AnalystOverdue,
		"FinanceOverdue":   summary.FinanceOverdue,
		"DeveloperOverdue": summary.DeveloperOverdue,
		"GeneratedAt":      now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue sla summary: %w", err)
	}
	s.logger.Info("SLA summary queued", "task_id", task.ID, "overdue", summary.Total())
	return task, nil
}
