package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/idea-hub/internal/application/port"
	"github.com/garyjia/idea-hub/internal/domain/entity"
	domainwf "github.com/garyjia/idea-hub/internal/domain/workflow"
)

// DefaultLatestCount is the number of recent ideas on the dashboard
const DefaultLatestCount = 5

// QueueCounts summarizes the notification queue
type QueueCounts struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Dashboard is the read model shown on the overview page
type Dashboard struct {
	StatusCounts  map[domainwf.State]int `json:"status_counts"`
	Total         int                    `json:"total"`
	SLA           SLASummary             `json:"sla"`
	Latest        []*entity.Idea         `json:"latest"`
	Notifications QueueCounts            `json:"notifications"`
	GeneratedAt   time.Time              `json:"generated_at"`
}

// DashboardService composes the dashboard from committed state
type DashboardService interface {
	Summary(ctx context.Context, now time.Time) (*Dashboard, error)
}

type dashboardServiceImpl struct {
	ideaRepo         port.IdeaRepository
	notificationRepo port.NotificationRepository
	sla              SLAService
	latestCount      int
	logger           Logger
}

// NewDashboardService creates a new DashboardService
func NewDashboardService(
	ideaRepo port.IdeaRepository,
	notificationRepo port.NotificationRepository,
	sla SLAService,
	latestCount int,
	logger Logger,
) DashboardService {
	if latestCount <= 0 {
		latestCount = DefaultLatestCount
	}
	return &dashboardServiceImpl{
		ideaRepo:         ideaRepo,
		notificationRepo: notificationRepo,
		sla:              sla,
		latestCount:      latestCount,
		logger:           logger,
	}
}

// Summary builds the dashboard at now
func (s *dashboardServiceImpl) Summary(ctx context.Context, now time.Time) (*Dashboard, error) {
	counts, err := s.ideaRepo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count ideas by status: %w", err)
	}

	d := &Dashboard{
		StatusCounts: make(map[domainwf.State]int, len(domainwf.AllStates)),
		GeneratedAt:  now.UTC(),
	}
	for _, state := range domainwf.AllStates {
		d.StatusCounts[state] = counts[state]
		d.Total += counts[state]
	}

	if d.SLA, err = s.sla.Summary(ctx, now); err != nil {
		return nil, err
	}

	if d.Latest, err = s.ideaRepo.Latest(ctx, s.latestCount); err != nil {
		return nil, fmt.Errorf("latest ideas: %w", err)
	}
	if d.Latest == nil {
		d.Latest = []*entity.Idea{}
	}

	queue, err := s.notificationRepo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}
	d.Notifications = QueueCounts{
		Pending: queue[entity.NotificationPending],
		Sent:    queue[entity.NotificationSent],
		Failed:  queue[entity.NotificationFailed],
	}

	return d, nil
}
