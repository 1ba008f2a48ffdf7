package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/idea-hub/internal/application/service"
	"github.com/garyjia/idea-hub/internal/domain/entity"
)

// InvitationExpirer escalates invitations that outlived the developer SLA
type InvitationExpirer interface {
	ExpireInvitations(ctx context.Context, now time.Time) (*service.EscalationReport, error)
}

// SummaryNotifier queues the overdue digest
type SummaryNotifier interface {
	NotifySummary(ctx context.Context, now time.Time) (*entity.NotificationTask, error)
}

// EscalationOption configures the escalation worker
type EscalationOption func(*SLAEscalationWorker)

// WithSummaryDigest queues an overdue digest at most once per every
func WithSummaryDigest(notifier SummaryNotifier, every time.Duration) EscalationOption {
	return func(w *SLAEscalationWorker) {
		w.digest = notifier
		w.digestEvery = every
	}
}

// SLAEscalationWorker periodically expires stale invitations and sends the
// overdue digest
type SLAEscalationWorker struct {
	interval    time.Duration
	expirer     InvitationExpirer
	digest      SummaryNotifier
	digestEvery time.Duration
	lastDigest  time.Time
	now         func() time.Time
	logger      *zap.Logger
	loop        *loop
}

// NewSLAEscalationWorker creates an escalation worker
func NewSLAEscalationWorker(interval time.Duration, expirer InvitationExpirer, logger *zap.Logger, opts ...EscalationOption) *SLAEscalationWorker {
	w := &SLAEscalationWorker{
		interval: interval,
		expirer:  expirer,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.loop = &loop{
		name:     w.Name(),
		interval: interval,
		tick:     w.RunOnce,
		logger:   logger,
	}
	return w
}

// Name returns the worker name for identification
func (w *SLAEscalationWorker) Name() string {
	return "SLAEscalationWorker"
}

// Start begins the ticker loop
func (w *SLAEscalationWorker) Start(ctx context.Context) error {
	if err := w.loop.start(ctx); err != nil {
		return err
	}
	w.logger.Info("SLAEscalationWorker started", zap.Duration("interval", w.interval))
	return nil
}

// Stop ends the loop and waits for a running sweep
func (w *SLAEscalationWorker) Stop() error {
	w.loop.stop()
	w.logger.Info("SLAEscalationWorker stopped")
	return nil
}

// RunOnce performs one escalation sweep. Loop ticks run on a single
// goroutine, so lastDigest needs no lock.
func (w *SLAEscalationWorker) RunOnce(ctx context.Context) error {
	now := w.now()
	report, err := w.expirer.ExpireInvitations(ctx, now)
	if err != nil {
		return fmt.Errorf("expire invitations: %w", err)
	}
	if len(report.Escalated) > 0 {
		w.logger.Info("Invitations escalated",
			zap.Int("checked", report.Checked),
			zap.Int("escalated", len(report.Escalated)))
	}

	if w.digest == nil || (!w.lastDigest.IsZero() && now.Sub(w.lastDigest) < w.digestEvery) {
		return nil
	}
	task, err := w.digest.NotifySummary(ctx, now)
	if err != nil {
		return fmt.Errorf("sla summary: %w", err)
	}
	w.lastDigest = now
	if task != nil {
		w.logger.Info("SLA summary queued", zap.Int64("task_id", task.ID))
	}
	return nil
}
