package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/idea-hub/internal/application/port"
	"github.com/garyjia/idea-hub/internal/domain/entity"
	"github.com/garyjia/idea-hub/pkg/apperror"
)

// DefaultMaxAttempts is the number of failed deliveries after which a task
// stops being retried automatically
const DefaultMaxAttempts = 3

// Delivery results reported to metrics
const (
	DeliverySent     = "sent"
	DeliveryRetrying = "retrying"
	DeliveryFailed   = "failed"
)

// NotificationService manages the durable notification queue
type NotificationService interface {
	port.NotificationEnqueuer

	// Deliver performs one delivery attempt for a pending task
	Deliver(ctx context.Context, taskID int64) (*entity.NotificationTask, error)

	// Retry moves a failed task back to pending
	Retry(ctx context.Context, taskID int64, caller entity.Caller) (*entity.NotificationTask, error)

	Get(ctx context.Context, taskID int64) (*entity.NotificationTask, error)
	List(ctx context.Context, filter entity.NotificationFilter, page entity.Page) (*entity.NotificationPage, error)

	// Pending returns up to limit pending tasks, oldest first
	Pending(ctx context.Context, limit int) ([]*entity.NotificationTask, error)
}

// NotificationOption configures the notification service
type NotificationOption func(*notificationServiceImpl)

// WithMaxAttempts sets the failed-attempt limit
func WithMaxAttempts(n int) NotificationOption {
	return func(s *notificationServiceImpl) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithNotificationMetrics sets the recorder for delivery counters
func WithNotificationMetrics(m port.Metrics) NotificationOption {
	return func(s *notificationServiceImpl) {
		s.metrics = m
	}
}

// WithNotificationClock overrides the time source
func WithNotificationClock(now func() time.Time) NotificationOption {
	return func(s *notificationServiceImpl) {
		s.now = now
	}
}

type notificationServiceImpl struct {
	notificationRepo port.NotificationRepository
	templates        *TemplateRegistry
	sender           port.Sender
	audit            port.AuditRecorder
	txManager        port.TransactionManager
	metrics          port.Metrics
	maxAttempts      int
	now              func() time.Time
	logger           Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	notificationRepo port.NotificationRepository,
	templates *TemplateRegistry,
	sender port.Sender,
	audit port.AuditRecorder,
	txManager port.TransactionManager,
	logger Logger,
	opts ...NotificationOption,
) NotificationService {
	s := &notificationServiceImpl{
		notificationRepo: notificationRepo,
		templates:        templates,
		sender:           sender,
		audit:            audit,
		txManager:        txManager,
		maxAttempts:      DefaultMaxAttempts,
		now:              time.Now,
		logger:           logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Enqueue renders template and stores a pending task
func (s *notificationServiceImpl) Enqueue(ctx context.Context, recipient, template string, data map[string]interface{}) (*entity.NotificationTask, error) {
	if recipient == "" {
		return nil, validation("notification recipient is required", map[string]interface{}{"template": template})
	}
	if !s.templates.Has(template) {
		return nil, apperror.Validation(apperror.CodeUnknownTemplate, "unknown notification template").
			WithParams(map[string]interface{}{"template": template})
	}

	subject, body, err := s.templates.Render(template, data)
	if err != nil {
		return nil, fmt.Errorf("render notification: %w", err)
	}

	now := s.now().UTC()
	task := &entity.NotificationTask{
		Recipient: recipient,
		Template:  template,
		Subject:   subject,
		Body:      body,
		Status:    entity.NotificationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.notificationRepo.Create(ctx, task); err != nil {
		s.logger.Error("Failed to enqueue notification", "error", err, "recipient", recipient, "template", template)
		return nil, fmt.Errorf("enqueue notification: %w", err)
	}

	return task, nil
}

// Deliver performs one delivery attempt. A sender failure is recorded on the
// task and is not returned as an error.
func (s *notificationServiceImpl) Deliver(ctx context.Context, taskID int64) (*entity.NotificationTask, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != entity.NotificationPending {
		return task, nil
	}

	providerID, sendErr := s.sender.Send(ctx, port.OutboundMessage{
		Recipient: task.Recipient,
		Subject:   task.Subject,
		Body:      task.Body,
	})
	now := s.now().UTC()

	if sendErr != nil {
		updated, err := s.notificationRepo.RecordFailure(ctx, taskID, sendErr.Error(), s.maxAttempts, now)
		if err != nil {
			return nil, fmt.Errorf("record delivery failure: %w", err)
		}
		if updated == nil {
			// Another worker resolved the task while we were sending
			return s.Get(ctx, taskID)
		}

		result := DeliveryRetrying
		if updated.Status == entity.NotificationFailed {
			result = DeliveryFailed
		}
		s.observe(result)
		s.logger.Error("Notification delivery failed",
			"error", sendErr,
			"task_id", taskID,
			"sender", s.sender.Name(),
			"attempt", updated.AttemptCount,
			"status", updated.Status,
		)
		return updated, nil
	}

	ok, err := s.notificationRepo.MarkSent(ctx, taskID, providerID, now)
	if err != nil {
		return nil, fmt.Errorf("mark notification sent: %w", err)
	}
	if !ok {
		// Another worker resolved the task while we were sending
		return s.Get(ctx, taskID)
	}
	s.observe(DeliverySent)
	s.logger.Info("Notification delivered",
		"task_id", taskID,
		"sender", s.sender.Name(),
		"provider_message_id", providerID,
	)

	return s.Get(ctx, taskID)
}

// Retry moves a failed task back to pending
func (s *notificationServiceImpl) Retry(ctx context.Context, taskID int64, caller entity.Caller) (*entity.NotificationTask, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !caller.IsElevated() {
		return nil, forbidden(caller, "retry_notification", entity.RoleManager, entity.RoleAdmin)
	}
	if task.Status != entity.NotificationFailed {
		return nil, notFailed(task)
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := s.notificationRepo.ResetFailed(txCtx, taskID, s.now().UTC())
		if err != nil {
			return fmt.Errorf("reset notification: %w", err)
		}
		if !ok {
			return notFailed(task)
		}

		payload := map[string]interface{}{"attempt_count": task.AttemptCount, "last_error": task.LastError}
		_, err = s.audit.Record(txCtx, entity.EntityNotification, taskID, entity.EventNotificationRetried, caller, payload)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Notification reset for retry", "task_id", taskID, "caller", caller.UserID)
	return s.Get(ctx, taskID)
}

// Get returns a task or NotFound
func (s *notificationServiceImpl) Get(ctx context.Context, taskID int64) (*entity.NotificationTask, error) {
	task, err := s.notificationRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	if task == nil {
		return nil, apperror.NotFound(apperror.CodeNotificationNotFound, "notification not found").
			WithParams(map[string]interface{}{"notification_id": taskID})
	}
	return task, nil
}

// List returns one page of tasks
func (s *notificationServiceImpl) List(ctx context.Context, filter entity.NotificationFilter, page entity.Page) (*entity.NotificationPage, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, validation("unknown notification status", map[string]interface{}{"status": string(filter.Status)})
	}
	page = NormalizePage(page)

	items, total, err := s.notificationRepo.List(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	if items == nil {
		items = []*entity.NotificationTask{}
	}
	return &entity.NotificationPage{Items: items, Total: total, Skip: page.Skip, Limit: page.Limit}, nil
}

// Pending returns up to limit pending tasks
func (s *notificationServiceImpl) Pending(ctx context.Context, limit int) ([]*entity.NotificationTask, error) {
	tasks, err := s.notificationRepo.ListPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	return tasks, nil
}

func (s *notificationServiceImpl) observe(result string) {
	if s.metrics != nil {
		s.metrics.ObserveDelivery(result)
	}
}

func notFailed(task *entity.NotificationTask) error {
	return apperror.Conflict(apperror.CodeNotificationNotFailed, "only failed notifications can be retried").
		WithParams(map[string]interface{}{"notification_id": task.ID, "status": string(task.Status)})
}
