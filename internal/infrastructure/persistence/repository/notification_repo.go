package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/idea-hub/internal/application/port"
	"github.com/garyjia/idea-hub/internal/domain/entity"
	"github.com/garyjia/idea-hub/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const notificationColumns = `
	id, recipient, template, subject, body, status, attempt_count,
	last_error, provider_message_id, sent_at, created_at, updated_at`

// NotificationRepository implements port.NotificationRepository
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) port.NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a notification task and sets its ID
func (r *NotificationRepository) Create(ctx context.Context, task *entity.NotificationTask) error {
	query := `
		INSERT INTO notification_tasks (
			recipient, template, subject, body, status, attempt_count,
			last_error, provider_message_id, sent_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if task.Status == "" {
		task.Status = entity.NotificationPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		task.Recipient,
		task.Template,
		task.Subject,
		task.Body,
		string(task.Status),
		task.AttemptCount,
		task.LastError,
		task.ProviderMessageID,
		nullTime(task.SentAt),
		task.CreatedAt.UTC(),
		task.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create notification task",
			zap.String("recipient", task.Recipient),
			zap.String("template", task.Template),
			zap.Error(err))
		return fmt.Errorf("failed to create notification task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	task.ID = id
	return nil
}

// GetByID retrieves a task, or nil if it does not exist
func (r *NotificationRepository) GetByID(ctx context.Context, id int64) (*entity.NotificationTask, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_tasks WHERE id = ?`

	task, err := scanNotification(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get notification task", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get notification task: %w", err)
	}
	return task, nil
}

// ListPending returns up to limit pending tasks, oldest first
func (r *NotificationRepository) ListPending(ctx context.Context, limit int) ([]*entity.NotificationTask, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_tasks
		WHERE status = 'pending' ORDER BY id ASC LIMIT ?`
	return r.query(ctx, query, limit)
}

// List returns one page of tasks matching filter, newest first, plus the total
func (r *NotificationRepository) List(ctx context.Context, filter entity.NotificationFilter, page entity.Page) ([]*entity.NotificationTask, int, error) {
	var conds []string
	var args []interface{}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Recipient != "" {
		conds = append(conds, "recipient = ?")
		args = append(args, filter.Recipient)
	}
	where := whereClause(conds)

	var total int
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM notification_tasks`+where, args...).Scan(&total)
	if err != nil {
		r.logger.Error("Failed to count notification tasks", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to count notification tasks: %w", err)
	}

	query := `SELECT ` + notificationColumns + ` FROM notification_tasks` + where + ` ORDER BY id DESC LIMIT ? OFFSET ?`
	items, err := r.query(ctx, query, append(args, page.Limit, page.Skip)...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// CountByStatus returns the number of tasks per status
func (r *NotificationRepository) CountByStatus(ctx context.Context) (map[entity.NotificationStatus]int, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx,
		`SELECT status, COUNT(*) FROM notification_tasks GROUP BY status`)
	if err != nil {
		r.logger.Error("Failed to count notification tasks by status", zap.Error(err))
		return nil, fmt.Errorf("failed to count notification tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[entity.NotificationStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[entity.NotificationStatus(status)] = n
	}
	return counts, rows.Err()
}

// MarkSent records a successful delivery of a pending task
func (r *NotificationRepository) MarkSent(ctx context.Context, id int64, providerMessageID string, at time.Time) (bool, error) {
	query := `
		UPDATE notification_tasks
		SET status = 'sent', attempt_count = attempt_count + 1,
			provider_message_id = ?, last_error = '', sent_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		providerMessageID, at.UTC(), at.UTC(), id)
	if err != nil {
		r.logger.Error("Failed to mark notification sent", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to mark notification sent: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected == 1, nil
}

// RecordFailure records a failed attempt on a pending task
func (r *NotificationRepository) RecordFailure(ctx context.Context, id int64, lastError string, maxAttempts int, at time.Time) (*entity.NotificationTask, error) {
	query := `
		UPDATE notification_tasks
		SET attempt_count = attempt_count + 1,
			status = CASE WHEN attempt_count + 1 >= ? THEN 'failed' ELSE 'pending' END,
			last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		maxAttempts, lastError, at.UTC(), id)
	if err != nil {
		r.logger.Error("Failed to record notification failure", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to record notification failure: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

// ResetFailed moves a failed task back to pending
func (r *NotificationRepository) ResetFailed(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `
		UPDATE notification_tasks
		SET status = 'pending', updated_at = ?
		WHERE id = ? AND status = 'failed'
	`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, at.UTC(), id)
	if err != nil {
		r.logger.Error("Failed to reset notification", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to reset notification: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *NotificationRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.NotificationTask, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query notification tasks", zap.Error(err))
		return nil, fmt.Errorf("failed to query notification tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*entity.NotificationTask
	for rows.Next() {
		task, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanNotification(row rowScanner) (*entity.NotificationTask, error) {
	var t entity.NotificationTask
	var status string
	var sentAt sql.NullTime

	err := row.Scan(
		&t.ID,
		&t.Recipient,
		&t.Template,
		&t.Subject,
		&t.Body,
		&status,
		&t.AttemptCount,
		&t.LastError,
		&t.ProviderMessageID,
		&sentAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = entity.NotificationStatus(status)
	t.SentAt = timePtr(sentAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

// Verify interface compliance
var _ port.NotificationRepository = (*NotificationRepository)(nil)
