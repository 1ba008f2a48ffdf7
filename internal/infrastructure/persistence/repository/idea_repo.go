package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/idea-hub/internal/application/port"
	"github.com/garyjia/idea-hub/internal/domain/entity"
	"github.com/garyjia/idea-hub/internal/domain/workflow"
	"github.com/garyjia/idea-hub/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const ideaColumns = `
	id, raw_input, title, category, readiness_level,
	author_user_id, author_name, author_email, author_role, author_department,
	status, similarity_parent_id, similarity_score,
	analyst_entered_at, finance_entered_at, dev_entered_at,
	created_at, updated_at`

// IdeaRepository implements port.IdeaRepository
type IdeaRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIdeaRepository creates a new idea repository
func NewIdeaRepository(db *sql.DB, logger *zap.Logger) port.IdeaRepository {
	return &IdeaRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new idea and sets its ID
func (r *IdeaRepository) Create(ctx context.Context, idea *entity.Idea) error {
	query := `
		INSERT INTO ideas (
			raw_input, title, category, readiness_level,
			author_user_id, author_name, author_email, author_role, author_department,
			status, similarity_parent_id, similarity_score,
			analyst_entered_at, finance_entered_at, dev_entered_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	if idea.CreatedAt.IsZero() {
		idea.CreatedAt = now
	}
	if idea.UpdatedAt.IsZero() {
		idea.UpdatedAt = idea.CreatedAt
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		idea.RawInput,
		idea.Title,
		idea.Category,
		idea.ReadinessLevel,
		idea.Author.UserID,
		idea.Author.Name,
		idea.Author.Email,
		idea.Author.Role,
		idea.Author.Department,
		idea.Status.String(),
		idea.SimilarityParentID,
		idea.SimilarityScore,
		nullTime(idea.AnalystEnteredAt),
		nullTime(idea.FinanceEnteredAt),
		nullTime(idea.DevEnteredAt),
		idea.CreatedAt.UTC(),
		idea.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create idea", zap.String("title", idea.Title), zap.Error(err))
		return fmt.Errorf("failed to create idea: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	idea.ID = id
	return nil
}

// GetByID retrieves an idea, or nil if it does not exist
func (r *IdeaRepository) GetByID(ctx context.Context, id int64) (*entity.Idea, error) {
	query := `SELECT ` + ideaColumns + ` FROM ideas WHERE id = ?`

	idea, err := scanIdea(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get idea", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get idea: %w", err)
	}
	return idea, nil
}

// List returns one page of ideas matching filter, newest first, plus the total
func (r *IdeaRepository) List(ctx context.Context, filter entity.IdeaFilter, page entity.Page) ([]*entity.Idea, int, error) {
	var conds []string
	var args []interface{}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status.String())
	}
	if filter.AuthorEmail != "" {
		conds = append(conds, "author_email = ?")
		args = append(args, filter.AuthorEmail)
	}
	if filter.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, filter.Category)
	}
	where := whereClause(conds)

	exec := sqlite.ExecutorFor(ctx, r.db)

	var total int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM ideas`+where, args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count ideas", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to count ideas: %w", err)
	}

	query := `SELECT ` + ideaColumns + ` FROM ideas` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	ideas, err := r.query(ctx, query, append(args, page.Limit, page.Skip)...)
	if err != nil {
		return nil, 0, err
	}
	return ideas, total, nil
}

// UpdateStatus performs a compare-and-swap on the idea's status
func (r *IdeaRepository) UpdateStatus(ctx context.Context, idea *entity.Idea, from workflow.State) (bool, error) {
	query := `
		UPDATE ideas
		SET status = ?, analyst_entered_at = ?, finance_entered_at = ?, dev_entered_at = ?,
			similarity_parent_id = ?, similarity_score = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		idea.Status.String(),
		nullTime(idea.AnalystEnteredAt),
		nullTime(idea.FinanceEnteredAt),
		nullTime(idea.DevEnteredAt),
		idea.SimilarityParentID,
		idea.SimilarityScore,
		idea.UpdatedAt.UTC(),
		idea.ID,
		from.String(),
	)
	if err != nil {
		r.logger.Error("Failed to update idea status",
			zap.Int64("id", idea.ID),
			zap.String("from", from.String()),
			zap.String("to", idea.Status.String()),
			zap.Error(err))
		return false, fmt.Errorf("failed to update idea status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected == 1, nil
}

// ListByStatuses returns every idea whose status is in statuses
func (r *IdeaRepository) ListByStatuses(ctx context.Context, statuses []workflow.State) ([]*entity.Idea, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		args[i] = s.String()
	}

	query := `SELECT ` + ideaColumns + ` FROM ideas WHERE status IN (` + placeholders(len(statuses)) + `) ORDER BY id ASC`
	return r.query(ctx, query, args...)
}

// CountByStatus returns the number of ideas per status. Statuses without
// ideas are absent from the map.
func (r *IdeaRepository) CountByStatus(ctx context.Context) (map[workflow.State]int, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, `SELECT status, COUNT(*) FROM ideas GROUP BY status`)
	if err != nil {
		r.logger.Error("Failed to count ideas by status", zap.Error(err))
		return nil, fmt.Errorf("failed to count ideas by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[workflow.State]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[workflow.State(status)] = n
	}
	return counts, rows.Err()
}

// Latest returns the most recently created ideas
func (r *IdeaRepository) Latest(ctx context.Context, limit int) ([]*entity.Idea, error) {
	query := `SELECT ` + ideaColumns + ` FROM ideas ORDER BY created_at DESC, id DESC LIMIT ?`
	return r.query(ctx, query, limit)
}

func (r *IdeaRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.Idea, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query ideas", zap.Error(err))
		return nil, fmt.Errorf("failed to query ideas: %w", err)
	}
	defer rows.Close()

	var ideas []*entity.Idea
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan idea: %w", err)
		}
		ideas = append(ideas, idea)
	}
	return ideas, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIdea(row rowScanner) (*entity.Idea, error) {
	var idea entity.Idea
	var status string
	var parentID sql.NullInt64
	var score sql.NullFloat64
	var analystAt, financeAt, devAt sql.NullTime

	err := row.Scan(
		&idea.ID,
		&idea.RawInput,
		&idea.Title,
		&idea.Category,
		&idea.ReadinessLevel,
		&idea.Author.UserID,
		&idea.Author.Name,
		&idea.Author.Email,
		&idea.Author.Role,
		&idea.Author.Department,
		&status,
		&parentID,
		&score,
		&analystAt,
		&financeAt,
		&devAt,
		&idea.CreatedAt,
		&idea.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	idea.Status = workflow.State(status)
	if parentID.Valid {
		v := parentID.Int64
		idea.SimilarityParentID = &v
	}
	if score.Valid {
		v := score.Float64
		idea.SimilarityScore = &v
	}
	idea.AnalystEnteredAt = timePtr(analystAt)
	idea.FinanceEnteredAt = timePtr(financeAt)
	idea.DevEnteredAt = timePtr(devAt)
	idea.CreatedAt = idea.CreatedAt.UTC()
	idea.UpdatedAt = idea.UpdatedAt.UTC()

	return &idea, nil
}

// Verify interface compliance
var _ port.IdeaRepository = (*IdeaRepository)(nil)
