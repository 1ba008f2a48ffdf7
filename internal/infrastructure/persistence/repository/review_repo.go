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

// ReviewRepository implements port.ReviewRepository
type ReviewRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReviewRepository creates a new review repository
func NewReviewRepository(db *sql.DB, logger *zap.Logger) port.ReviewRepository {
	return &ReviewRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a review and sets its ID
func (r *ReviewRepository) Create(ctx context.Context, review *entity.Review) error {
	query := `
		INSERT INTO reviews (
			idea_id, reviewer_id, stage, decision, notes, recommended_department, decided_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if review.DecidedAt.IsZero() {
		review.DecidedAt = time.Now().UTC()
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		review.IdeaID,
		review.ReviewerID,
		review.Stage,
		review.Decision,
		review.Notes,
		review.RecommendedDepartment,
		review.DecidedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create review",
			zap.Int64("idea_id", review.IdeaID),
			zap.String("stage", review.Stage),
			zap.Error(err))
		return fmt.Errorf("failed to create review: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	review.ID = id
	return nil
}

// List returns one page of reviews, newest first. Zero ideaID or empty stage
// match everything.
func (r *ReviewRepository) List(ctx context.Context, ideaID int64, stage string, page entity.Page) ([]*entity.Review, int, error) {
	var conds []string
	var args []interface{}
	if ideaID != 0 {
		conds = append(conds, "idea_id = ?")
		args = append(args, ideaID)
	}
	if stage != "" {
		conds = append(conds, "stage = ?")
		args = append(args, stage)
	}
	where := whereClause(conds)
	exec := sqlite.ExecutorFor(ctx, r.db)

	var total int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM reviews`+where, args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count reviews", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to count reviews: %w", err)
	}

	query := `
		SELECT id, idea_id, reviewer_id, stage, decision, notes, recommended_department, decided_at
		FROM reviews` + where + `
		ORDER BY decided_at DESC, id DESC
		LIMIT ? OFFSET ?`

	rows, err := exec.QueryContext(ctx, query, append(args, page.Limit, page.Skip)...)
	if err != nil {
		r.logger.Error("Failed to list reviews", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*entity.Review
	for rows.Next() {
		var rv entity.Review
		if err := rows.Scan(
			&rv.ID,
			&rv.IdeaID,
			&rv.ReviewerID,
			&rv.Stage,
			&rv.Decision,
			&rv.Notes,
			&rv.RecommendedDepartment,
			&rv.DecidedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan review: %w", err)
		}
		rv.DecidedAt = rv.DecidedAt.UTC()
		reviews = append(reviews, &rv)
	}

	return reviews, total, rows.Err()
}

// Verify interface compliance
var _ port.ReviewRepository = (*ReviewRepository)(nil)
