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

const assignmentColumns = `
	id, idea_id, developer_id, status, created_by,
	invited_at, responded_at, listed_at, claimed_at,
	created_at, updated_at`

// AssignmentRepository implements port.AssignmentRepository
type AssignmentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(db *sql.DB, logger *zap.Logger) port.AssignmentRepository {
	return &AssignmentRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new assignment and sets its ID
func (r *AssignmentRepository) Create(ctx context.Context, a *entity.Assignment) error {
	query := `
		INSERT INTO assignments (
			idea_id, developer_id, status, created_by,
			invited_at, responded_at, listed_at, claimed_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}

	var developerID interface{}
	if a.DeveloperID != "" {
		developerID = a.DeveloperID
	}

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		a.IdeaID,
		developerID,
		string(a.Status),
		a.CreatedBy,
		nullTime(a.InvitedAt),
		nullTime(a.RespondedAt),
		nullTime(a.ListedAt),
		nullTime(a.ClaimedAt),
		a.CreatedAt.UTC(),
		a.UpdatedAt.UTC(),
	)
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return fmt.Errorf("idea %d already has an active assignment: %w", a.IdeaID, port.ErrUniqueViolation)
		}
		r.logger.Error("Failed to create assignment",
			zap.Int64("idea_id", a.IdeaID),
			zap.String("status", string(a.Status)),
			zap.Error(err))
		return fmt.Errorf("failed to create assignment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	a.ID = id
	return nil
}

// GetByID retrieves an assignment, or nil if it does not exist
func (r *AssignmentRepository) GetByID(ctx context.Context, id int64) (*entity.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = ?`

	a, err := scanAssignment(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get assignment", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// GetActiveByIdea returns the idea's invited or listed assignment, or nil
func (r *AssignmentRepository) GetActiveByIdea(ctx context.Context, ideaID int64) (*entity.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments
		WHERE idea_id = ? AND status IN ('invited', 'listed')
		ORDER BY id DESC LIMIT 1`

	a, err := scanAssignment(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, ideaID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get active assignment", zap.Int64("idea_id", ideaID), zap.Error(err))
		return nil, fmt.Errorf("failed to get active assignment: %w", err)
	}
	return a, nil
}

// ListByIdea returns every assignment of an idea, oldest first
func (r *AssignmentRepository) ListByIdea(ctx context.Context, ideaID int64) ([]*entity.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE idea_id = ? ORDER BY id ASC`
	return r.query(ctx, query, ideaID)
}

// ListByStatus returns every assignment in status, oldest first
func (r *AssignmentRepository) ListByStatus(ctx context.Context, status entity.AssignmentStatus) ([]*entity.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE status = ? ORDER BY id ASC`
	return r.query(ctx, query, string(status))
}

// List returns one page of assignments matching filter, newest first, plus the total
func (r *AssignmentRepository) List(ctx context.Context, filter entity.AssignmentFilter, page entity.Page) ([]*entity.Assignment, int, error) {
	var conds []string
	var args []interface{}
	if filter.DeveloperID != "" {
		conds = append(conds, "developer_id = ?")
		args = append(args, filter.DeveloperID)
	}
	if filter.IdeaID != 0 {
		conds = append(conds, "idea_id = ?")
		args = append(args, filter.IdeaID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	where := whereClause(conds)

	var total int
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments`+where, args...).Scan(&total)
	if err != nil {
		r.logger.Error("Failed to count assignments", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to count assignments: %w", err)
	}

	query := `SELECT ` + assignmentColumns + ` FROM assignments` + where + ` ORDER BY id DESC LIMIT ? OFFSET ?`
	items, err := r.query(ctx, query, append(args, page.Limit, page.Skip)...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListMarketplace returns open listings joined with their idea, oldest listing first
func (r *AssignmentRepository) ListMarketplace(ctx context.Context, page entity.Page) ([]*entity.MarketplaceEntry, int, error) {
	exec := sqlite.ExecutorFor(ctx, r.db)

	var total int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments WHERE status = 'listed'`).Scan(&total); err != nil {
		r.logger.Error("Failed to count marketplace listings", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to count listings: %w", err)
	}

	query := `
		SELECT a.id, a.idea_id, i.title, i.category, a.listed_at
		FROM assignments a
		JOIN ideas i ON i.id = a.idea_id
		WHERE a.status = 'listed'
		ORDER BY a.listed_at ASC, a.id ASC
		LIMIT ? OFFSET ?
	`
	rows, err := exec.QueryContext(ctx, query, page.Limit, page.Skip)
	if err != nil {
		r.logger.Error("Failed to list marketplace", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to list marketplace: %w", err)
	}
	defer rows.Close()

	var entries []*entity.MarketplaceEntry
	for rows.Next() {
		var e entity.MarketplaceEntry
		var listedAt sql.NullTime
		if err := rows.Scan(&e.AssignmentID, &e.IdeaID, &e.Title, &e.Category, &listedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan listing: %w", err)
		}
		if listedAt.Valid {
			e.ListedAt = listedAt.Time.UTC()
		}
		entries = append(entries, &e)
	}
	return entries, total, rows.Err()
}

// Resolve moves an assignment between statuses if it is still in from
func (r *AssignmentRepository) Resolve(ctx context.Context, id int64, from, to entity.AssignmentStatus, at time.Time) (bool, error) {
	query := `
		UPDATE assignments
		SET status = ?, responded_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		string(to), at.UTC(), at.UTC(), id, string(from))
	if err != nil {
		r.logger.Error("Failed to resolve assignment",
			zap.Int64("id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(err))
		return false, fmt.Errorf("failed to resolve assignment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected == 1, nil
}

// ClaimListing is the marketplace compare-and-swap. The WHERE clause only
// matches while the listing is still open, so exactly one concurrent caller
// gets a row back.
func (r *AssignmentRepository) ClaimListing(ctx context.Context, ideaID int64, developerID string, at time.Time) (*entity.Assignment, error) {
	query := `
		UPDATE assignments
		SET status = 'claimed', developer_id = ?, claimed_at = ?, updated_at = ?
		WHERE idea_id = ? AND status = 'listed'
		RETURNING id
	`

	exec := sqlite.ExecutorFor(ctx, r.db)

	var id int64
	err := exec.QueryRowContext(ctx, query, developerID, at.UTC(), at.UTC(), ideaID).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to claim listing",
			zap.Int64("idea_id", ideaID),
			zap.String("developer_id", developerID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to claim listing: %w", err)
	}

	return r.GetByID(ctx, id)
}

func (r *AssignmentRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.Assignment, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query assignments", zap.Error(err))
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var items []*entity.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func scanAssignment(row rowScanner) (*entity.Assignment, error) {
	var a entity.Assignment
	var developerID sql.NullString
	var status string
	var invitedAt, respondedAt, listedAt, claimedAt sql.NullTime

	err := row.Scan(
		&a.ID,
		&a.IdeaID,
		&developerID,
		&status,
		&a.CreatedBy,
		&invitedAt,
		&respondedAt,
		&listedAt,
		&claimedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Status = entity.AssignmentStatus(status)
	if developerID.Valid {
		a.DeveloperID = developerID.String
	}
	a.InvitedAt = timePtr(invitedAt)
	a.RespondedAt = timePtr(respondedAt)
	a.ListedAt = timePtr(listedAt)
	a.ClaimedAt = timePtr(claimedAt)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()

	return &a, nil
}

// Verify interface compliance
var _ port.AssignmentRepository = (*AssignmentRepository)(nil)
