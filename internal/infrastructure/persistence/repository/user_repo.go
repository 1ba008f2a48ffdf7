package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/idea-hub/internal/application/port"
	"github.com/garyjia/idea-hub/internal/domain/entity"
	"github.com/garyjia/idea-hub/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const userColumns = `id, name, email, role, department, last_contact_at, created_at, updated_at`

// UserRepository implements port.UserRepository
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB, logger *zap.Logger) port.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a directory entry
func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	query := `
		INSERT INTO users (
			id, name, email, role, department, last_contact_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		string(user.Role),
		string(user.Department),
		nullTime(user.LastContactAt),
		user.CreatedAt.UTC(),
		user.UpdatedAt.UTC(),
	)
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return fmt.Errorf("user %s or email %s already exists: %w", user.ID, user.Email, port.ErrUniqueViolation)
		}
		r.logger.Error("Failed to create user", zap.String("id", user.ID), zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID returns the user or nil
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	u, err := scanUser(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// List returns one page of users, newest first
func (r *UserRepository) List(ctx context.Context, filter entity.UserFilter, page entity.Page) ([]*entity.User, int, error) {
	var conds []string
	var args []interface{}
	if filter.Role != "" {
		conds = append(conds, "role = ?")
		args = append(args, string(filter.Role))
	}
	if filter.Department != "" {
		conds = append(conds, "department = ?")
		args = append(args, string(filter.Department))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		conds = append(conds, "(lower(name) LIKE ? OR lower(email) LIKE ?)")
		args = append(args, like, like)
	}
	where := whereClause(conds)
	exec := sqlite.ExecutorFor(ctx, r.db)

	var total int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count users", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	query := `SELECT ` + userColumns + ` FROM users` + where + `
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`

	rows, err := exec.QueryContext(ctx, query, append(args, page.Limit, page.Skip)...)
	if err != nil {
		r.logger.Error("Failed to list users", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*entity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}

	return users, total, rows.Err()
}

// Touch inserts the user on first contact and stamps last_contact_at
func (r *UserRepository) Touch(ctx context.Context, user *entity.User, at time.Time) error {
	query := `
		INSERT INTO users (
			id, name, email, role, department, last_contact_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE users.name END,
			email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE users.email END,
			last_contact_at = excluded.last_contact_at,
			updated_at = excluded.updated_at
	`

	at = at.UTC()
	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		string(user.Role),
		string(user.Department),
		at,
		at,
		at,
	)
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return fmt.Errorf("email %s belongs to another user: %w", user.Email, port.ErrUniqueViolation)
		}
		r.logger.Error("Failed to touch user", zap.String("id", user.ID), zap.Error(err))
		return fmt.Errorf("failed to touch user: %w", err)
	}
	return nil
}

func scanUser(row rowScanner) (*entity.User, error) {
	var u entity.User
	var role, department string
	var lastContact sql.NullTime

	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&role,
		&department,
		&lastContact,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Role = entity.Role(role)
	u.Department = entity.Department(department)
	u.LastContactAt = timePtr(lastContact)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

// Verify interface compliance
var _ port.UserRepository = (*UserRepository)(nil)
