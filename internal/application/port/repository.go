package port

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/idea-hub/internal/domain/entity"
	"github.com/garyjia/idea-hub/internal/domain/workflow"
)

// ErrUniqueViolation is returned by repositories when an insert would break a
// uniqueness constraint, such as a second active assignment for one idea.
var ErrUniqueViolation = errors.New("unique constraint violation")

// IdeaRepository defines persistence operations for Idea
type IdeaRepository interface {
	Create(ctx context.Context, idea *entity.Idea) error
	GetByID(ctx context.Context, id int64) (*entity.Idea, error)
	List(ctx context.Context, filter entity.IdeaFilter, page entity.Page) ([]*entity.Idea, int, error)

	// UpdateStatus writes idea's status, stage stamps and similarity link only
	// if the stored status still equals from. It reports whether the row changed.
	UpdateStatus(ctx context.Context, idea *entity.Idea, from workflow.State) (bool, error)

	ListByStatuses(ctx context.Context, statuses []workflow.State) ([]*entity.Idea, error)
	CountByStatus(ctx context.Context) (map[workflow.State]int, error)
	Latest(ctx context.Context, limit int) ([]*entity.Idea, error)
}

// AssignmentRepository defines persistence operations for Assignment
type AssignmentRepository interface {
	// Create inserts an assignment. It returns ErrUniqueViolation when the
	// idea already has an active assignment.
	Create(ctx context.Context, assignment *entity.Assignment) error
	GetByID(ctx context.Context, id int64) (*entity.Assignment, error)
	GetActiveByIdea(ctx context.Context, ideaID int64) (*entity.Assignment, error)
	ListByIdea(ctx context.Context, ideaID int64) ([]*entity.Assignment, error)
	ListByStatus(ctx context.Context, status entity.AssignmentStatus) ([]*entity.Assignment, error)
	List(ctx context.Context, filter entity.AssignmentFilter, page entity.Page) ([]*entity.Assignment, int, error)
	ListMarketplace(ctx context.Context, page entity.Page) ([]*entity.MarketplaceEntry, int, error)

	// Resolve moves an assignment from one status to another and stamps
	// responded_at, only if the stored status still equals from.
	Resolve(ctx context.Context, id int64, from, to entity.AssignmentStatus, at time.Time) (bool, error)

	// ClaimListing atomically moves the idea's listed assignment to claimed
	// for developerID. It returns nil when no listed assignment remained.
	ClaimListing(ctx context.Context, ideaID int64, developerID string, at time.Time) (*entity.Assignment, error)
}

// AuditRepository defines persistence operations for the append-only audit log
type AuditRepository interface {
	Append(ctx context.Context, event *entity.AuditEvent) error
	ListByEntity(ctx context.Context, entityType entity.EntityType, entityID int64) ([]*entity.AuditEvent, error)
}

// NotificationRepository defines persistence operations for NotificationTask
type NotificationRepository interface {
	Create(ctx context.Context, task *entity.NotificationTask) error
	GetByID(ctx context.Context, id int64) (*entity.NotificationTask, error)
	ListPending(ctx context.Context, limit int) ([]*entity.NotificationTask, error)
	List(ctx context.Context, filter entity.NotificationFilter, page entity.Page) ([]*entity.NotificationTask, int, error)
	CountByStatus(ctx context.Context) (map[entity.NotificationStatus]int, error)

	// MarkSent records a successful attempt on a pending task.
	MarkSent(ctx context.Context, id int64, providerMessageID string, at time.Time) (bool, error)

	// RecordFailure records a failed attempt on a pending task. The task
	// becomes failed once its attempt count reaches maxAttempts. It returns
	// the task after the update, or nil if the task was not pending.
	RecordFailure(ctx context.Context, id int64, lastError string, maxAttempts int, at time.Time) (*entity.NotificationTask, error)

	// ResetFailed moves a failed task back to pending.
	ResetFailed(ctx context.Context, id int64, at time.Time) (bool, error)
}

// ReviewRepository defines persistence operations for Review
type ReviewRepository interface {
	Create(ctx context.Context, review *entity.Review) error
	List(ctx context.Context, ideaID int64, stage string, page entity.Page) ([]*entity.Review, int, error)
}

// UserRepository defines persistence operations for the user directory
type UserRepository interface {
	// Create inserts a user. It returns ErrUniqueViolation when the id or
	// email is taken.
	Create(ctx context.Context, user *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
	List(ctx context.Context, filter entity.UserFilter, page entity.Page) ([]*entity.User, int, error)

	// Touch records contact from user, inserting the entry on first sight.
	// An existing entry keeps its role and department; blank name and email
	// never overwrite stored values.
	Touch(ctx context.Context, user *entity.User, at time.Time) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	// WithTransaction runs fn in a transaction carried by the context passed
	// to fn. Nested calls join the outer transaction.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
