package port

import (
	"context"
	"io"

	"github.com/garyjia/idea-hub/internal/domain/entity"
)

// OutboundMessage is one rendered notification handed to a delivery channel
type OutboundMessage struct {
	Recipient string
	Subject   string
	Body      string
}

// Sender delivers rendered notifications. Implementations return the
// provider's message id on success.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) (string, error)
	Name() string
}

// SimilarityCandidate is one possible duplicate reported by the scorer
type SimilarityCandidate struct {
	IdeaID int64
	Score  float64
}

// SimilarityScorer returns duplicate candidates for an idea with scores in [0,1]
type SimilarityScorer interface {
	Candidates(ctx context.Context, ideaID int64) ([]SimilarityCandidate, error)
}

// NotificationEnqueuer adds notifications to the durable queue. When ctx
// carries a transaction the task is written inside it.
type NotificationEnqueuer interface {
	Enqueue(ctx context.Context, recipient, template string, data map[string]interface{}) (*entity.NotificationTask, error)
}

// AuditRecorder appends events to the audit log
type AuditRecorder interface {
	Record(ctx context.Context, entityType entity.EntityType, entityID int64, event string, actor entity.Caller, payload interface{}) (*entity.AuditEvent, error)
}

// Metrics receives workflow counters
type Metrics interface {
	ObserveTransition(from, to, trigger string)
	ObserveClaim(won bool)
	ObserveDelivery(result string)
}

// IdeaExporter writes a list of ideas to w in a downloadable format
type IdeaExporter interface {
	Export(ctx context.Context, ideas []*entity.Idea, w io.Writer) error
	ContentType() string
	FileExtension() string
}
