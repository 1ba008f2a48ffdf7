package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/idea-hub/internal/application/port"
	"github.com/garyjia/idea-hub/internal/application/service"
	"github.com/garyjia/idea-hub/internal/application/workflow"
	"github.com/garyjia/idea-hub/internal/domain/entity"
	domainwf "github.com/garyjia/idea-hub/internal/domain/workflow"
	"github.com/garyjia/idea-hub/internal/infrastructure/persistence/repository"
	"github.com/garyjia/idea-hub/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/idea-hub/migrations"
	"github.com/garyjia/idea-hub/pkg/apperror"
	"github.com/garyjia/idea-hub/pkg/database"
	"github.com/garyjia/idea-hub/pkg/utils"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	author    = entity.Caller{UserID: "u-x", Email: "x@example.com", Name: "X", Role: entity.RoleSubmitter}
	analyst   = entity.Caller{UserID: "u-analyst", Email: "analyst@example.com", Role: entity.RoleAnalyst}
	finance   = entity.Caller{UserID: "u-finance", Email: "finance@example.com", Role: entity.RoleFinance}
	manager   = entity.Caller{UserID: "u-manager", Email: "manager@example.com", Role: entity.RoleManager}
	developer = entity.Caller{UserID: "dev-d", Email: "dev-d@example.com", Role: entity.RoleDeveloper}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubSender struct {
	mu     sync.Mutex
	err    error
	sent   []port.OutboundMessage
	calls  int
	onSend func()
}

func (s *stubSender) Send(ctx context.Context, msg port.OutboundMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.onSend != nil {
		s.onSend()
	}
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, msg)
	return "msg-" + msg.Recipient, nil
}

func (s *stubSender) Name() string { return "stub" }

func (s *stubSender) failWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type countingMetrics struct {
	mu          sync.Mutex
	transitions int
	won, lost   int
	deliveries  map[string]int
}

func (m *countingMetrics) ObserveTransition(from, to, trigger string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions++
}

func (m *countingMetrics) ObserveClaim(won bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if won {
		m.won++
	} else {
		m.lost++
	}
}

func (m *countingMetrics) ObserveDelivery(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deliveries == nil {
		m.deliveries = make(map[string]int)
	}
	m.deliveries[result]++
}

type stack struct {
	db            *database.DB
	clock         *testClock
	sender        *stubSender
	metrics       *countingMetrics
	ideaRepo      port.IdeaRepository
	assignRepo    port.AssignmentRepository
	notifRepo     port.NotificationRepository
	users         port.UserRepository
	txManager     port.TransactionManager
	engine        workflow.WorkflowEngine
	audit         service.AuditService
	notifications service.NotificationService
	ideas         service.IdeaService
	reviews       service.ReviewService
	assignments   service.AssignmentService
	directory     service.UserService
	sla           service.SLAService
	dashboard     service.DashboardService
}

func newStack(t *testing.T) *stack {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path:        filepath.Join(t.TempDir(), "ideas.db"),
		BusyTimeout: 10 * time.Second,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.NewMigrator(db, logger).Run(migrations.FS)
	require.NoError(t, err)

	s := &stack{
		db:      db,
		clock:   newTestClock(),
		sender:  &stubSender{},
		metrics: &countingMetrics{},
	}
	kv := utils.NewKVLogger(logger)
	txManager := sqlite.NewDB(db.DB, logger)
	s.txManager = txManager

	s.ideaRepo = repository.NewIdeaRepository(db.DB, logger)
	s.assignRepo = repository.NewAssignmentRepository(db.DB, logger)
	s.notifRepo = repository.NewNotificationRepository(db.DB, logger)
	s.users = repository.NewUserRepository(db.DB, logger)
	reviewRepo := repository.NewReviewRepository(db.DB, logger)
	auditRepo := repository.NewAuditRepository(db.DB, logger)

	templates, err := service.NewTemplateRegistry(nil)
	require.NoError(t, err)

	s.audit = service.NewAuditService(auditRepo, kv)
	s.notifications = service.NewNotificationService(s.notifRepo, templates, s.sender, s.audit, txManager, kv,
		service.WithMaxAttempts(3),
		service.WithNotificationMetrics(s.metrics),
		service.WithNotificationClock(s.clock.Now),
	)
	s.engine = workflow.NewEngine(s.ideaRepo, s.audit, s.notifications, txManager,
		workflow.WithMetrics(s.metrics),
		workflow.WithClock(s.clock.Now),
	)
	s.ideas = service.NewIdeaService(s.ideaRepo, s.engine, s.audit, s.notifications, txManager, kv,
		service.WithIdeaClock(s.clock.Now),
		service.WithUserDirectory(s.users),
	)
	s.reviews = service.NewReviewService(reviewRepo, s.engine, s.audit, txManager, kv)
	s.assignments = s.assignmentsWith(s.engine)
	s.sla = service.NewSLAService(s.ideaRepo, service.DefaultSLAThresholds(), kv,
		service.WithSLADigest(s.notifications, "admin@example.com"),
	)
	s.dashboard = service.NewDashboardService(s.ideaRepo, s.notifRepo, s.sla, 5, kv)
	s.directory = service.NewUserService(s.users, kv)

	s.addDevelopers(t, developer.UserID, "dev-e", "dev-z", "dev-other")
	return s
}

// assignmentsWith builds an assignment service on the stack's storage that
// reads ideas through engine
func (s *stack) assignmentsWith(engine workflow.WorkflowEngine) service.AssignmentService {
	return service.NewAssignmentService(s.assignRepo, s.users, engine, s.audit, s.notifications, s.txManager,
		service.AssignmentConfig{DeveloperSLA: service.DefaultStageSLA, AdminRecipient: "admin@example.com"},
		utils.NewKVLogger(zap.NewNop()),
		service.WithAssignmentMetrics(s.metrics),
		service.WithAssignmentClock(s.clock.Now),
	)
}

// racingEngine starts a competing operation the first time an idea is read
// and lets it run until it finishes or blocks on the write lock.
type racingEngine struct {
	workflow.WorkflowEngine
	once sync.Once
	race func()
	done chan struct{}
}

func newRacingEngine(engine workflow.WorkflowEngine, race func()) *racingEngine {
	return &racingEngine{WorkflowEngine: engine, race: race, done: make(chan struct{})}
}

func (e *racingEngine) GetIdea(ctx context.Context, ideaID int64) (*entity.Idea, error) {
	idea, err := e.WorkflowEngine.GetIdea(ctx, ideaID)
	e.once.Do(func() {
		go func() {
			defer close(e.done)
			e.race()
		}()
		select {
		case <-e.done:
		case <-time.After(200 * time.Millisecond):
		}
	})
	return idea, err
}

// addDevelopers registers developer accounts in the user directory
func (s *stack) addDevelopers(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.users.Create(context.Background(), &entity.User{
			ID:        id,
			Name:      id,
			Email:     id + "@example.com",
			Role:      entity.RoleDeveloper,
			CreatedAt: s.clock.Now(),
		}))
	}
}

// submit creates an idea and drives it to status using admin-capable callers
func (s *stack) submitTo(t *testing.T, status domainwf.State) *entity.Idea {
	t.Helper()
	ctx := context.Background()

	idea, err := s.ideas.Submit(ctx, service.SubmitInput{RawInput: "Add dark mode"}, author)
	require.NoError(t, err)

	path := map[domainwf.State][]domainwf.Trigger{
		domainwf.StateNew:                 nil,
		domainwf.StateAnalystReview:       {domainwf.TriggerRouteToAnalyst},
		domainwf.StateFinanceReview:       {domainwf.TriggerRouteToAnalyst, domainwf.TriggerRouteToFinance},
		domainwf.StateDeveloperAssignment: {domainwf.TriggerRouteToAnalyst, domainwf.TriggerRouteToDevelopers},
	}[status]
	for _, trigger := range path {
		idea, err = s.engine.Route(ctx, idea.ID, trigger, manager)
		require.NoError(t, err)
	}
	return idea
}

func requireAppError(t *testing.T, err error, kind error, code string) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, kind), "error %v is not of kind %v", err, kind)
	appErr, ok := apperror.As(err)
	require.True(t, ok, "error %v is not an AppError", err)
	require.Equal(t, code, appErr.Code)
}
