package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/idea-hub/internal/application/port"
	"github.com/garyjia/idea-hub/internal/application/service"
	"github.com/garyjia/idea-hub/internal/application/workflow"
	"github.com/garyjia/idea-hub/internal/config"
	"github.com/garyjia/idea-hub/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/idea-hub/internal/infrastructure/worker"
	"github.com/garyjia/idea-hub/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure - Data
	db           *database.DB
	txManager    *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - External
	external *ExternalBundle

	// Application
	workflow workflow.WorkflowEngine
	services *ServiceBundle

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Idea         port.IdeaRepository
	Assignment   port.AssignmentRepository
	Audit        port.AuditRepository
	Notification port.NotificationRepository
	Review       port.ReviewRepository
	User         port.UserRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Audit        service.AuditService
	Notification service.NotificationService
	Idea         service.IdeaService
	Review       service.ReviewService
	Assignment   service.AssignmentService
	SLA          service.SLAService
	Dashboard    service.DashboardService
	User         service.UserService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components:
// 1. Database, migrations and repositories
// 2. External collaborators (sender, scorer, exporter, metrics)
// 3. Workflow engine and application services
// Workers are started separately with StartWorkers.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.db = dbBundle.DB
	c.txManager = dbBundle.TransactionMgr
	c.repositories = ProvideRepositories(c.db, c.logger)
	c.logger.Info("Database initialized")

	c.external, err = ProvideExternal(c.config, c.repositories.Idea, c.logger)
	if err != nil {
		_ = c.db.Close()
		return fmt.Errorf("failed to initialize external clients: %w", err)
	}
	c.logger.Info("External clients initialized", zap.String("sender", c.external.Sender.Name()))

	c.workflow, c.services, err = ProvideServices(&ServiceDeps{
		Config:    c.config,
		Repos:     c.repositories,
		TxManager: c.txManager,
		External:  c.external,
		Logger:    c.logger,
	})
	if err != nil {
		_ = c.db.Close()
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// StartWorkers creates and starts the background workers.
func (c *Container) StartWorkers() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready.Load() {
		return fmt.Errorf("container not started")
	}
	if c.workers != nil {
		return fmt.Errorf("workers already started")
	}

	workers, err := ProvideWorkers(c.config, c.services, c.logger)
	if err != nil {
		return err
	}
	if err := workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.workers = workers
	c.logger.Info("Workers started", zap.Int("count", workers.GetWorkerCount()))
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components. Workers are only checked
// once StartWorkers has run.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	if c.db != nil {
		if err := c.db.PingContext(ctx); err != nil {
			status.Components["database"] = ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)}
			status.Overall = false
		} else {
			status.Components["database"] = ComponentHealth{Healthy: true}
		}
	} else {
		status.Components["database"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	if c.workers != nil {
		status.Components["workers"] = ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()),
		}
		if !c.workers.IsRunning() {
			status.Overall = false
		}
	}

	if c.external != nil {
		status.Components["sender"] = ComponentHealth{Healthy: true, Message: c.external.Sender.Name()}
		scorer := ComponentHealth{Healthy: true, Message: "enabled"}
		if c.external.Scorer == nil {
			scorer.Message = "disabled"
		}
		status.Components["similarity"] = scorer
	}

	return status
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.txManager
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// External returns the outbound collaborators.
func (c *Container) External() *ExternalBundle {
	return c.external
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.WorkflowEngine {
	return c.workflow
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Workers returns the worker manager, or nil before StartWorkers.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}
