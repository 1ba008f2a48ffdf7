// Package container provides dependency injection and lifecycle management
// for the idea pipeline following Clean Architecture principles.
package container

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/garyjia/idea-hub/internal/application/port"
	"github.com/garyjia/idea-hub/internal/application/service"
	"github.com/garyjia/idea-hub/internal/application/workflow"
	"github.com/garyjia/idea-hub/internal/config"
	"github.com/garyjia/idea-hub/internal/infrastructure/export"
	"github.com/garyjia/idea-hub/internal/infrastructure/external/lark"
	"github.com/garyjia/idea-hub/internal/infrastructure/external/openai"
	"github.com/garyjia/idea-hub/internal/infrastructure/metrics"
	"github.com/garyjia/idea-hub/internal/infrastructure/persistence/repository"
	"github.com/garyjia/idea-hub/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/idea-hub/internal/infrastructure/sender"
	"github.com/garyjia/idea-hub/internal/infrastructure/worker"
	"github.com/garyjia/idea-hub/migrations"
	"github.com/garyjia/idea-hub/pkg/database"
	"github.com/garyjia/idea-hub/pkg/utils"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// ExternalBundle holds outbound collaborators.
type ExternalBundle struct {
	Sender   port.Sender
	Scorer   port.SimilarityScorer
	Exporter port.IdeaExporter
	Metrics  *metrics.Recorder
}

// ProvideDatabase opens the database and applies pending migrations.
func ProvideDatabase(cfg *config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	applied, err := database.NewMigrator(db, logger).Run(migrations.FS)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if applied > 0 {
		logger.Info("Database migrations applied", zap.Int("count", applied))
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories.
func ProvideRepositories(db *database.DB, logger *zap.Logger) *RepositoryBundle {
	return &RepositoryBundle{
		Idea:         repository.NewIdeaRepository(db.DB, logger),
		Assignment:   repository.NewAssignmentRepository(db.DB, logger),
		Audit:        repository.NewAuditRepository(db.DB, logger),
		Notification: repository.NewNotificationRepository(db.DB, logger),
		Review:       repository.NewReviewRepository(db.DB, logger),
		User:         repository.NewUserRepository(db.DB, logger),
	}
}

// ProvideExternal creates the notification sender, the similarity scorer and
// the exporter. The scorer is nil when no API key is configured.
func ProvideExternal(cfg *config.Config, ideaRepo port.IdeaRepository, logger *zap.Logger) (*ExternalBundle, error) {
	out, err := sender.New(cfg.Notification.Channel, lark.Config{
		AppID:     cfg.Lark.AppID,
		AppSecret: cfg.Lark.AppSecret,
		BaseURL:   cfg.Lark.BaseURL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification sender: %w", err)
	}

	bundle := &ExternalBundle{
		Sender:   out,
		Exporter: export.NewXLSXExporter(logger),
		Metrics:  metrics.NewRecorder(),
	}

	if cfg.Similarity.APIKey != "" {
		scorerCfg := openai.DefaultScorerConfig()
		scorerCfg.APIKey = cfg.Similarity.APIKey
		scorerCfg.BaseURL = cfg.Similarity.BaseURL
		if cfg.Similarity.Model != "" {
			scorerCfg.Model = cfg.Similarity.Model
		}
		if cfg.Similarity.CandidateWindow > 0 {
			scorerCfg.Window = cfg.Similarity.CandidateWindow
		}
		bundle.Scorer = openai.NewSimilarityScorer(scorerCfg, ideaRepo, logger)
	} else {
		logger.Info("Similarity scorer disabled: no API key configured")
	}

	return bundle, nil
}

// ProvideTemplates builds the notification template registry, applying YAML
// overrides from path when set.
func ProvideTemplates(path string) (*service.TemplateRegistry, error) {
	if path == "" {
		return service.NewTemplateRegistry(nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open templates: %w", err)
	}
	defer f.Close()

	overrides, err := service.LoadTemplateOverrides(f)
	if err != nil {
		return nil, err
	}
	return service.NewTemplateRegistry(overrides)
}

// ServiceDeps holds dependencies for application services.
type ServiceDeps struct {
	Config    *config.Config
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	External  *ExternalBundle
	Logger    *zap.Logger
}

// ProvideServices wires the workflow engine and all application services.
func ProvideServices(deps *ServiceDeps) (workflow.WorkflowEngine, *ServiceBundle, error) {
	cfg := deps.Config
	kv := utils.NewKVLogger(deps.Logger)

	templates, err := ProvideTemplates(cfg.Notification.TemplatesPath)
	if err != nil {
		return nil, nil, err
	}

	audit := service.NewAuditService(deps.Repos.Audit, kv)
	notifications := service.NewNotificationService(deps.Repos.Notification, templates, deps.External.Sender, audit, deps.TxManager, kv,
		service.WithMaxAttempts(cfg.Notification.MaxAttempts),
		service.WithNotificationMetrics(deps.External.Metrics),
	)

	engine := workflow.NewEngine(deps.Repos.Idea, audit, notifications, deps.TxManager,
		workflow.WithMetrics(deps.External.Metrics),
	)

	ideaOpts := []service.IdeaOption{
		service.WithExporter(deps.External.Exporter),
		service.WithUserDirectory(deps.Repos.User),
	}
	if deps.External.Scorer != nil {
		ideaOpts = append(ideaOpts, service.WithScorer(deps.External.Scorer, service.SimilarityThresholds{
			Duplicate:   cfg.Similarity.DuplicateThreshold,
			Improvement: cfg.Similarity.ImprovementThreshold,
		}))
	}

	thresholds := service.SLAThresholds{
		Analyst:   cfg.SLA.Analyst,
		Finance:   cfg.SLA.Finance,
		Developer: cfg.SLA.Developer,
	}
	sla := service.NewSLAService(deps.Repos.Idea, thresholds, kv,
		service.WithSLADigest(notifications, cfg.Notification.AdminRecipient),
	)

	bundle := &ServiceBundle{
		Audit:        audit,
		Notification: notifications,
		Idea:         service.NewIdeaService(deps.Repos.Idea, engine, audit, notifications, deps.TxManager, kv, ideaOpts...),
		Review:       service.NewReviewService(deps.Repos.Review, engine, audit, deps.TxManager, kv),
		Assignment: service.NewAssignmentService(deps.Repos.Assignment, deps.Repos.User, engine, audit, notifications, deps.TxManager,
			service.AssignmentConfig{
				DeveloperSLA:   cfg.SLA.Developer,
				AdminRecipient: cfg.Notification.AdminRecipient,
			},
			kv,
			service.WithAssignmentMetrics(deps.External.Metrics),
		),
		SLA:       sla,
		Dashboard: service.NewDashboardService(deps.Repos.Idea, deps.Repos.Notification, sla, cfg.Dashboard.LatestCount, kv),
		User:      service.NewUserService(deps.Repos.User, kv),
	}
	return engine, bundle, nil
}

// ProvideWorkers creates the delivery and escalation workers.
func ProvideWorkers(cfg *config.Config, services *ServiceBundle, logger *zap.Logger) (*worker.WorkerManager, error) {
	manager := worker.NewWorkerManager(logger)

	delivery, err := worker.NewNotificationDeliveryWorker(worker.DeliveryWorkerConfig{
		PollInterval: cfg.Notification.PollInterval,
		BatchSize:    cfg.Notification.BatchSize,
		PoolSize:     cfg.Notification.PoolSize,
		SendTimeout:  cfg.Notification.SendTimeout,
	}, services.Notification, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery worker: %w", err)
	}
	manager.Register(delivery)
	var escalationOpts []worker.EscalationOption
	if cfg.SLA.DigestInterval > 0 {
		escalationOpts = append(escalationOpts, worker.WithSummaryDigest(services.SLA, cfg.SLA.DigestInterval))
	}
	manager.Register(worker.NewSLAEscalationWorker(cfg.SLA.EscalationInterval, services.Assignment, logger, escalationOpts...))

	return manager, nil
}
