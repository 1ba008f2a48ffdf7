package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/garyjia/idea-hub/internal/config"
	"github.com/garyjia/idea-hub/internal/container"
	httpapi "github.com/garyjia/idea-hub/internal/interfaces/http"
	"github.com/garyjia/idea-hub/pkg/utils"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "idea-hub: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting idea-hub",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Container shutdown failed", zap.Error(err))
		}
	}()

	if err := c.StartWorkers(); err != nil {
		return err
	}

	svc := c.Services()
	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		RateLimit:    cfg.Server.RateLimit,
		RateBurst:    cfg.Server.RateBurst,
		CORSOrigins:  cfg.Server.CORSOrigins,
		Auth: httpapi.AuthConfig{
			Secret:              []byte(cfg.Auth.JWTSecret),
			Issuer:              cfg.Auth.Issuer,
			AllowHeaderIdentity: cfg.Auth.AllowHeaderIdentity,
		},
	}, httpapi.Dependencies{
		Ideas:               svc.Idea,
		Reviews:             svc.Review,
		Assignments:         svc.Assignment,
		Engine:              c.WorkflowEngine(),
		Notifications:       svc.Notification,
		SLA:                 svc.SLA,
		Dashboard:           svc.Dashboard,
		Audit:               svc.Audit,
		Users:               svc.User,
		Metrics:             c.External().Metrics,
		ExportContentType:   c.External().Exporter.ContentType(),
		ExportFileExtension: c.External().Exporter.FileExtension(),
		Health: func(ctx context.Context) (bool, interface{}) {
			h := c.Health(ctx)
			return h.Overall, h.Components
		},
	}, utils.NewKVLogger(logger))

	if cfg.Auth.AllowHeaderIdentity {
		logger.Warn("Header identity is enabled; do not expose this server publicly")
	}

	// Start blocks until ctx is cancelled by a signal or the listener fails
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("idea-hub stopped")
	return nil
}
