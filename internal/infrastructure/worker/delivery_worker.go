package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/garyjia/idea-hub/internal/domain/entity"
)

// NotificationDeliverer is the part of the notification queue the delivery
// worker drives
type NotificationDeliverer interface {
	Pending(ctx context.Context, limit int) ([]*entity.NotificationTask, error)
	Deliver(ctx context.Context, taskID int64) (*entity.NotificationTask, error)
}

// DeliveryWorkerConfig holds configuration for the delivery worker
type DeliveryWorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	PoolSize     int
	SendTimeout  time.Duration
}

// DefaultDeliveryWorkerConfig returns default configuration
func DefaultDeliveryWorkerConfig() DeliveryWorkerConfig {
	return DeliveryWorkerConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    50,
		PoolSize:     8,
		SendTimeout:  15 * time.Second,
	}
}

// NotificationDeliveryWorker polls pending notifications and delivers each
// batch concurrently on a bounded pool
type NotificationDeliveryWorker struct {
	config    DeliveryWorkerConfig
	queue     NotificationDeliverer
	pool      *ants.Pool
	logger    *zap.Logger
	loop      *loop
	delivered atomic.Int64
	errored   atomic.Int64
}

// NewNotificationDeliveryWorker creates a delivery worker
func NewNotificationDeliveryWorker(config DeliveryWorkerConfig, queue NotificationDeliverer, logger *zap.Logger) (*NotificationDeliveryWorker, error) {
	defaults := DefaultDeliveryWorkerConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PoolSize <= 0 {
		config.PoolSize = defaults.PoolSize
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaults.SendTimeout
	}

	pool, err := ants.NewPool(config.PoolSize,
		ants.WithPanicHandler(func(p interface{}) {
			logger.Error("Delivery task panic recovered", zap.Any("panic", p), zap.Stack("stack"))
		}),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery pool: %w", err)
	}

	w := &NotificationDeliveryWorker{
		config: config,
		queue:  queue,
		pool:   pool,
		logger: logger,
	}
	w.loop = &loop{
		name:     w.Name(),
		interval: config.PollInterval,
		tick:     w.RunOnce,
		logger:   logger,
	}
	return w, nil
}

// Name returns the worker name for identification
func (w *NotificationDeliveryWorker) Name() string {
	return "NotificationDeliveryWorker"
}

// Start begins the polling loop
func (w *NotificationDeliveryWorker) Start(ctx context.Context) error {
	if err := w.loop.start(ctx); err != nil {
		return err
	}
	w.logger.Info("NotificationDeliveryWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize),
		zap.Int("pool_size", w.config.PoolSize))
	return nil
}

// Stop ends the loop, waits for the current batch and releases the pool
func (w *NotificationDeliveryWorker) Stop() error {
	w.loop.stop()
	if err := w.pool.ReleaseTimeout(30 * time.Second); err != nil {
		w.logger.Warn("Delivery pool release timed out", zap.Error(err))
	}
	w.logger.Info("NotificationDeliveryWorker stopped",
		zap.Int64("delivered", w.delivered.Load()),
		zap.Int64("errored", w.errored.Load()))
	return nil
}

// RunOnce delivers one batch of pending notifications and waits for it
func (w *NotificationDeliveryWorker) RunOnce(ctx context.Context) error {
	_, err := w.deliverBatch(ctx)
	return err
}

func (w *NotificationDeliveryWorker) deliverBatch(ctx context.Context) (int, error) {
	tasks, err := w.queue.Pending(ctx, w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending notifications: %w", err)
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	w.logger.Debug("Delivering notifications", zap.Int("count", len(tasks)))

	var wg sync.WaitGroup
	for _, task := range tasks {
		taskID := task.ID
		wg.Add(1)
		err := w.pool.Submit(func() {
			defer wg.Done()
			w.deliver(ctx, taskID)
		})
		if err != nil {
			wg.Done()
			w.errored.Add(1)
			w.logger.Error("Failed to submit delivery", zap.Int64("task_id", taskID), zap.Error(err))
		}
	}
	wg.Wait()

	return len(tasks), nil
}

func (w *NotificationDeliveryWorker) deliver(ctx context.Context, taskID int64) {
	if ctx.Err() != nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, w.config.SendTimeout)
	defer cancel()

	task, err := w.queue.Deliver(sendCtx, taskID)
	if err != nil {
		w.errored.Add(1)
		w.logger.Error("Notification delivery errored", zap.Int64("task_id", taskID), zap.Error(err))
		return
	}
	if task.Status == entity.NotificationSent {
		w.delivered.Add(1)
	}
}

// Delivered returns the number of tasks sent by this worker
func (w *NotificationDeliveryWorker) Delivered() int64 {
	return w.delivered.Load()
}
