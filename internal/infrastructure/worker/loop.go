package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// loop runs tick every interval until stopped. It carries the start/stop
// bookkeeping shared by the polling workers.
type loop struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context) error
	logger   *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	lastRun   time.Time
	lastError error
}

func (l *loop) start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isRunning {
		return fmt.Errorf("%s already running", l.name)
	}
	if l.interval <= 0 {
		return fmt.Errorf("%s: poll interval must be positive", l.name)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.isRunning = true

	go l.run(loopCtx, l.done)
	return nil
}

// stop cancels the loop and waits for an in-progress tick to finish
func (l *loop) stop() {
	l.mu.Lock()
	if !l.isRunning {
		l.mu.Unlock()
		return
	}
	l.isRunning = false
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
}

func (l *loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("Poll loop context cancelled", zap.String("worker_name", l.name))
			return
		case <-ticker.C:
			err := l.tick(ctx)
			if err != nil && ctx.Err() == nil {
				l.logger.Error("Worker tick failed", zap.String("worker_name", l.name), zap.Error(err))
			}
			l.mu.Lock()
			l.lastRun = time.Now()
			l.lastError = err
			l.mu.Unlock()
		}
	}
}
