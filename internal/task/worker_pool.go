package task

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/phrazzld/vista-api/internal/domain"
	"github.com/phrazzld/vista-api/internal/queue"
)

// Claimer executes a task by ID. *Executor is the production implementation.
type Claimer interface {
	ClaimAndExecute(ctx context.Context, taskID string) (*domain.Task, error)
}

// WorkerPool manages a pool of worker goroutines that drain the broker
// queues. It handles graceful shutdown and worker lifecycle.
type WorkerPool struct {
	broker   queue.Broker
	executor Claimer
	config   WorkerPoolConfig

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx stops the pop loops. execCtx is handed to the executor and is only
	// cancelled once the drain timeout has passed.
	ctx        context.Context
	cancel     context.CancelFunc
	execCtx    context.Context
	execCancel context.CancelFunc

	logger *slog.Logger
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start.
	// If zero or negative, the default is used.
	WorkerCount int

	// Queues are polled in order, starting one past the last queue that produced work
	Queues []string

	// PopTimeout is how long a single pop waits on one queue
	PopTimeout time.Duration

	// IdleSleep is the pause after a full round over empty queues
	IdleSleep time.Duration

	// ReconnectBackoff is the pause after the broker reported itself unavailable
	ReconnectBackoff time.Duration

	// DrainTimeout is how long Stop lets running tasks finish before
	// cancelling them
	DrainTimeout time.Duration
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:      2,
		Queues:           queue.Names(queue.DefaultPrefix),
		PopTimeout:       time.Second,
		IdleSleep:        500 * time.Millisecond,
		ReconnectBackoff: 5 * time.Second,
		DrainTimeout:     30 * time.Second,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(broker queue.Broker, executor Claimer, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "worker_pool"))

	defaults := DefaultWorkerPoolConfig()
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			slog.Int("specified_count", config.WorkerCount),
			slog.Int("default_count", defaults.WorkerCount))
		config.WorkerCount = defaults.WorkerCount
	}
	if len(config.Queues) == 0 {
		config.Queues = defaults.Queues
	}
	if config.PopTimeout <= 0 {
		config.PopTimeout = defaults.PopTimeout
	}
	if config.IdleSleep <= 0 {
		config.IdleSleep = defaults.IdleSleep
	}
	if config.ReconnectBackoff <= 0 {
		config.ReconnectBackoff = defaults.ReconnectBackoff
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = defaults.DrainTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	execCtx, execCancel := context.WithCancel(context.Background())

	return &WorkerPool{
		broker:     broker,
		executor:   executor,
		config:     config,
		ctx:        ctx,
		cancel:     cancel,
		execCtx:    execCtx,
		execCancel: execCancel,
		logger:     logger,
	}
}

// Start launches the worker goroutines.
func (p *WorkerPool) Start() {
	p.logger.Info("starting worker pool",
		slog.Int("worker_count", p.config.WorkerCount),
		slog.Any("queues", p.config.Queues))

	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop ends popping and waits for the workers to exit. Tasks already
// running get DrainTimeout to finish; after that their context is cancelled
// and the executor records them as failed.
func (p *WorkerPool) Stop() {
	p.cancel()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	timer := time.NewTimer(p.config.DrainTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		p.logger.Warn("drain timeout reached, cancelling running tasks",
			slog.Duration("drain_timeout", p.config.DrainTimeout))
		p.execCancel()
		<-drained
	}
	p.execCancel()
	p.logger.Info("worker pool stopped")
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	log := p.logger.With(slog.Int("worker_id", id))
	log.Debug("starting worker")

	queues := p.config.Queues
	next := 0

	for {
		if p.ctx.Err() != nil {
			log.Debug("stopping worker")
			return
		}

		worked := false
		for i := 0; i < len(queues); i++ {
			idx := (next + i) % len(queues)

			taskID, err := p.broker.Pop(p.ctx, queues[idx], p.config.PopTimeout)
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if err != nil && (p.ctx.Err() != nil || errors.Is(err, queue.ErrClosed)) {
				log.Debug("stopping worker")
				return
			}
			if err != nil {
				p.reconnect(log, err)
				worked = true
				break
			}

			p.process(log, queues[idx], taskID)
			next = idx + 1
			worked = true
			break
		}

		if !worked {
			p.sleep(p.config.IdleSleep)
		}
	}
}

// reconnect waits out a broker failure and probes the connection again.
func (p *WorkerPool) reconnect(log *slog.Logger, cause error) {
	log.Warn("queue broker error, backing off",
		slog.String("error", cause.Error()),
		slog.Duration("backoff", p.config.ReconnectBackoff))

	if !p.sleep(p.config.ReconnectBackoff) {
		return
	}

	pingCtx, cancel := context.WithTimeout(p.ctx, p.config.ReconnectBackoff)
	defer cancel()
	if err := p.broker.Ping(pingCtx); err != nil {
		log.Warn("queue broker still unavailable", slog.String("error", err.Error()))
		return
	}
	log.Info("queue broker reachable again")
}

// process runs one popped task ID through the executor.
func (p *WorkerPool) process(log *slog.Logger, queueName, taskID string) {
	log = log.With(slog.String("task_id", taskID), slog.String("queue", queueName))

	defer func() {
		if r := recover(); r != nil {
			log.Error("worker recovered from panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	start := time.Now()
	// A popped ID is gone from the broker, so it runs even if Stop was
	// called during the pop.
	final, err := p.executor.ClaimAndExecute(p.execCtx, taskID)
	switch {
	case errors.Is(err, ErrNotClaimed):
		log.Debug("skipping task that is no longer queued", slog.String("reason", err.Error()))
	case err != nil:
		log.Error("task execution error", slog.String("error", err.Error()))
	default:
		log.Info("task finished",
			slog.String("status", string(final.Status)),
			slog.Duration("duration", time.Since(start)))
	}
}

// sleep pauses for d and reports false if the pool was stopped meanwhile.
func (p *WorkerPool) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
