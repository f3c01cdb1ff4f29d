// Package worker runs the task pool: a fixed number of workers pulling from
// the priority queue, each handling one task at a time under a soft and a
// hard deadline, with periodic recycling so a leaky handler cannot degrade
// a worker forever.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/logging"
	"github.com/kestrelworks/guildsight/internal/queue"
)

// ErrNoHandler indicates a task kind with no registered handler.
var ErrNoHandler = errors.New("worker: no handler for task kind")

// Defaults.
const (
	DefaultConcurrency     = 4
	DefaultSoftLimit       = 300 * time.Second
	DefaultHardLimit       = 600 * time.Second
	DefaultTasksPerRecycle = 1000
)

// HandlerFunc executes one task. Returning nil settles the task; returning
// an error wrapped with Permanent dead-letters it immediately; any other
// error consumes one retry attempt.
type HandlerFunc func(ctx context.Context, task queue.Task) error

// Delivery is the settle surface of a dequeued task.
type Delivery interface {
	Ack() error
	Retry() error
	Term() error
}

// Source yields tasks. *queue.Consumer satisfies it through NewQueueSource.
type Source interface {
	Next(ctx context.Context) (queue.Task, int, Delivery, error)
}

// DeadLetterer records permanently failed tasks.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, task queue.Task, attempts int, cause error) error
}

type queueSource struct {
	c *queue.Consumer
}

// NewQueueSource adapts a queue consumer to the pool's Source.
func NewQueueSource(c *queue.Consumer) Source {
	return queueSource{c: c}
}

func (s queueSource) Next(ctx context.Context) (queue.Task, int, Delivery, error) {
	d, err := s.c.Next(ctx)
	if err != nil {
		return queue.Task{}, 0, nil, err
	}
	return d.Task, d.Attempt, d, nil
}

// Config for the pool.
type Config struct {
	Concurrency     int
	SoftLimit       time.Duration
	HardLimit       time.Duration
	TasksPerRecycle int
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.SoftLimit <= 0 {
		c.SoftLimit = DefaultSoftLimit
	}
	if c.HardLimit <= 0 {
		c.HardLimit = DefaultHardLimit
	}
	if c.TasksPerRecycle <= 0 {
		c.TasksPerRecycle = DefaultTasksPerRecycle
	}
}

// Pool dispatches tasks to registered handlers.
type Pool struct {
	cfg      Config
	source   Source
	dead     DeadLetterer
	logger   *logging.Logger
	handlers map[string]HandlerFunc
}

// NewPool builds a pool. Handlers are registered before Run.
func NewPool(cfg Config, source Source, dead DeadLetterer, logger *logging.Logger) *Pool {
	cfg.applyDefaults()
	return &Pool{
		cfg:      cfg,
		source:   source,
		dead:     dead,
		logger:   logger.Named("worker"),
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a handler to a task kind. Not safe to call after Run.
func (p *Pool) Register(kind string, fn HandlerFunc) {
	p.handlers[kind] = fn
}

// Run blocks until ctx is cancelled. Each worker slot processes up to
// TasksPerRecycle tasks and then restarts fresh.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			for ctx.Err() == nil {
				p.workerLifetime(ctx, slot)
			}
		}(i)
	}
	wg.Wait()
}

func (p *Pool) workerLifetime(ctx context.Context, slot int) {
	logger := p.logger.With(zap.Int("slot", slot))
	for handled := 0; handled < p.cfg.TasksPerRecycle; handled++ {
		task, attempt, delivery, err := p.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn(ctx, "dequeue failed", zap.Error(err))
			continue
		}
		p.handleOne(ctx, logger, task, attempt, delivery)
	}
	logger.Info(ctx, "worker recycling", zap.Int("tasks_handled", p.cfg.TasksPerRecycle))
}

func (p *Pool) handleOne(ctx context.Context, logger *logging.Logger, task queue.Task, attempt int, delivery Delivery) {
	taskCtx := logging.WithFields(ctx,
		zap.String("task_id", task.ID),
		zap.String("kind", task.Kind),
		zap.Int64("tenant_id", task.TenantID),
		zap.Int("attempt", attempt),
	)

	if task.Deadline != nil && time.Now().After(*task.Deadline) {
		p.settleDead(taskCtx, logger, task, attempt, delivery,
			fmt.Errorf("worker: deadline %s passed", task.Deadline.Format(time.RFC3339)))
		tasksTotal.WithLabelValues(task.Kind, outcomeExpired).Inc()
		return
	}

	handler, ok := p.handlers[task.Kind]
	if !ok {
		p.settleDead(taskCtx, logger, task, attempt, delivery,
			fmt.Errorf("%w: %s", ErrNoHandler, task.Kind))
		tasksTotal.WithLabelValues(task.Kind, outcomeDead).Inc()
		return
	}

	tasksInflight.Inc()
	start := time.Now()
	err := p.runHandler(taskCtx, logger, task, handler)
	taskSeconds.WithLabelValues(task.Kind).Observe(time.Since(start).Seconds())
	tasksInflight.Dec()

	switch {
	case err == nil:
		if ackErr := delivery.Ack(); ackErr != nil {
			logger.Warn(taskCtx, "ack failed", zap.Error(ackErr))
		}
		tasksTotal.WithLabelValues(task.Kind, outcomeOK).Inc()

	case IsPermanent(err) || attempt+1 >= queue.MaxAttempts(task.Kind):
		p.settleDead(taskCtx, logger, task, attempt+1, delivery, err)
		tasksTotal.WithLabelValues(task.Kind, outcomeDead).Inc()

	default:
		logger.Warn(taskCtx, "task failed, will retry", zap.Error(err))
		if nakErr := delivery.Retry(); nakErr != nil {
			logger.Warn(taskCtx, "retry scheduling failed", zap.Error(nakErr))
		}
		tasksTotal.WithLabelValues(task.Kind, outcomeRetried).Inc()
	}
}

// runHandler enforces the hard limit via context cancellation and logs when
// the soft limit passes so slow handlers surface before they are killed.
func (p *Pool) runHandler(ctx context.Context, logger *logging.Logger, task queue.Task, handler HandlerFunc) error {
	hardCtx, cancel := context.WithTimeout(ctx, p.cfg.HardLimit)
	defer cancel()

	soft := time.AfterFunc(p.cfg.SoftLimit, func() {
		logger.Warn(ctx, "task over soft limit",
			zap.Duration("soft_limit", p.cfg.SoftLimit),
			zap.String("kind", task.Kind),
		)
	})
	defer soft.Stop()

	err := handler(hardCtx, task)
	if err != nil && hardCtx.Err() != nil && ctx.Err() == nil {
		return fmt.Errorf("worker: hard limit %s exceeded: %w", p.cfg.HardLimit, err)
	}
	return err
}

func (p *Pool) settleDead(ctx context.Context, logger *logging.Logger, task queue.Task, attempts int, delivery Delivery, cause error) {
	// Dead-letter first; Term only after the record is durable so a crash
	// in between redelivers instead of losing the task.
	if err := p.dead.DeadLetter(ctx, task, attempts, cause); err != nil {
		logger.Error(ctx, "dead-letter publish failed", zap.Error(err))
		if nakErr := delivery.Retry(); nakErr != nil {
			logger.Warn(ctx, "retry scheduling failed", zap.Error(nakErr))
		}
		return
	}
	if err := delivery.Term(); err != nil {
		logger.Warn(ctx, "terminate failed", zap.Error(err))
	}
}
