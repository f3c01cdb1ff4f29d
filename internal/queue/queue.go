package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/logging"
)

var (
	// ErrConnectionFailed indicates NATS could not be reached.
	ErrConnectionFailed = errors.New("queue: connection failed")
	// ErrPublishFailed indicates a task could not be enqueued.
	ErrPublishFailed = errors.New("queue: publish failed")
)

// Subject layout. The stream owns tasks.> minus the dead-letter subject,
// which lives in its own stream with longer retention.
const (
	subjectPrefix   = "tasks."
	DeadSubject     = "tasks.dead"
	DefaultStream   = "GUILDSIGHT_TASKS"
	deadStreamName  = "GUILDSIGHT_DEAD"
	deadRetention   = 14 * 24 * time.Hour
	fetchWait       = 2 * time.Second
	consumerAckWait = 630 * time.Second // hard task limit plus slack
)

// Config for the queue client.
type Config struct {
	URL        string
	StreamName string
}

// Queue wraps a JetStream work queue with one subject per priority.
type Queue struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	stream string
	logger *logging.Logger
}

// New connects to NATS and ensures both streams exist.
func New(cfg Config, logger *logging.Logger) (*Queue, error) {
	if cfg.StreamName == "" {
		cfg.StreamName = DefaultStream
	}
	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	q := &Queue{nc: nc, js: js, stream: cfg.StreamName, logger: logger.Named("queue")}
	if err := q.ensureStreams(); err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) ensureStreams() error {
	_, err := q.js.StreamInfo(q.stream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = q.js.AddStream(&nats.StreamConfig{
			Name: q.stream,
			Subjects: []string{
				subjectFor(PriorityHigh),
				subjectFor(PriorityDefault),
				subjectFor(PriorityLow),
			},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
		})
	}
	if err != nil {
		return fmt.Errorf("queue: ensure stream %s: %w", q.stream, err)
	}

	_, err = q.js.StreamInfo(deadStreamName)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = q.js.AddStream(&nats.StreamConfig{
			Name:      deadStreamName,
			Subjects:  []string{DeadSubject},
			Retention: nats.LimitsPolicy,
			MaxAge:    deadRetention,
			Storage:   nats.FileStorage,
		})
	}
	if err != nil {
		return fmt.Errorf("queue: ensure stream %s: %w", deadStreamName, err)
	}
	return nil
}

func subjectFor(p Priority) string {
	return subjectPrefix + string(p)
}

// Enqueue publishes a task on its kind's default priority lane.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	return q.EnqueueWithPriority(ctx, task, DefaultPriority(task.Kind))
}

// EnqueueWithPriority publishes a task on an explicit lane. The task id is
// the dedupe key, so a retried publish of the same task is idempotent
// within the dedupe window.
func (q *Queue) EnqueueWithPriority(ctx context.Context, task Task, p Priority) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPublishFailed, err)
	}
	_, err = q.js.Publish(subjectFor(p), data,
		nats.Context(ctx),
		nats.MsgId(task.ID),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	q.logger.Debug(ctx, "task enqueued",
		zap.String("kind", task.Kind),
		zap.String("task_id", task.ID),
		zap.String("priority", string(p)),
		zap.Int64("tenant_id", task.TenantID),
	)
	return nil
}

// Delivery is a dequeued task plus the hooks to settle it.
type Delivery struct {
	Task    Task
	Attempt int // 0-based; first delivery is attempt 0

	msg *nats.Msg
}

// Ack marks the task done.
func (d *Delivery) Ack() error { return d.msg.Ack() }

// Retry schedules redelivery after the backoff for this attempt.
func (d *Delivery) Retry() error {
	return d.msg.NakWithDelay(RetryDelay(d.Attempt))
}

// Term drops the message without redelivery. Used after dead-lettering.
func (d *Delivery) Term() error { return d.msg.Term() }

// Consumer pulls tasks across priority lanes. High drains before default,
// default before low, but every poll cycle touches all three lanes so low
// never starves outright.
type Consumer struct {
	subs   [3]*nats.Subscription
	served atomic.Int64
	logger *logging.Logger
}

// forceLowEvery bounds low-lane starvation: after this many deliveries the
// next cycle polls low first even if high has a backlog.
const forceLowEvery = 16

// Consumer binds durable pull consumers for every lane. The durable name
// is shared across worker processes so they load-balance.
func (q *Queue) Consumer(durable string) (*Consumer, error) {
	lanes := [3]Priority{PriorityHigh, PriorityDefault, PriorityLow}
	c := &Consumer{logger: q.logger}
	for i, lane := range lanes {
		sub, err := q.js.PullSubscribe(
			subjectFor(lane),
			durable+"-"+string(lane),
			nats.AckExplicit(),
			nats.AckWait(consumerAckWait),
			nats.MaxDeliver(-1), // attempt budget enforced by the worker
		)
		if err != nil {
			return nil, fmt.Errorf("queue: subscribe %s: %w", subjectFor(lane), err)
		}
		c.subs[i] = sub
	}
	return c, nil
}

// Next blocks until a task is available or the context ends. Each cycle
// polls high, then default, then low with a short wait apiece; every
// forceLowEvery deliveries the order inverts once so a sustained
// high-lane backlog cannot starve low outright.
func (c *Consumer) Next(ctx context.Context) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		order := []*nats.Subscription{c.subs[0], c.subs[1], c.subs[2]}
		if n := c.served.Load(); n > 0 && n%forceLowEvery == 0 {
			order = []*nats.Subscription{c.subs[2], c.subs[0], c.subs[1]}
		}
		for _, sub := range order {
			msgs, err := sub.Fetch(1, nats.MaxWait(fetchWait))
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("queue: fetch: %w", err)
			}
			if len(msgs) == 0 {
				continue
			}
			c.served.Add(1)
			return c.toDelivery(msgs[0])
		}
	}
}

func (c *Consumer) toDelivery(msg *nats.Msg) (*Delivery, error) {
	var task Task
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		// Undecodable payloads can never succeed; drop them loudly.
		c.logger.Error(context.Background(), "dropping undecodable task", zap.Error(err))
		_ = msg.Term()
		return nil, fmt.Errorf("queue: decode task: %w", err)
	}
	attempt := 0
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered) - 1
	}
	return &Delivery{Task: task, Attempt: attempt, msg: msg}, nil
}

// Close drains the connection.
func (q *Queue) Close() {
	if err := q.nc.Drain(); err != nil {
		q.nc.Close()
	}
}
