package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DeadTask is the envelope stored on the dead-letter subject when a task
// exhausts its attempt budget or passes its deadline.
type DeadTask struct {
	Task     Task      `json:"task"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failed_at"`
}

// DeadLetter records a permanently failed task. The original delivery must
// still be settled (Term) by the caller after this succeeds, so a crash
// between the two redelivers rather than loses the task.
func (q *Queue) DeadLetter(ctx context.Context, task Task, attempts int, cause error) error {
	dead := DeadTask{
		Task:     task,
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
	}
	if cause != nil {
		dead.Error = cause.Error()
	}
	data, err := json.Marshal(dead)
	if err != nil {
		return fmt.Errorf("%w: marshal dead task: %v", ErrPublishFailed, err)
	}
	if _, err := q.js.Publish(DeadSubject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	q.logger.Warn(ctx, "task dead-lettered",
		zap.String("kind", task.Kind),
		zap.String("task_id", task.ID),
		zap.Int("attempts", attempts),
		zap.String("error", dead.Error),
	)
	return nil
}

// DeadTasks pages through the dead-letter stream without consuming it,
// newest last. Operators use this to inspect failures before a retry or
// drain decision.
func (q *Queue) DeadTasks(ctx context.Context, limit int) ([]DeadTask, error) {
	if limit <= 0 {
		limit = 100
	}
	// An ordered push consumer reads a copy of the stream without
	// consuming it.
	sub, err := q.js.SubscribeSync(DeadSubject,
		nats.OrderedConsumer(),
		nats.DeliverAll(),
	)
	if err != nil {
		return nil, fmt.Errorf("queue: inspect dead letters: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	out := make([]DeadTask, 0, limit)
	for len(out) < limit {
		msg, err := sub.NextMsg(fetchWait)
		if errors.Is(err, nats.ErrTimeout) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("queue: inspect dead letters: %w", err)
		}
		var dead DeadTask
		if err := json.Unmarshal(msg.Data, &dead); err != nil {
			continue
		}
		out = append(out, dead)
	}
	return out, nil
}

// RetryDead re-enqueues every dead task matching kind (empty kind matches
// all) with a fresh id, then acks it out of the dead stream. Returns how
// many were requeued.
func (q *Queue) RetryDead(ctx context.Context, kind string) (int, error) {
	sub, err := q.js.PullSubscribe(DeadSubject, "",
		nats.AckExplicit(),
		nats.DeliverAll(),
	)
	if err != nil {
		return 0, fmt.Errorf("queue: retry dead letters: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	requeued := 0
	for {
		msgs, err := sub.Fetch(50, nats.MaxWait(fetchWait))
		if errors.Is(err, nats.ErrTimeout) {
			return requeued, nil
		}
		if err != nil {
			return requeued, fmt.Errorf("queue: retry dead letters: %w", err)
		}
		for _, msg := range msgs {
			var dead DeadTask
			if err := json.Unmarshal(msg.Data, &dead); err != nil {
				_ = msg.Term()
				continue
			}
			if kind != "" && dead.Task.Kind != kind {
				_ = msg.Nak()
				continue
			}
			task, err := NewTask(dead.Task.Kind, dead.Task.TenantID, nil)
			if err != nil {
				_ = msg.Nak()
				continue
			}
			task.Payload = dead.Task.Payload
			if err := q.Enqueue(ctx, task); err != nil {
				_ = msg.Nak()
				return requeued, err
			}
			_ = msg.Ack()
			requeued++
		}
	}
}

// DrainDead discards every dead task, returning how many were dropped.
func (q *Queue) DrainDead(ctx context.Context) (int, error) {
	dropped := 0
	if info, err := q.js.StreamInfo(deadStreamName); err == nil {
		dropped = int(info.State.Msgs)
	}
	if err := q.js.PurgeStream(deadStreamName, nats.Context(ctx)); err != nil {
		return 0, fmt.Errorf("queue: drain dead letters: %w", err)
	}
	return dropped, nil
}
