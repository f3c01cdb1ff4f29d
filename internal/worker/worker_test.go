package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelworks/guildsight/internal/logging"
	"github.com/kestrelworks/guildsight/internal/queue"
)

type fakeDelivery struct {
	mu      sync.Mutex
	acked   bool
	retried bool
	termed  bool
	done    chan struct{}
}

func newFakeDelivery() *fakeDelivery {
	return &fakeDelivery{done: make(chan struct{})}
}

func (d *fakeDelivery) settle(f func()) error {
	d.mu.Lock()
	f()
	d.mu.Unlock()
	close(d.done)
	return nil
}

func (d *fakeDelivery) Ack() error   { return d.settle(func() { d.acked = true }) }
func (d *fakeDelivery) Retry() error { return d.settle(func() { d.retried = true }) }
func (d *fakeDelivery) Term() error  { return d.settle(func() { d.termed = true }) }

type queuedTask struct {
	task     queue.Task
	attempt  int
	delivery *fakeDelivery
}

type fakeSource struct {
	ch chan queuedTask
}

func (s *fakeSource) Next(ctx context.Context) (queue.Task, int, Delivery, error) {
	select {
	case <-ctx.Done():
		return queue.Task{}, 0, nil, ctx.Err()
	case qt := <-s.ch:
		return qt.task, qt.attempt, qt.delivery, nil
	}
}

type fakeDeadLetterer struct {
	mu    sync.Mutex
	tasks []queue.Task
	errs  []error
}

func (f *fakeDeadLetterer) DeadLetter(_ context.Context, task queue.Task, _ int, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	f.errs = append(f.errs, cause)
	return nil
}

func (f *fakeDeadLetterer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

// runOne pushes a single task through a one-worker pool and waits for it to
// be settled.
func runOne(t *testing.T, pool *Pool, source *fakeSource, task queue.Task, attempt int) *fakeDelivery {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	delivery := newFakeDelivery()
	source.ch <- queuedTask{task: task, attempt: attempt, delivery: delivery}

	select {
	case <-delivery.done:
	case <-time.After(5 * time.Second):
		t.Fatal("task was never settled")
	}
	cancel()
	<-done
	return delivery
}

func testPool(t *testing.T, cfg Config, dead DeadLetterer) (*Pool, *fakeSource) {
	t.Helper()
	logger, _ := logging.NewTestLogger()
	source := &fakeSource{ch: make(chan queuedTask, 8)}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}
	return NewPool(cfg, source, dead, logger), source
}

func mustTask(t *testing.T, kind string) queue.Task {
	t.Helper()
	task, err := queue.NewTask(kind, 42, map[string]any{})
	require.NoError(t, err)
	return task
}

func TestSuccessAcks(t *testing.T) {
	dead := &fakeDeadLetterer{}
	pool, source := testPool(t, Config{}, dead)
	pool.Register(queue.KindIndexSession, func(context.Context, queue.Task) error {
		return nil
	})

	d := runOne(t, pool, source, mustTask(t, queue.KindIndexSession), 0)
	assert.True(t, d.acked)
	assert.Zero(t, dead.count())
}

func TestTransientFailureRetries(t *testing.T) {
	dead := &fakeDeadLetterer{}
	pool, source := testPool(t, Config{}, dead)
	pool.Register(queue.KindIndexSession, func(context.Context, queue.Task) error {
		return errors.New("flaky downstream")
	})

	d := runOne(t, pool, source, mustTask(t, queue.KindIndexSession), 0)
	assert.True(t, d.retried)
	assert.Zero(t, dead.count())
}

func TestBudgetExhaustionDeadLetters(t *testing.T) {
	dead := &fakeDeadLetterer{}
	pool, source := testPool(t, Config{}, dead)
	pool.Register(queue.KindAsk, func(context.Context, queue.Task) error {
		return errors.New("still failing")
	})

	// KindAsk allows 3 attempts; this delivery is the third (0-based 2).
	d := runOne(t, pool, source, mustTask(t, queue.KindAsk), 2)
	assert.True(t, d.termed)
	assert.False(t, d.retried)
	require.Equal(t, 1, dead.count())
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	dead := &fakeDeadLetterer{}
	pool, source := testPool(t, Config{}, dead)
	cause := errors.New("row not found")
	pool.Register(queue.KindIndexSession, func(context.Context, queue.Task) error {
		return Permanent(cause)
	})

	d := runOne(t, pool, source, mustTask(t, queue.KindIndexSession), 0)
	assert.True(t, d.termed)
	require.Equal(t, 1, dead.count())
	assert.ErrorIs(t, dead.errs[0], cause)
}

func TestUnknownKindDeadLetters(t *testing.T) {
	dead := &fakeDeadLetterer{}
	pool, source := testPool(t, Config{}, dead)

	d := runOne(t, pool, source, mustTask(t, "no_such_kind"), 0)
	assert.True(t, d.termed)
	require.Equal(t, 1, dead.count())
	assert.ErrorIs(t, dead.errs[0], ErrNoHandler)
}

func TestExpiredDeadlineSkipsHandler(t *testing.T) {
	dead := &fakeDeadLetterer{}
	pool, source := testPool(t, Config{}, dead)
	invoked := false
	pool.Register(queue.KindBulkBackfill, func(context.Context, queue.Task) error {
		invoked = true
		return nil
	})

	task := mustTask(t, queue.KindBulkBackfill)
	past := time.Now().Add(-time.Hour)
	task.Deadline = &past

	d := runOne(t, pool, source, task, 0)
	assert.True(t, d.termed)
	assert.False(t, invoked)
	assert.Equal(t, 1, dead.count())
}

func TestHardLimitCancelsHandler(t *testing.T) {
	dead := &fakeDeadLetterer{}
	pool, source := testPool(t, Config{SoftLimit: 10 * time.Millisecond, HardLimit: 50 * time.Millisecond}, dead)
	pool.Register(queue.KindIndexSession, func(ctx context.Context, _ queue.Task) error {
		<-ctx.Done()
		return ctx.Err()
	})

	d := runOne(t, pool, source, mustTask(t, queue.KindIndexSession), 0)
	assert.True(t, d.retried, "a killed task consumes an attempt and retries")
}

func TestPermanentNilStaysNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	assert.False(t, IsPermanent(errors.New("plain")))
	assert.True(t, IsPermanent(Permanent(errors.New("x"))))
}
