package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipforge/server/internal/module/progress"
	apperrors "github.com/clipforge/server/internal/shared/errors"
	"github.com/clipforge/server/internal/shared/metrics"
)

// ErrAlreadyTerminal is returned by Cancel for tasks that already finished.
var ErrAlreadyTerminal = errors.New("task already in terminal state")

// Publisher receives every state change of every task.
type Publisher interface {
	Publish(u progress.Update)
}

// Config contains manager configuration.
type Config struct {
	Workers      int
	QueueCeiling int
	Retention    time.Duration
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() *Config {
	return &Config{
		Workers:      4,
		QueueCeiling: 100,
		Retention:    time.Hour,
	}
}

// Manager owns task state and runs tasks on a fixed pool of workers.
type Manager struct {
	mu sync.RWMutex

	store     Store
	publisher Publisher
	pipelines map[Kind]*Pipeline
	logger    *zap.Logger
	metrics   *metrics.Metrics
	config    *Config
	now       func() time.Time

	queue    *queue
	admitMu  sync.Mutex
	running  map[string]*atomic.Bool // cancellation flags of executing tasks
	active   atomic.Int64
	accepted atomic.Bool

	// Lifecycle
	runCtx    context.Context
	cancelRun context.CancelFunc
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewManager creates a new task manager.
func NewManager(store Store, publisher Publisher, logger *zap.Logger, m *metrics.Metrics, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     store,
		publisher: publisher,
		pipelines: make(map[Kind]*Pipeline),
		logger:    logger.Named("task-manager"),
		metrics:   m,
		config:    config,
		now:       time.Now,
		queue:     newQueue(),
		running:   make(map[string]*atomic.Bool),
		runCtx:    runCtx,
		cancelRun: cancel,
		stopCh:    make(chan struct{}),
	}
}

// RegisterPipeline registers the pipeline executed for kind.
func (m *Manager) RegisterPipeline(kind Kind, p *Pipeline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipelines[kind] = p
	m.logger.Debug("registered pipeline",
		zap.String("kind", string(kind)),
		zap.Int("steps", len(p.Steps)))
}

// SetPublisher sets the progress publisher. Must be called before Start.
func (m *Manager) SetPublisher(p Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publisher = p
}

// Start launches the worker pool.
func (m *Manager) Start() {
	m.logger.Info("starting task manager",
		zap.Int("workers", m.config.Workers),
		zap.Int("queue_ceiling", m.config.QueueCeiling),
		zap.Duration("retention", m.config.Retention))

	m.accepted.Store(true)
	for i := 0; i < m.config.Workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}
}

// Stop stops accepting work and waits for running tasks to finish. When ctx
// expires first, in-flight provider calls are cancelled.
func (m *Manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping task manager")
	m.accepted.Store(false)
	m.stopOnce.Do(func() { close(m.stopCh) })

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancelRun()
		m.logger.Info("task manager stopped")
		return nil
	case <-ctx.Done():
		m.cancelRun()
		<-done
		m.logger.Warn("task manager stopped after cancelling running tasks")
		return ctx.Err()
	}
}

// Submit validates params, creates a pending task and enqueues it.
// It never waits for execution.
func (m *Manager) Submit(ctx context.Context, kind Kind, params Params) (string, error) {
	m.mu.RLock()
	pipeline, ok := m.pipelines[kind]
	m.mu.RUnlock()
	if !ok {
		m.metrics.RecordTaskRejected(string(kind), "invalid_params")
		return "", apperrors.InvalidParams("unsupported task kind %q", kind)
	}

	if pipeline.Validate != nil {
		normalized, err := pipeline.Validate(params)
		if err != nil {
			m.metrics.RecordTaskRejected(string(kind), "invalid_params")
			return "", err
		}
		params = normalized
	}

	if !m.accepted.Load() {
		m.metrics.RecordTaskRejected(string(kind), "overloaded")
		return "", apperrors.Unavailable("task manager is not accepting work")
	}

	// Only Submit grows the queue, so the check and the push cannot be
	// overtaken by another admission.
	m.admitMu.Lock()
	defer m.admitMu.Unlock()

	if waiting := m.queue.len(); waiting >= m.config.QueueCeiling {
		m.metrics.RecordTaskRejected(string(kind), "overloaded")
		m.logger.Warn("rejecting submission, queue full",
			zap.String("kind", string(kind)),
			zap.Int("waiting", waiting))
		return "", apperrors.Overloaded(waiting, m.config.QueueCeiling)
	}

	now := m.now()
	t := &Task{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    StatusPending,
		Message:   "queued",
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Create(ctx, t); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	m.queue.push(t.ID)

	m.metrics.RecordTaskSubmitted(string(kind))
	m.updateQueueGauge()
	m.logger.Debug("task submitted",
		zap.String("task_id", t.ID),
		zap.String("kind", string(kind)))
	return t.ID, nil
}

// GetStatus returns a snapshot of the task.
func (m *Manager) GetStatus(ctx context.Context, id string) (*Task, error) {
	return m.store.Get(ctx, id)
}

// Snapshot returns the task as a progress update.
func (m *Manager) Snapshot(ctx context.Context, id string) (progress.Update, error) {
	t, err := m.store.Get(ctx, id)
	if err != nil {
		return progress.Update{}, err
	}
	return t.ToUpdate(), nil
}

// List lists retained tasks, newest first.
func (m *Manager) List(ctx context.Context, filter *Filter) ([]*Task, error) {
	return m.store.List(ctx, filter)
}

// Cancel fails a pending task immediately, or flags a running task so its
// worker stops before the next step. In-flight provider calls are not
// interrupted.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.queue.remove(id)

	var wasProcessing bool
	t, err := m.store.Update(ctx, id, func(t *Task) error {
		switch t.Status {
		case StatusPending:
			applyFailure(t, apperrors.Cancelled("task cancelled before it started"), m.now())
			return nil
		case StatusProcessing:
			wasProcessing = true
			return errSkipUpdate
		default:
			return ErrAlreadyTerminal
		}
	})
	switch {
	case errors.Is(err, errSkipUpdate):
	case err != nil:
		return err
	default:
		m.logger.Debug("pending task cancelled", zap.String("task_id", id))
		m.finished(t)
		return nil
	}

	if wasProcessing {
		m.mu.RLock()
		flag, ok := m.running[id]
		m.mu.RUnlock()
		if ok {
			flag.Store(true)
		}
		m.logger.Debug("cancellation requested", zap.String("task_id", id))
	}
	return nil
}

// ClearQueue discards every task that has not started yet.
func (m *Manager) ClearQueue(ctx context.Context) (int, error) {
	ids := m.queue.drain()
	discarded := 0
	for _, id := range ids {
		t, err := m.store.Update(ctx, id, func(t *Task) error {
			if t.Status != StatusPending {
				return errSkipUpdate
			}
			applyFailure(t, apperrors.Discarded("discarded from queue"), m.now())
			return nil
		})
		if err != nil {
			continue
		}
		discarded++
		m.finished(t)
	}

	m.logger.Info("queue cleared", zap.Int("discarded", discarded))
	return discarded, nil
}

// Stats returns current queue depth counts.
func (m *Manager) Stats(ctx context.Context) (QueueStats, error) {
	counts, err := m.store.Counts(ctx)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{
		Active:    counts[StatusProcessing],
		Waiting:   counts[StatusPending],
		Completed: counts[StatusCompleted],
		Failed:    counts[StatusFailed],
	}
	stats.Total = stats.Active + stats.Waiting + stats.Completed + stats.Failed
	return stats, nil
}

// Sweep removes terminal tasks whose retention window has passed.
func (m *Manager) Sweep(ctx context.Context) int {
	cutoff := m.now().Add(-m.config.Retention)
	removed, err := m.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		m.logger.Warn("retention sweep failed", zap.Error(err))
		return 0
	}
	if removed > 0 {
		m.metrics.RecordSwept(removed)
		m.logger.Debug("swept expired tasks", zap.Int("count", removed))
	}
	return removed
}

func (m *Manager) worker(n int) {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		id, ok := m.queue.pop()
		if !ok {
			select {
			case <-m.stopCh:
				return
			case <-m.queue.ready:
				continue
			}
		}

		m.active.Add(1)
		m.updateQueueGauge()
		m.execute(id)
		m.active.Add(-1)
		m.updateQueueGauge()
	}
}

// execute runs one task from pending to a terminal state.
func (m *Manager) execute(id string) {
	ctx := m.runCtx

	flag := &atomic.Bool{}
	m.mu.Lock()
	m.running[id] = flag
	pipelines := m.pipelines
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.running, id)
		m.mu.Unlock()
	}()

	started := m.now()
	t, err := m.store.Update(ctx, id, func(t *Task) error {
		if t.Status != StatusPending {
			return errSkipUpdate
		}
		t.Status = StatusProcessing
		t.StartedAt = &started
		if p, ok := pipelines[t.Kind]; ok && len(p.Steps) > 0 {
			t.Message = p.Steps[0].Name
		}
		return nil
	})
	if err != nil {
		// Cancelled, discarded or swept before a worker reached it.
		return
	}
	m.publish(t)

	pipeline, ok := pipelines[t.Kind]
	if !ok || len(pipeline.Steps) == 0 {
		m.fail(ctx, id, apperrors.Internal("no pipeline registered for kind "+string(t.Kind), nil))
		return
	}

	log := m.logger.With(zap.String("task_id", id), zap.String("kind", string(t.Kind)))
	log.Debug("task started")

	total := pipeline.totalWeight()
	done := 0
	var current Step

	exec := newExecution(t, func(fraction float64, message string) {
		if message == "" {
			message = current.Name
		}
		pct := (float64(done) + fraction*float64(stepWeight(current))) * 100 / float64(total)
		m.advance(ctx, id, int(pct), message, started)
	})

	for i, step := range pipeline.Steps {
		if flag.Load() {
			log.Debug("task cancelled between steps", zap.String("next_step", step.Name))
			m.fail(ctx, id, apperrors.Cancelled("task cancelled"))
			return
		}

		current = step
		stepStart := m.now()
		if err := m.runStep(ctx, step, exec); err != nil {
			log.Warn("step failed", zap.String("step", step.Name), zap.Error(err))
			m.fail(ctx, id, err)
			return
		}
		m.metrics.RecordStep(string(t.Kind), step.Name, m.now().Sub(stepStart))

		done += stepWeight(step)
		if i+1 < len(pipeline.Steps) {
			m.advance(ctx, id, done*100/total, pipeline.Steps[i+1].Name, started)
		}
	}

	m.complete(ctx, id, exec.Result())
	log.Debug("task completed", zap.Duration("elapsed", m.now().Sub(started)))
}

// runStep converts a panicking step into a failure.
func (m *Manager) runStep(ctx context.Context, step Step, exec *Execution) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Internal(fmt.Sprintf("step %q panicked: %v", step.Name, r), nil)
		}
	}()
	return step.Run(ctx, exec)
}

// advance records in-flight progress. Progress never exceeds 99 before
// completion and never goes backwards.
func (m *Manager) advance(ctx context.Context, id string, pct int, message string, started time.Time) {
	if pct > 99 {
		pct = 99
	}
	t, err := m.store.Update(ctx, id, func(t *Task) error {
		if t.Status != StatusProcessing {
			return errSkipUpdate
		}
		if pct > t.Progress {
			t.Progress = pct
		}
		t.Message = message
		t.EstimatedTimeRemaining = estimateRemaining(m.now().Sub(started), t.Progress)
		return nil
	})
	if err != nil {
		return
	}
	m.publish(t)
}

func (m *Manager) complete(ctx context.Context, id string, result map[string]any) {
	now := m.now()
	t, err := m.store.Update(ctx, id, func(t *Task) error {
		t.Status = StatusCompleted
		t.Progress = 100
		t.Message = "completed"
		t.Result = result
		t.EstimatedTimeRemaining = nil
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		m.logger.Error("failed to complete task", zap.String("task_id", id), zap.Error(err))
		return
	}
	m.finished(t)
}

func (m *Manager) fail(ctx context.Context, id string, cause error) {
	t, err := m.store.Update(ctx, id, func(t *Task) error {
		if t.IsTerminal() {
			return errSkipUpdate
		}
		applyFailure(t, cause, m.now())
		return nil
	})
	if err != nil {
		return
	}
	m.finished(t)
}

func (m *Manager) finished(t *Task) {
	m.metrics.RecordTaskFinished(string(t.Kind), string(t.Status), t.ErrorCode)
	m.updateQueueGauge()
	m.publish(t)
}

func (m *Manager) publish(t *Task) {
	m.mu.RLock()
	p := m.publisher
	m.mu.RUnlock()
	if p != nil {
		p.Publish(t.ToUpdate())
	}
}

func (m *Manager) updateQueueGauge() {
	m.metrics.SetQueueDepth(m.queue.len(), int(m.active.Load()))
}

// applyFailure moves t to failed. Progress stays where it was.
func applyFailure(t *Task, cause error, now time.Time) {
	t.Status = StatusFailed
	t.Error = apperrors.Message(cause)
	t.ErrorCode = apperrors.Code(cause)
	t.Message = "failed"
	t.Result = nil
	t.EstimatedTimeRemaining = nil
	t.CompletedAt = &now
}

// estimateRemaining extrapolates linearly from the elapsed time.
func estimateRemaining(elapsed time.Duration, pct int) *int {
	if pct <= 0 || pct >= 100 {
		return nil
	}
	secs := int(elapsed.Seconds() * float64(100-pct) / float64(pct))
	return &secs
}
