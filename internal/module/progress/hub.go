package progress

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/clipforge/server/internal/shared/metrics"
)

// Source returns the current snapshot of a task.
// It must fail with an error matching errors.ErrNotFound for unknown ids.
type Source interface {
	Snapshot(ctx context.Context, taskID string) (Update, error)
}

// Config contains hub configuration.
type Config struct {
	Shards           int
	SubscriberBuffer int
}

// DefaultConfig returns the default hub configuration.
func DefaultConfig() *Config {
	return &Config{
		Shards:           32,
		SubscriberBuffer: 16,
	}
}

// Hub fans task updates out to subscribers.
// Subscriptions are partitioned into shards by task id so busy tasks do not
// contend with unrelated ones.
type Hub struct {
	source  Source
	shards  []*shard
	buffer  int
	nextID  atomic.Uint64
	open    atomic.Int64
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type shard struct {
	mu   sync.Mutex
	subs map[string]map[uint64]*Subscription
}

// NewHub creates a new progress hub.
func NewHub(source Source, logger *zap.Logger, m *metrics.Metrics, config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Shards <= 0 {
		config.Shards = 1
	}
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	shards := make([]*shard, config.Shards)
	for i := range shards {
		shards[i] = &shard{subs: make(map[string]map[uint64]*Subscription)}
	}

	return &Hub{
		source:  source,
		shards:  shards,
		buffer:  config.SubscriberBuffer,
		logger:  logger.Named("progress"),
		metrics: m,
	}
}

func (h *Hub) shardFor(taskID string) *shard {
	f := fnv.New32a()
	_, _ = f.Write([]byte(taskID))
	return h.shards[f.Sum32()%uint32(len(h.shards))]
}

// Subscribe opens a stream of updates for taskID.
// The current snapshot is always the first event. A terminal task yields that
// snapshot alone and the stream closes.
func (h *Hub) Subscribe(ctx context.Context, taskID string) (*Subscription, error) {
	sh := h.shardFor(taskID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	// Reading the snapshot under the shard lock means any publish racing with
	// us is either older than the snapshot or delivered after registration.
	snap, err := h.source.Snapshot(ctx, taskID)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		id:          h.nextID.Add(1),
		taskID:      taskID,
		hub:         h,
		ch:          make(chan Update, h.buffer),
		lastVersion: snap.Version,
	}
	sub.ch <- snap

	if snap.Terminal() {
		sub.closed = true
		close(sub.ch)
		return sub, nil
	}

	subs, ok := sh.subs[taskID]
	if !ok {
		subs = make(map[uint64]*Subscription)
		sh.subs[taskID] = subs
	}
	subs[sub.id] = sub
	h.open.Add(1)
	h.metrics.AddSubscribers(1)

	h.logger.Debug("subscribed",
		zap.String("task_id", taskID),
		zap.Uint64("subscription_id", sub.id))
	return sub, nil
}

// Unsubscribe closes the subscription. Safe to call repeatedly or after the
// stream already closed.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sh := h.shardFor(sub.taskID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sub.closed {
		return
	}
	if subs, ok := sh.subs[sub.taskID]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(sh.subs, sub.taskID)
		}
	}
	h.closeLocked(sub)
}

// Publish delivers u to every subscriber of its task without blocking.
// A terminal update closes and removes all of the task's subscriptions.
func (h *Hub) Publish(u Update) {
	sh := h.shardFor(u.TaskID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	subs := sh.subs[u.TaskID]
	for _, sub := range subs {
		if u.Version <= sub.lastVersion {
			continue
		}
		sub.lastVersion = u.Version
		h.deliver(sub, u)
	}

	if u.Terminal() {
		for _, sub := range subs {
			h.closeLocked(sub)
		}
		delete(sh.subs, u.TaskID)
	}
}

// Count returns the number of open subscriptions.
func (h *Hub) Count() int {
	return int(h.open.Load())
}

// deliver never blocks: when the buffer is full the oldest queued update is
// discarded in favour of the newer one. The hub is the only sender, so the
// loop always terminates.
func (h *Hub) deliver(sub *Subscription, u Update) {
	for {
		select {
		case sub.ch <- u:
			return
		default:
		}
		select {
		case <-sub.ch:
			h.metrics.RecordProgressDropped()
			h.logger.Debug("dropped update for slow subscriber",
				zap.String("task_id", sub.taskID),
				zap.Uint64("subscription_id", sub.id))
		default:
		}
	}
}

func (h *Hub) closeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	h.open.Add(-1)
	h.metrics.AddSubscribers(-1)
}

// Subscription is a handle on one task's update stream. It moves from open to
// closed exactly once and is never reopened.
type Subscription struct {
	id     uint64
	taskID string
	hub    *Hub
	ch     chan Update

	// guarded by the shard lock
	lastVersion uint64
	closed      bool
}

// TaskID returns the subscribed task id.
func (s *Subscription) TaskID() string { return s.taskID }

// Events returns the update stream. It is closed when the task reaches a
// terminal state or the subscription is closed.
func (s *Subscription) Events() <-chan Update { return s.ch }

// Close unsubscribes.
func (s *Subscription) Close() { s.hub.Unsubscribe(s) }
