package task

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	apperrors "github.com/clipforge/server/internal/shared/errors"
)

// errSkipUpdate aborts an Update without error and without bumping the version.
var errSkipUpdate = errors.New("skip update")

// Store holds the canonical state of every retained task.
type Store interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// Update applies fn atomically. fn returning an error leaves the task untouched.
	// On success the version is bumped and a copy of the new state returned.
	Update(ctx context.Context, id string, fn func(*Task) error) (*Task, error)
	List(ctx context.Context, filter *Filter) ([]*Task, error)
	// DeleteTerminalBefore removes terminal tasks last updated before cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
	Counts(ctx context.Context) (map[Status]int, error)
}

// memoryStore keeps tasks in process memory.
type memoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	now   func() time.Time
}

// NewMemoryStore creates an in-memory task store.
func NewMemoryStore() Store {
	return &memoryStore{
		tasks: make(map[string]*Task),
		now:   time.Now,
	}
}

func (s *memoryStore) Create(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return apperrors.Internal("duplicate task id "+t.ID, nil)
	}
	t.Version = 1
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, apperrors.NotFound("task", id)
	}
	return t.Clone(), nil
}

func (s *memoryStore) Update(_ context.Context, id string, fn func(*Task) error) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[id]
	if !ok {
		return nil, apperrors.NotFound("task", id)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return current.Clone(), err
	}
	if next.Status != current.Status && !current.Status.CanTransitionTo(next.Status) {
		return current.Clone(), apperrors.Internal("illegal transition "+string(current.Status)+" -> "+string(next.Status), nil)
	}
	if next.Status == StatusProcessing && next.Progress < current.Progress {
		next.Progress = current.Progress
	}

	next.Version = current.Version + 1
	next.UpdatedAt = s.now()
	s.tasks[id] = next
	return next.Clone(), nil
}

func (s *memoryStore) List(_ context.Context, filter *Filter) ([]*Task, error) {
	if filter == nil {
		filter = &Filter{}
	}

	s.mu.RLock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.Kind != nil && t.Kind != *filter.Kind {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memoryStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.tasks {
		if t.IsTerminal() && t.UpdatedAt.Before(cutoff) {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed, nil
}

func (s *memoryStore) Counts(_ context.Context) (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Status]int, 4)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}
