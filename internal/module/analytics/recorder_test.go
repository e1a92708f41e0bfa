package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/clipforge/server/internal/shared/metrics"
)

// MockRepository keeps records in memory.
type MockRepository struct {
	mu     sync.Mutex
	views  []*View
	events []*Event
	err    error
	block  chan struct{}
}

func (m *MockRepository) CreateView(_ context.Context, v *View) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.views = append(m.views, v)
	return nil
}

func (m *MockRepository) CreateEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *MockRepository) ViewSummary(_ context.Context, videoID string) (*ViewSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s := &ViewSummary{}
	for _, v := range m.views {
		if v.VideoID != videoID {
			continue
		}
		s.Views++
		s.TotalWatchTime += v.WatchTime
		if v.Completed {
			s.Completions++
		}
	}
	return s, nil
}

func (m *MockRepository) EventCounts(_ context.Context, videoID string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]int64)
	for _, e := range m.events {
		if e.VideoID == videoID {
			out[e.Type]++
		}
	}
	return out, nil
}

func (m *MockRepository) EventPositions(_ context.Context, videoID string, types []string) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	want := make(map[string]bool)
	for _, t := range types {
		want[t] = true
	}
	var out []float64
	for _, e := range m.events {
		if e.VideoID == videoID && want[e.Type] {
			out = append(out, e.Position)
		}
	}
	return out, nil
}

// MockCounter is an in-memory Counter.
type MockCounter struct {
	mu     sync.Mutex
	values map[string]map[string]int64
	err    error
}

func NewMockCounter() *MockCounter {
	return &MockCounter{values: make(map[string]map[string]int64)}
}

func (c *MockCounter) Incr(_ context.Context, videoID string, deltas map[string]int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	v, ok := c.values[videoID]
	if !ok {
		v = make(map[string]int64)
		c.values[videoID] = v
	}
	for k, d := range deltas {
		v[k] += d
	}
	return nil
}

func (c *MockCounter) Get(_ context.Context, videoID string) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	out := make(map[string]int64)
	for k, v := range c.values[videoID] {
		out[k] = v
	}
	return out, nil
}

func seed(r *Recorder) {
	r.RecordView("v1", ViewRecord{SessionID: "a", WatchTime: 30, Duration: 60, Completed: false})
	r.RecordView("v1", ViewRecord{SessionID: "b", WatchTime: 60, Duration: 60, Completed: true})
	r.RecordView("v2", ViewRecord{SessionID: "c", WatchTime: 10, Duration: 60})
	r.RecordEvent("v1", EventRecord{Type: EventShare})
	r.RecordEvent("v1", EventRecord{Type: EventDownload})
	r.RecordEvent("v1", EventRecord{Type: EventDownload})
	for _, pos := range []float64{5, 12, 15, 18, 42} {
		r.RecordEvent("v1", EventRecord{Type: EventProgress, Position: pos, Data: map[string]any{"quality": "720p"}})
	}
}

func TestRecorder_GetStats(t *testing.T) {
	ctx := context.Background()

	t.Run("from full scan", func(t *testing.T) {
		repo := &MockRepository{}
		r := NewRecorder(repo, nil, nil, nil, nil)
		seed(r)
		r.Close()

		stats := r.GetStats(ctx, "v1")
		assert.Equal(t, int64(2), stats.Views)
		assert.Equal(t, int64(1), stats.Completions)
		assert.Equal(t, 0.5, stats.CompletionRate)
		assert.Equal(t, 45.0, stats.AverageWatchTime)
		assert.Equal(t, int64(1), stats.Shares)
		assert.Equal(t, int64(2), stats.Downloads)
		require.NotEmpty(t, stats.TopSegments)
		assert.Equal(t, Segment{Start: 10, End: 20, Count: 3}, stats.TopSegments[0])
		assert.Equal(t, `{"quality":"720p"}`, repo.events[len(repo.events)-1].Data)
	})

	t.Run("from counters", func(t *testing.T) {
		counter := NewMockCounter()
		r := NewRecorder(&MockRepository{}, counter, nil, nil, nil)
		seed(r)
		r.Close()

		stats := r.GetStats(ctx, "v1")
		assert.Equal(t, int64(2), stats.Views)
		assert.Equal(t, int64(1), stats.Completions)
		assert.Equal(t, 45.0, stats.AverageWatchTime)
		assert.Equal(t, int64(2), stats.Downloads)
		assert.Equal(t, int64(5), stats.Events[EventProgress])
		assert.Len(t, stats.TopSegments, 3)
	})

	t.Run("counter failure falls back to scan", func(t *testing.T) {
		counter := NewMockCounter()
		r := NewRecorder(&MockRepository{}, counter, nil, nil, nil)
		seed(r)
		r.Close()
		counter.err = errors.New("redis down")

		stats := r.GetStats(ctx, "v1")
		assert.Equal(t, int64(2), stats.Views)
	})

	t.Run("storage errors degrade to empty stats", func(t *testing.T) {
		repo := &MockRepository{err: errors.New("db down")}
		r := NewRecorder(repo, nil, nil, nil, nil)
		r.Close()

		stats := r.GetStats(ctx, "v1")
		require.NotNil(t, stats)
		assert.Equal(t, "v1", stats.VideoID)
		assert.Zero(t, stats.Views)
		assert.Empty(t, stats.TopSegments)
	})

	t.Run("unknown video", func(t *testing.T) {
		r := NewRecorder(&MockRepository{}, nil, nil, nil, nil)
		r.Close()

		stats := r.GetStats(ctx, "nope")
		assert.Zero(t, stats.Views)
		assert.Zero(t, stats.CompletionRate)
	})
}

func TestRecorder_Failures(t *testing.T) {
	t.Run("persist errors are logged not returned", func(t *testing.T) {
		core, logs := observer.New(zap.ErrorLevel)
		reg := prometheus.NewRegistry()
		met := metrics.NewWithRegisterer("test", reg)
		repo := &MockRepository{err: errors.New("disk full")}

		r := NewRecorder(repo, nil, zap.New(core), met, nil)
		r.RecordView("v1", ViewRecord{WatchTime: 3})
		r.Close()

		assert.Equal(t, 1, logs.FilterMessage("failed to persist analytics record").Len())
		assert.Equal(t, 1.0, testutil.ToFloat64(met.AnalyticsRecordsTotal.WithLabelValues(EventView, "failed")))
	})

	t.Run("full buffer drops without blocking", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		met := metrics.NewWithRegisterer("test", reg)
		repo := &MockRepository{block: make(chan struct{})}

		r := NewRecorder(repo, nil, nil, met, &Config{BufferSize: 1, WriteTimeout: time.Second})
		done := make(chan struct{})
		go func() {
			for i := 0; i < 10; i++ {
				r.RecordView("v1", ViewRecord{})
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("RecordView blocked")
		}
		assert.GreaterOrEqual(t, testutil.ToFloat64(met.AnalyticsRecordsTotal.WithLabelValues(EventView, "dropped")), 8.0)

		close(repo.block)
		r.Close()
	})

	t.Run("records after close are dropped", func(t *testing.T) {
		repo := &MockRepository{}
		r := NewRecorder(repo, nil, nil, nil, nil)
		r.Close()
		r.Close()

		assert.NotPanics(t, func() { r.RecordEvent("v1", EventRecord{Type: EventPlay}) })
		assert.Empty(t, repo.events)
	})
}

func TestRecorder_CloseDuringWrites(t *testing.T) {
	const writers, perWriter = 8, 200
	reg := prometheus.NewRegistry()
	met := metrics.NewWithRegisterer("test", reg)
	repo := &MockRepository{}
	r := NewRecorder(repo, nil, nil, met, &Config{BufferSize: 64, WriteTimeout: time.Second})

	var wg sync.WaitGroup
	start := make(chan struct{})
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < perWriter; i++ {
				r.RecordView("v1", ViewRecord{WatchTime: 1})
			}
		}()
	}
	close(start)
	time.Sleep(time.Millisecond)
	r.Close()
	wg.Wait()

	repo.mu.Lock()
	persisted := len(repo.views)
	repo.mu.Unlock()
	dropped := testutil.ToFloat64(met.AnalyticsRecordsTotal.WithLabelValues(EventView, "dropped"))

	assert.Equal(t, float64(writers*perWriter), float64(persisted)+dropped)
	assert.Equal(t, float64(persisted), testutil.ToFloat64(met.AnalyticsRecordsTotal.WithLabelValues(EventView, "persisted")))
}

func TestTopSegments(t *testing.T) {
	segs := topSegments([]float64{1, 2, 11, 25, 26, 27, -1}, 10, 2)
	require.Len(t, segs, 2)
	assert.Equal(t, Segment{Start: 20, End: 30, Count: 3}, segs[0])
	assert.Equal(t, Segment{Start: 0, End: 10, Count: 2}, segs[1])

	assert.Empty(t, topSegments(nil, 10, 5))
}
