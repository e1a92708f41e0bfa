package analytics

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clipforge/server/internal/shared/metrics"
)

// Config contains recorder configuration.
type Config struct {
	BufferSize   int
	WriteTimeout time.Duration
	TopSegments  int
	// SegmentWidth is the bucket size, in seconds, for popular segments.
	SegmentWidth float64
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		BufferSize:   1000,
		WriteTimeout: 5 * time.Second,
		TopSegments:  5,
		SegmentWidth: 10,
	}
}

type record struct {
	view  *View
	event *Event
}

func (r record) kind() string {
	if r.view != nil {
		return EventView
	}
	return r.event.Type
}

// Recorder records analytics asynchronously through a bounded buffer.
type Recorder struct {
	repo    Repository
	counter Counter
	logger  *zap.Logger
	metrics *metrics.Metrics
	config  *Config
	now     func() time.Time

	buffer chan record
	wg     sync.WaitGroup
	done   chan struct{}
	// mu orders enqueues before the final drain: sends hold it shared,
	// Close takes it exclusively to flip closed.
	mu     sync.RWMutex
	closed bool
}

// NewRecorder creates a recorder and starts its writer. counter may be nil.
func NewRecorder(repo Repository, counter Counter, logger *zap.Logger, m *metrics.Metrics, config *Config) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{
		repo:    repo,
		counter: counter,
		logger:  logger.Named("analytics"),
		metrics: m,
		config:  config,
		now:     time.Now,
		buffer:  make(chan record, config.BufferSize),
		done:    make(chan struct{}),
	}
	r.start()
	return r
}

// RecordView queues a view. It never blocks.
func (r *Recorder) RecordView(videoID string, v ViewRecord) {
	ts := v.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}
	r.enqueue(record{view: &View{
		VideoID:   videoID,
		SessionID: v.SessionID,
		WatchTime: math.Max(v.WatchTime, 0),
		Duration:  math.Max(v.Duration, 0),
		Completed: v.Completed,
		UserAgent: v.UserAgent,
		Referrer:  v.Referrer,
		CreatedAt: ts,
	}})
}

// RecordEvent queues an event. It never blocks.
func (r *Recorder) RecordEvent(videoID string, e EventRecord) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}
	var data string
	if len(e.Data) > 0 {
		if raw, err := json.Marshal(e.Data); err == nil {
			data = string(raw)
		}
	}
	r.enqueue(record{event: &Event{
		VideoID:   videoID,
		Type:      e.Type,
		SessionID: e.SessionID,
		Position:  math.Max(e.Position, 0),
		Data:      data,
		CreatedAt: ts,
	}})
}

func (r *Recorder) enqueue(rec record) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.metrics.RecordAnalytics(rec.kind(), "dropped")
		return
	}
	select {
	case r.buffer <- rec:
	default:
		r.metrics.RecordAnalytics(rec.kind(), "dropped")
		r.logger.Warn("analytics buffer full, dropping record",
			zap.String("type", rec.kind()))
	}
}

// Close stops the recorder and flushes remaining records.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case rec := <-r.buffer:
				r.persist(rec)
			case <-r.done:
				for {
					select {
					case rec := <-r.buffer:
						r.persist(rec)
					default:
						return
					}
				}
			}
		}
	}()
}

func (r *Recorder) persist(rec record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	var (
		videoID string
		deltas  map[string]int64
		err     error
	)
	if rec.view != nil {
		videoID = rec.view.VideoID
		err = r.repo.CreateView(ctx, rec.view)
		deltas = map[string]int64{
			CounterViews:       1,
			CounterWatchMillis: int64(rec.view.WatchTime * 1000),
		}
		if rec.view.Completed {
			deltas[CounterCompletions] = 1
		}
	} else {
		videoID = rec.event.VideoID
		err = r.repo.CreateEvent(ctx, rec.event)
		deltas = map[string]int64{"event:" + rec.event.Type: 1}
		switch rec.event.Type {
		case EventShare:
			deltas[CounterShares] = 1
		case EventDownload:
			deltas[CounterDownloads] = 1
		}
	}

	if err != nil {
		r.metrics.RecordAnalytics(rec.kind(), "failed")
		r.logger.Error("failed to persist analytics record",
			zap.String("video_id", videoID),
			zap.String("type", rec.kind()),
			zap.Error(err))
		return
	}
	r.metrics.RecordAnalytics(rec.kind(), "persisted")

	if r.counter != nil {
		if err := r.counter.Incr(ctx, videoID, deltas); err != nil {
			r.logger.Warn("failed to bump analytics counters",
				zap.String("video_id", videoID),
				zap.Error(err))
		}
	}
}

// GetStats aggregates the analytics of videoID. Storage failures degrade to
// an empty aggregate.
func (r *Recorder) GetStats(ctx context.Context, videoID string) *Stats {
	stats := &Stats{VideoID: videoID, TopSegments: []Segment{}}
	log := r.logger.With(zap.String("video_id", videoID))

	counters := r.counters(ctx, videoID)
	if counters != nil {
		stats.Views = counters[CounterViews]
		stats.Completions = counters[CounterCompletions]
		stats.Shares = counters[CounterShares]
		stats.Downloads = counters[CounterDownloads]
		if stats.Views > 0 {
			stats.AverageWatchTime = round2(float64(counters[CounterWatchMillis]) / 1000 / float64(stats.Views))
		}
		stats.Events = eventCounters(counters)
	} else {
		summary, err := r.repo.ViewSummary(ctx, videoID)
		if err != nil {
			log.Warn("failed to load view summary", zap.Error(err))
			return stats
		}
		stats.Views = summary.Views
		stats.Completions = summary.Completions
		if summary.Views > 0 {
			stats.AverageWatchTime = round2(summary.TotalWatchTime / float64(summary.Views))
		}

		events, err := r.repo.EventCounts(ctx, videoID)
		if err != nil {
			log.Warn("failed to load event counts", zap.Error(err))
		} else {
			stats.Shares = events[EventShare]
			stats.Downloads = events[EventDownload]
			if len(events) > 0 {
				stats.Events = events
			}
		}
	}
	if stats.Views > 0 {
		stats.CompletionRate = round2(float64(stats.Completions) / float64(stats.Views))
	}

	positions, err := r.repo.EventPositions(ctx, videoID, []string{EventProgress, EventSeek, EventPlay})
	if err != nil {
		log.Warn("failed to scan segments", zap.Error(err))
		return stats
	}
	stats.TopSegments = topSegments(positions, r.config.SegmentWidth, r.config.TopSegments)
	return stats
}

// counters returns nil when no counter is configured, it fails, or it has
// nothing for videoID, so the caller falls back to a scan.
func (r *Recorder) counters(ctx context.Context, videoID string) map[string]int64 {
	if r.counter == nil {
		return nil
	}
	c, err := r.counter.Get(ctx, videoID)
	if err != nil {
		r.logger.Warn("failed to read analytics counters", zap.String("video_id", videoID), zap.Error(err))
		return nil
	}
	if len(c) == 0 {
		return nil
	}
	return c
}

func eventCounters(counters map[string]int64) map[string]int64 {
	out := make(map[string]int64)
	for k, v := range counters {
		if len(k) > 6 && k[:6] == "event:" {
			out[k[6:]] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// topSegments buckets positions into fixed-width segments and returns the
// most watched ones, earliest first on ties.
func topSegments(positions []float64, width float64, limit int) []Segment {
	if width <= 0 {
		width = 10
	}
	buckets := make(map[int64]int64)
	for _, p := range positions {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			continue
		}
		buckets[int64(p/width)]++
	}

	out := make([]Segment, 0, len(buckets))
	for idx, n := range buckets {
		start := float64(idx) * width
		out = append(out, Segment{Start: start, End: start + width, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Start < out[j].Start
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
