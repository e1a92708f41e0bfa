// Package analytics records playback and usage events for generated media.
// Recording is best effort and never fails the caller.
package analytics

import (
	"context"
	"time"
)

// Event types.
const (
	EventView     = "view"
	EventPlay     = "play"
	EventPause    = "pause"
	EventSeek     = "seek"
	EventProgress = "progress"
	EventComplete = "complete"
	EventShare    = "share"
	EventDownload = "download"
)

// ViewRecord is one playback session of a video.
type ViewRecord struct {
	SessionID string
	// WatchTime and Duration are in seconds.
	WatchTime float64
	Duration  float64
	Completed bool
	UserAgent string
	Referrer  string
	Timestamp time.Time
}

// EventRecord is one interaction with a video.
type EventRecord struct {
	Type      string
	SessionID string
	// Position is the playback position in seconds, when relevant.
	Position  float64
	Data      map[string]any
	Timestamp time.Time
}

// View is the persisted form of a ViewRecord.
type View struct {
	ID        uint64    `gorm:"primaryKey"`
	VideoID   string    `gorm:"size:64;not null;index"`
	SessionID string    `gorm:"size:64"`
	WatchTime float64   `gorm:"not null;default:0"`
	Duration  float64   `gorm:"not null;default:0"`
	Completed bool      `gorm:"not null;default:false"`
	UserAgent string    `gorm:"size:512"`
	Referrer  string    `gorm:"size:512"`
	CreatedAt time.Time `gorm:"not null;index"`
}

// TableName returns the table name.
func (View) TableName() string { return "analytics_views" }

// Event is the persisted form of an EventRecord.
type Event struct {
	ID        uint64    `gorm:"primaryKey"`
	VideoID   string    `gorm:"size:64;not null;index:idx_analytics_events_video_type"`
	Type      string    `gorm:"size:32;not null;index:idx_analytics_events_video_type"`
	SessionID string    `gorm:"size:64"`
	Position  float64   `gorm:"not null;default:0"`
	Data      string    `gorm:"type:text"` // JSON
	CreatedAt time.Time `gorm:"not null;index"`
}

// TableName returns the table name.
func (Event) TableName() string { return "analytics_events" }

// ViewSummary aggregates the views of one video.
type ViewSummary struct {
	Views          int64
	Completions    int64
	TotalWatchTime float64
}

// Repository persists analytics records. Records are append-only.
type Repository interface {
	CreateView(ctx context.Context, v *View) error
	CreateEvent(ctx context.Context, e *Event) error
	ViewSummary(ctx context.Context, videoID string) (*ViewSummary, error)
	EventCounts(ctx context.Context, videoID string) (map[string]int64, error)
	// EventPositions returns the position of every event of the given types.
	EventPositions(ctx context.Context, videoID string, types []string) ([]float64, error)
}

// Counter fields.
const (
	CounterViews       = "views"
	CounterCompletions = "completions"
	CounterWatchMillis = "watch_ms"
	CounterShares      = "shares"
	CounterDownloads   = "downloads"
)

// Counter maintains cheap per-video counters.
type Counter interface {
	Incr(ctx context.Context, videoID string, deltas map[string]int64) error
	Get(ctx context.Context, videoID string) (map[string]int64, error)
}

// Segment is a slice of the timeline and how often it was watched.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Count int64   `json:"count"`
}

// Stats aggregates the analytics of one video.
type Stats struct {
	VideoID          string           `json:"videoId"`
	Views            int64            `json:"views"`
	Completions      int64            `json:"completions"`
	CompletionRate   float64          `json:"completionRate"`
	AverageWatchTime float64          `json:"averageWatchTime"`
	TopSegments      []Segment        `json:"topSegments"`
	Shares           int64            `json:"shares"`
	Downloads        int64            `json:"downloads"`
	Events           map[string]int64 `json:"events,omitempty"`
}
