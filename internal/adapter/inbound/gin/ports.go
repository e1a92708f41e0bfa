package gin

import (
	"context"

	"github.com/clipforge/server/internal/module/analytics"
	"github.com/clipforge/server/internal/module/auth"
	"github.com/clipforge/server/internal/module/generation"
	"github.com/clipforge/server/internal/module/progress"
	"github.com/clipforge/server/internal/module/provider"
	"github.com/clipforge/server/internal/module/task"
)

// TaskService is the task manager as seen by the HTTP layer.
type TaskService interface {
	Submit(ctx context.Context, kind task.Kind, params task.Params) (string, error)
	GetStatus(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context, filter *task.Filter) ([]*task.Task, error)
	Cancel(ctx context.Context, id string) error
	ClearQueue(ctx context.Context) (int, error)
	Stats(ctx context.Context) (task.QueueStats, error)
}

// VideoService reports playback readiness.
type VideoService interface {
	VideoStatus(ctx context.Context, videoID string) (*generation.VideoStatus, error)
}

// ProviderService exposes adapter health.
type ProviderService interface {
	Descriptors() map[provider.Capability][]provider.Descriptor
	ProbeAll(ctx context.Context) map[string]provider.Descriptor
}

// AnalyticsService records and aggregates playback analytics.
type AnalyticsService interface {
	RecordView(videoID string, v analytics.ViewRecord)
	RecordEvent(videoID string, e analytics.EventRecord)
	GetStats(ctx context.Context, videoID string) *analytics.Stats
}

// AuthService checks the operator password.
type AuthService interface {
	Login(ctx context.Context, password string) (*auth.LoginResult, error)
	VerifyToken(token string) (string, error)
}

// ProgressHub streams task updates.
type ProgressHub interface {
	Subscribe(ctx context.Context, taskID string) (*progress.Subscription, error)
	Count() int
}

var (
	_ TaskService      = (*task.Manager)(nil)
	_ VideoService     = (*generation.Service)(nil)
	_ ProviderService  = (*provider.Resolver)(nil)
	_ AnalyticsService = (*analytics.Recorder)(nil)
	_ AuthService      = (*auth.Service)(nil)
	_ ProgressHub      = (*progress.Hub)(nil)
)
