package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/clipforge/server/internal/module/analytics"
)

// analyticsAdapter implements analytics.Repository on gorm. The same code
// serves the postgres and sqlite drivers.
type analyticsAdapter struct {
	db *gorm.DB
}

// NewAnalyticsAdapter creates a new analytics repository.
func NewAnalyticsAdapter(db *gorm.DB) analytics.Repository {
	return &analyticsAdapter{db: db}
}

func (a *analyticsAdapter) CreateView(ctx context.Context, v *analytics.View) error {
	return a.db.WithContext(ctx).Create(v).Error
}

func (a *analyticsAdapter) CreateEvent(ctx context.Context, e *analytics.Event) error {
	return a.db.WithContext(ctx).Create(e).Error
}

func (a *analyticsAdapter) ViewSummary(ctx context.Context, videoID string) (*analytics.ViewSummary, error) {
	var row struct {
		Views          int64
		Completions    int64
		TotalWatchTime float64
	}
	err := a.db.WithContext(ctx).
		Model(&analytics.View{}).
		Select("COUNT(*) as views, "+
			"COALESCE(SUM(CASE WHEN completed THEN 1 ELSE 0 END), 0) as completions, "+
			"COALESCE(SUM(watch_time), 0) as total_watch_time").
		Where("video_id = ?", videoID).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &analytics.ViewSummary{
		Views:          row.Views,
		Completions:    row.Completions,
		TotalWatchTime: row.TotalWatchTime,
	}, nil
}

func (a *analyticsAdapter) EventCounts(ctx context.Context, videoID string) (map[string]int64, error) {
	var rows []struct {
		Type  string
		Count int64
	}
	err := a.db.WithContext(ctx).
		Model(&analytics.Event{}).
		Select("type, COUNT(*) as count").
		Where("video_id = ?", videoID).
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Type] = r.Count
	}
	return counts, nil
}

func (a *analyticsAdapter) EventPositions(ctx context.Context, videoID string, types []string) ([]float64, error) {
	var positions []float64
	err := a.db.WithContext(ctx).
		Model(&analytics.Event{}).
		Where("video_id = ? AND type IN ?", videoID, types).
		Pluck("position", &positions).Error
	if err != nil {
		return nil, err
	}
	return positions, nil
}

// AutoMigrate creates or updates the analytics tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&analytics.View{}, &analytics.Event{})
}

var _ analytics.Repository = (*analyticsAdapter)(nil)
