package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clipforge/server/internal/module/analytics"
)

// AnalyticsAdapter ingests playback events and serves aggregates.
type AnalyticsAdapter struct {
	recorder AnalyticsService
}

// NewAnalyticsAdapter creates a new analytics HTTP adapter.
func NewAnalyticsAdapter(recorder AnalyticsService) *AnalyticsAdapter {
	return &AnalyticsAdapter{recorder: recorder}
}

// RegisterRoutes registers analytics routes.
func (a *AnalyticsAdapter) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/analytics", a.Ingest)
	r.GET("/analytics/:videoId", a.GetStats)
}

type analyticsRequest struct {
	Event string         `json:"event" binding:"required"`
	Data  analyticsEvent `json:"data"`
}

type analyticsEvent struct {
	VideoID   string         `json:"videoId"`
	SessionID string         `json:"sessionId"`
	WatchTime float64        `json:"watchTime"`
	Duration  float64        `json:"duration"`
	Completed bool           `json:"completed"`
	Position  float64        `json:"position"`
	Extra     map[string]any `json:"extra"`
}

// Ingest records one event. Recording is best effort: once the body is
// accepted the response never depends on storage.
//
//	@Summary		Record analytics event
//	@Description	Record a playback event. Recording is best effort and never fails once the body is accepted.
//	@Tags			Analytics
//	@Accept			json
//	@Produce		json
//	@Param			request	body		analyticsRequest	true	"Event"
//	@Success		202		{object}	map[string]interface{}
//	@Failure		400		{object}	map[string]string	"Invalid request"
//	@Router			/analytics [post]
func (a *AnalyticsAdapter) Ingest(c *gin.Context) {
	var req analyticsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "event is required")
		return
	}
	if req.Data.VideoID == "" {
		badRequest(c, "data.videoId is required")
		return
	}

	if req.Event == analytics.EventView {
		a.recorder.RecordView(req.Data.VideoID, analytics.ViewRecord{
			SessionID: req.Data.SessionID,
			WatchTime: req.Data.WatchTime,
			Duration:  req.Data.Duration,
			Completed: req.Data.Completed,
			UserAgent: c.Request.UserAgent(),
			Referrer:  c.Request.Referer(),
		})
	} else {
		a.recorder.RecordEvent(req.Data.VideoID, analytics.EventRecord{
			Type:      req.Event,
			SessionID: req.Data.SessionID,
			Position:  req.Data.Position,
			Data:      req.Data.Extra,
		})
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

// GetStats returns the aggregate analytics of a video.
//
//	@Summary		Get video analytics
//	@Description	Return view totals, event counts and popular segments of a video
//	@Tags			Analytics
//	@Produce		json
//	@Param			videoId	path		string	true	"Video ID"
//	@Success		200		{object}	analytics.Stats
//	@Router			/analytics/{videoId} [get]
func (a *AnalyticsAdapter) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, a.recorder.GetStats(c.Request.Context(), c.Param("videoId")))
}
