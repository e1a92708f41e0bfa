package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// VideoAdapter serves playback readiness checks.
type VideoAdapter struct {
	videos VideoService
}

// NewVideoAdapter creates a new video HTTP adapter.
func NewVideoAdapter(videos VideoService) *VideoAdapter {
	return &VideoAdapter{videos: videos}
}

// RegisterRoutes registers video routes.
func (a *VideoAdapter) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/video-status/:videoId", a.GetVideoStatus)
}

// GetVideoStatus reports whether a generated video can be played.
//
//	@Summary		Get video status
//	@Description	Report whether a generated video is stored and playable
//	@Tags			Videos
//	@Produce		json
//	@Param			videoId	path		string	true	"Video ID"
//	@Success		200		{object}	generation.VideoStatus
//	@Failure		404		{object}	map[string]string	"Video not found"
//	@Router			/video-status/{videoId} [get]
func (a *VideoAdapter) GetVideoStatus(c *gin.Context) {
	status, err := a.videos.VideoStatus(c.Request.Context(), c.Param("videoId"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}
