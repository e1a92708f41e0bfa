package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AuthAdapter serves the operator login.
type AuthAdapter struct {
	auth AuthService
}

// NewAuthAdapter creates a new auth HTTP adapter.
func NewAuthAdapter(auth AuthService) *AuthAdapter {
	return &AuthAdapter{auth: auth}
}

// RegisterRoutes registers auth routes.
func (a *AuthAdapter) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/admin/login", a.Login)
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

// Login exchanges the operator password for a bearer token.
//
//	@Summary		Operator login
//	@Description	Exchange the operator password for a bearer token
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		loginRequest	true	"Credentials"
//	@Success		200		{object}	auth.LoginResult
//	@Failure		400		{object}	map[string]string	"Invalid request"
//	@Failure		401		{object}	map[string]string	"Invalid credentials"
//	@Failure		503		{object}	map[string]string	"Login not configured"
//	@Router			/admin/login [post]
func (a *AuthAdapter) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "password is required")
		return
	}

	res, err := a.auth.Login(c.Request.Context(), req.Password)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}
