package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
	"github.com/anonto42/nano-midea/fanout/internal/timeline"
)

// FollowHandler handles follow/unfollow HTTP requests
type FollowHandler struct {
	engine           *timeline.Engine
	followRepository repositories.FollowRepository
}

// NewFollowHandler creates a new FollowHandler
func NewFollowHandler(engine *timeline.Engine, followRepo repositories.FollowRepository) *FollowHandler {
	return &FollowHandler{
		engine:           engine,
		followRepository: followRepo,
	}
}

// RegisterFollowRoutes registers follow-related routes
func (h *FollowHandler) RegisterFollowRoutes(g *echo.Group) {
	g.GET("/users/:uid/follow", h.GetFollowStatus)
	g.POST("/users/:uid/follow", h.FollowUser)
	g.DELETE("/users/:uid/follow", h.UnfollowUser)
}

// GetFollowStatus reports whether the caller follows :uid
func (h *FollowHandler) GetFollowStatus(c echo.Context) error {
	currentUserID, err := currentUser(c)
	if err != nil {
		return err
	}
	targetID, err := idParam(c, "uid")
	if err != nil {
		return err
	}

	following, err := h.followRepository.IsFollowing(c.Request().Context(), currentUserID, targetID)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": models.FollowStatus{UID: targetID, IsFollowing: following}})
}

// FollowUser follows a user and backfills the caller's timeline
func (h *FollowHandler) FollowUser(c echo.Context) error {
	currentUserID, err := currentUser(c)
	if err != nil {
		return err
	}
	targetID, err := idParam(c, "uid")
	if err != nil {
		return err
	}

	body, err := driftData(echo.Map{"following": true}, h.engine.Follow(c.Request().Context(), currentUserID, targetID))
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, body)
}

// UnfollowUser unfollows a user and purges their posts from the caller's timeline
func (h *FollowHandler) UnfollowUser(c echo.Context) error {
	currentUserID, err := currentUser(c)
	if err != nil {
		return err
	}
	targetID, err := idParam(c, "uid")
	if err != nil {
		return err
	}

	body, err := driftData(echo.Map{"following": false}, h.engine.Unfollow(c.Request().Context(), currentUserID, targetID))
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, body)
}
