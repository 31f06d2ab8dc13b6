package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
)

// UserHandler handles HTTP requests related to user profiles
type UserHandler struct {
	userRepository   repositories.UserRepository
	followRepository repositories.FollowRepository
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(userRepo repositories.UserRepository, followRepo repositories.FollowRepository) *UserHandler {
	return &UserHandler{
		userRepository:   userRepo,
		followRepository: followRepo,
	}
}

// RegisterProfileRoutes registers user profile-related routes
func (h *UserHandler) RegisterProfileRoutes(g *echo.Group) {
	g.POST("/users", h.CreateUser)
	g.GET("/users/:uid", h.GetUser)
	g.GET("/users/:uid/followers", h.GetFollowers)
	g.GET("/users/:uid/following", h.GetFollowing)
}

// CreateUser creates or renames the caller's profile
func (h *UserHandler) CreateUser(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}

	var req models.CreateUserRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.userRepository.CreateUser(c.Request().Context(), uid, req.Username)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "data": user})
}

func (h *UserHandler) GetUser(c echo.Context) error {
	uid, err := idParam(c, "uid")
	if err != nil {
		return err
	}
	user, err := h.userRepository.GetUser(c.Request().Context(), uid)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": user})
}

// GetFollowers lists the ids of users following :uid
func (h *UserHandler) GetFollowers(c echo.Context) error {
	uid, err := idParam(c, "uid")
	if err != nil {
		return err
	}
	ids, err := h.followRepository.GetFollowers(c.Request().Context(), uid)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": ids})
}

// GetFollowing lists the ids of users :uid follows
func (h *UserHandler) GetFollowing(c echo.Context) error {
	uid, err := idParam(c, "uid")
	if err != nil {
		return err
	}
	ids, err := h.followRepository.GetFollowing(c.Request().Context(), uid)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": ids})
}
