package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
	"github.com/anonto42/nano-midea/fanout/internal/timeline"
)

// PostHandler handles HTTP requests related to posts
type PostHandler struct {
	engine         *timeline.Engine
	postRepository repositories.PostRepository
}

// NewPostHandler creates a new PostHandler
func NewPostHandler(engine *timeline.Engine, postRepo repositories.PostRepository) *PostHandler {
	return &PostHandler{
		engine:         engine,
		postRepository: postRepo,
	}
}

// RegisterPostRoutes registers post-related routes
func (h *PostHandler) RegisterPostRoutes(g *echo.Group) {
	g.POST("/posts", h.CreatePost)
	g.GET("/users/:uid/posts", h.GetPosts)
	g.GET("/users/:uid/posts/:key", h.GetPost)
}

// CreatePost creates a new post and fans it out to every follower's timeline
func (h *PostHandler) CreatePost(c echo.Context) error {
	currentUserID, err := currentUser(c)
	if err != nil {
		return err
	}

	var req models.CreatePostRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	post, err := h.engine.CreatePost(c.Request().Context(), currentUserID, req.ImageURL, req.ImageHeight)
	body, err := driftData(post, err)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusCreated, body)
}

// GetPost retrieves one post of :uid
func (h *PostHandler) GetPost(c echo.Context) error {
	author, err := idParam(c, "uid")
	if err != nil {
		return err
	}
	key, err := keyParam(c, "key")
	if err != nil {
		return err
	}

	post, err := h.postRepository.GetPost(c.Request().Context(), author, key)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": post})
}

// GetPosts retrieves the posts of :uid, newest first
func (h *PostHandler) GetPosts(c echo.Context) error {
	author, err := idParam(c, "uid")
	if err != nil {
		return err
	}

	posts, err := h.postRepository.GetPostsByUserID(c.Request().Context(), author)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": posts})
}
