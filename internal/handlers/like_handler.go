package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
)

// LikeHandler handles HTTP requests related to likes
type LikeHandler struct {
	likeRepository repositories.LikeRepository
	postRepository repositories.PostRepository
}

// NewLikeHandler creates a new LikeHandler
func NewLikeHandler(likeRepo repositories.LikeRepository, postRepo repositories.PostRepository) *LikeHandler {
	return &LikeHandler{
		likeRepository: likeRepo,
		postRepository: postRepo,
	}
}

// RegisterLikeRoutes registers like-related routes
func (h *LikeHandler) RegisterLikeRoutes(g *echo.Group) {
	g.PUT("/users/:uid/posts/:key/like", h.SetLike)
	g.GET("/users/:uid/posts/:key/like", h.GetLikeStatus)
	g.GET("/users/:uid/posts/:key/likes", h.GetLikers)
}

func postRefParams(c echo.Context) (models.PostRef, error) {
	author, err := idParam(c, "uid")
	if err != nil {
		return models.PostRef{}, err
	}
	key, err := keyParam(c, "key")
	if err != nil {
		return models.PostRef{}, err
	}
	return models.PostRef{Author: author, Key: key}, nil
}

// SetLike likes or unlikes a post for the caller. Asking for the state the
// post is already in succeeds with "changed": false.
func (h *LikeHandler) SetLike(c echo.Context) error {
	currentUserID, err := currentUser(c)
	if err != nil {
		return err
	}
	ref, err := postRefParams(c)
	if err != nil {
		return err
	}

	var req models.SetLikeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if _, err := h.postRepository.GetPost(ctx, ref.Author, ref.Key); err != nil {
		return toHTTPError(c, err)
	}

	changed, likeErr := h.likeRepository.SetIsLiked(ctx, *req.Liked, ref, currentUserID)
	status := models.LikeStatus{PostRef: ref, Liked: *req.Liked, Changed: changed}
	if likeErr == nil || changed {
		if post, err := h.postRepository.GetPost(ctx, ref.Author, ref.Key); err == nil {
			status.LikeCount = post.LikeCount
		}
	}

	body, err := driftData(status, likeErr)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, body)
}

// GetLikeStatus returns whether the caller likes the post and its like count
func (h *LikeHandler) GetLikeStatus(c echo.Context) error {
	currentUserID, err := currentUser(c)
	if err != nil {
		return err
	}
	ref, err := postRefParams(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	post, err := h.postRepository.GetPost(ctx, ref.Author, ref.Key)
	if err != nil {
		return toHTTPError(c, err)
	}
	liked, err := h.likeRepository.IsLiked(ctx, ref, currentUserID)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": models.LikeStatus{
		PostRef:   ref,
		Liked:     liked,
		LikeCount: post.LikeCount,
	}})
}

// GetLikers lists the ids of users who like the post
func (h *LikeHandler) GetLikers(c echo.Context) error {
	ref, err := postRefParams(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if _, err := h.postRepository.GetPost(ctx, ref.Author, ref.Key); err != nil {
		return toHTTPError(c, err)
	}
	likers, err := h.likeRepository.GetLikers(ctx, ref.Key)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": likers})
}
