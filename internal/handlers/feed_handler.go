package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/timeline"
	"github.com/anonto42/nano-midea/fanout/pkg/logger"
)

const liveWriteTimeout = 10 * time.Second

// FeedHandler serves the caller's materialized timeline
type FeedHandler struct {
	reader   *timeline.Reader
	lifetime context.Context
	upgrader websocket.Upgrader
}

// NewFeedHandler creates a new FeedHandler. Live timelines end when lifetime
// is done; a nil lifetime never ends them.
func NewFeedHandler(reader *timeline.Reader, lifetime context.Context) *FeedHandler {
	if lifetime == nil {
		lifetime = context.Background()
	}
	return &FeedHandler{
		reader:   reader,
		lifetime: lifetime,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// RegisterFeedRoutes registers feed-related routes
func (h *FeedHandler) RegisterFeedRoutes(g *echo.Group) {
	g.GET("/timeline", h.GetTimeline)
	g.GET("/timeline/live", h.LiveTimeline)
}

// GetTimeline returns the caller's timeline, newest entry first, with each
// post marked as liked or not by the caller
func (h *FeedHandler) GetTimeline(c echo.Context) error {
	currentUserID, err := currentUser(c)
	if err != nil {
		return err
	}

	items, err := h.reader.ReadFeed(c.Request().Context(), currentUserID, currentUserID)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": items})
}

// LiveTimeline upgrades to a websocket and sends the caller's whole timeline
// as a JSON array now and after every change, until the client goes away or
// the server shuts down.
func (h *FeedHandler) LiveTimeline(c echo.Context) error {
	currentUserID, err := currentUser(c)
	if err != nil {
		return err
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already answered the request.
		return nil
	}
	defer ws.Close()

	// the server does not track hijacked connections on shutdown
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	stopOnShutdown := context.AfterFunc(h.lifetime, cancel)
	defer stopOnShutdown()

	// The client never sends anything we use; reading only notices it leaving.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = h.reader.Live(ctx, currentUserID, func(posts []models.Post) error {
		ws.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		return ws.WriteJSON(posts)
	})
	ws.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	switch {
	case h.lifetime.Err() != nil:
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
	case err != nil && !errors.Is(err, context.Canceled):
		logger.Log.Warn("live_timeline_closed", zap.String("uid", currentUserID), zap.Error(err))
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "timeline unavailable"))
	}
	return nil
}
