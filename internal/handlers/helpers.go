package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/anonto42/nano-midea/fanout/internal/middleware"
	"github.com/anonto42/nano-midea/fanout/internal/paths"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
	"github.com/anonto42/nano-midea/fanout/internal/store"
	"github.com/anonto42/nano-midea/fanout/internal/timeline"
	"github.com/anonto42/nano-midea/fanout/pkg/logger"
)

func getUserIDFromContext(c echo.Context) string {
	return middleware.UserID(c)
}

// currentUser returns the caller's id or a 401.
func currentUser(c echo.Context) (string, error) {
	uid := getUserIDFromContext(c)
	if uid == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	return uid, nil
}

// idParam reads a route parameter that must be a valid user id.
func idParam(c echo.Context, name string) (string, error) {
	id := c.Param(name)
	if err := paths.CheckID(id); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "Invalid user ID")
	}
	return id, nil
}

// keyParam reads a route parameter that must be a valid post key.
func keyParam(c echo.Context, name string) (string, error) {
	key := c.Param(name)
	if err := paths.CheckKey(key); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "Invalid post key")
	}
	return key, nil
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	return c.Validate(req)
}

// toHTTPError maps domain and store errors onto HTTP responses. A partial
// fan-out is answered directly with a body carrying "partial": true.
func toHTTPError(c echo.Context, err error) error {
	var (
		storeErr *store.Error
		partial  *timeline.PartialFanoutError
	)
	switch {
	case errors.As(err, &partial):
		logger.Log.Error("partial_fanout",
			zap.String("op", partial.Op),
			zap.String("step", partial.Step),
			zap.Error(partial.Err))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"success": false,
			"partial": true,
			"message": partial.Error(),
		})
	case errors.Is(err, timeline.ErrSelfFollow):
		return echo.NewHTTPError(http.StatusBadRequest, "Cannot follow yourself")
	case errors.Is(err, repositories.ErrUserNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "User not found")
	case errors.Is(err, repositories.ErrPostNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Post not found")
	case errors.Is(err, timeline.ErrAlreadyFollowing):
		return echo.NewHTTPError(http.StatusConflict, "Already following this user")
	case errors.Is(err, timeline.ErrNotFollowing):
		return echo.NewHTTPError(http.StatusConflict, "Not following this user")
	case errors.Is(err, repositories.ErrUsernameTaken):
		return echo.NewHTTPError(http.StatusConflict, "Username already taken")
	case errors.As(err, &storeErr):
		logger.Log.Error("store_failure", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "Storage unavailable")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// driftData adds "counter_drift": true to a success body when the primary
// write committed but a counter did not follow.
func driftData(data interface{}, err error) (echo.Map, error) {
	var drift *repositories.CounterDriftError
	if err == nil {
		return echo.Map{"success": true, "data": data}, nil
	}
	if errors.As(err, &drift) {
		logger.Log.Warn("counter_drift",
			zap.String("location", drift.Location),
			zap.Int64("delta", drift.Delta),
			zap.Error(drift.Err))
		return echo.Map{"success": true, "data": data, "counter_drift": true}, nil
	}
	return nil, err
}
