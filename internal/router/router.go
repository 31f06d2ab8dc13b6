package router

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/anonto42/nano-midea/fanout/internal/handlers"
	"github.com/anonto42/nano-midea/fanout/internal/middleware"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
	"github.com/anonto42/nano-midea/fanout/internal/timeline"
	"github.com/anonto42/nano-midea/fanout/pkg/logger"
)

// Deps are the collaborators the routes are built from. Verifier and Redis
// may be nil: without a verifier firebase-login answers 503, without Redis
// rate limiting is per process. With AcceptIDTokens the /api/v1 routes take
// Firebase ID tokens instead of locally issued JWTs, which needs a Verifier.
type Deps struct {
	Users   repositories.UserRepository
	Posts   repositories.PostRepository
	Follows repositories.FollowRepository
	Likes   repositories.LikeRepository
	Engine  *timeline.Engine
	Reader  *timeline.Reader
	// Lifetime ends live timelines when the server shuts down; nil means
	// they only end with their clients.
	Lifetime context.Context

	Verifier       middleware.TokenVerifier
	Redis          redis.Cmdable
	JWTSecret      string
	AcceptIDTokens bool
	RatePerSecond  float64
	RateBurst      int
}

// SetupRoutes configures all application routes and injects dependencies
func SetupRoutes(e *echo.Echo, d Deps) {
	// Health check - always accessible
	e.GET("/health", handlers.HealthCheck)

	// A zero rate disables limiting.
	var limited []echo.MiddlewareFunc
	if d.RatePerSecond > 0 {
		limited = append(limited, middleware.RateLimiter(d.Redis, d.RatePerSecond, d.RateBurst))
	}

	// --- Unprotected routes for authentication ---
	authGroup := e.Group("/api/v1/auth", limited...)
	handlers.NewAuthHandler(d.Verifier, d.JWTSecret).RegisterAuthRoutes(authGroup)

	// --- Protected routes (require a JWT or a Firebase ID token) ---
	authenticate := middleware.JWTAuthMiddleware(d.JWTSecret)
	if d.AcceptIDTokens {
		authenticate = middleware.FirebaseAuthMiddleware(d.Verifier)
	}
	api := e.Group("/api/v1")
	api.Use(authenticate)
	api.Use(limited...)

	handlers.NewUserHandler(d.Users, d.Follows).RegisterProfileRoutes(api)
	handlers.NewFollowHandler(d.Engine, d.Follows).RegisterFollowRoutes(api)
	handlers.NewPostHandler(d.Engine, d.Posts).RegisterPostRoutes(api)
	handlers.NewLikeHandler(d.Likes, d.Posts).RegisterLikeRoutes(api)
	handlers.NewFeedHandler(d.Reader, d.Lifetime).RegisterFeedRoutes(api)

	logger.Log.Info("routes_configured",
		zap.Bool("firebase_login", d.Verifier != nil),
		zap.Bool("firebase_id_tokens", d.AcceptIDTokens),
		zap.Bool("redis_rate_limit", d.Redis != nil))
}
