package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/fanout/internal/middleware"
	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/paths"
)

// AuthHandler exchanges Firebase ID tokens for local JWTs
type AuthHandler struct {
	verifier  middleware.TokenVerifier
	jwtSecret string
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(verifier middleware.TokenVerifier, jwtSecret string) *AuthHandler {
	return &AuthHandler{
		verifier:  verifier,
		jwtSecret: jwtSecret,
	}
}

// RegisterAuthRoutes registers authentication-related routes
func (h *AuthHandler) RegisterAuthRoutes(g *echo.Group) {
	g.POST("/firebase-login", h.FirebaseLogin)
}

// FirebaseLogin handles Firebase ID token verification and issues a local JWT
// whose subject is the Firebase UID. The profile itself is created through
// POST /users.
func (h *AuthHandler) FirebaseLogin(c echo.Context) error {
	if h.verifier == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Firebase authentication is not configured")
	}

	var req models.FirebaseLoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	token, err := h.verifier.VerifyIDToken(c.Request().Context(), req.IDToken)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Firebase ID token")
	}
	if err := paths.CheckID(token.UID); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Unsupported Firebase UID")
	}

	email, _ := token.Claims["email"].(string)
	localJWT, err := middleware.IssueToken(h.jwtSecret, token.UID, email)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate local JWT")
	}

	return c.JSON(http.StatusOK, echo.Map{"token": localJWT, "uid": token.UID})
}
