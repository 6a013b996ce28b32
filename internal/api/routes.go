package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/serenelabs/voicelink/internal/auth"
	"github.com/serenelabs/voicelink/internal/voicemock"
)

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, hub *voicemock.Hub, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "voicelink-server",
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	// Session token issuance
	v1.POST("/token", func(c echo.Context) error {
		return issueToken(c, logger)
	})

	// Voice session endpoint, authenticated by access_token query parameter
	e.GET("/v1/chat", func(c echo.Context) error {
		return chatWithAuth(hub, c, logger)
	})
}

// issueToken mints a short-lived access token for a voice configuration
func issueToken(c echo.Context, logger *zap.Logger) error {
	var req TokenRequest

	// Bind and validate request
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind token request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.ConfigID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Config ID is required",
		})
	}

	token, expiresAt, err := auth.GenerateAccessToken(req.ConfigID, req.UserID)
	if err != nil {
		logger.Error("Failed to generate access token",
			zap.String("config_id", req.ConfigID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate access token",
		})
	}

	logger.Info("Issued session token", zap.String("config_id", req.ConfigID))

	return c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt,
	})
}

// chatWithAuth validates the session credentials carried as query parameters
// and hands the request to the voice session hub.
//
// Browsers cannot set headers on a WebSocket handshake, so the token rides
// in the query string rather than an Authorization header.
func chatWithAuth(hub *voicemock.Hub, c echo.Context, logger *zap.Logger) error {
	token := c.QueryParam("access_token")
	if token == "" {
		logger.Warn("Voice session rejected: missing access token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "access_token query parameter is required",
		})
	}

	claims, err := auth.ValidateToken(token)
	if err != nil {
		logger.Warn("Voice session rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired access token",
		})
	}

	configID := c.QueryParam("config_id")
	if configID == "" {
		logger.Warn("Voice session rejected: missing config ID")
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_config",
			Message: "config_id query parameter is required",
		})
	}

	// The token is bound to one configuration
	if claims.ConfigID != configID {
		logger.Warn("Voice session rejected: token/config mismatch",
			zap.String("token_config", claims.ConfigID),
			zap.String("requested_config", configID))
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "config_mismatch",
			Message: "Access token is not valid for this configuration",
		})
	}

	logger.Info("Voice session authenticated",
		zap.String("config_id", configID),
		zap.String("user_id", claims.UserID))

	return hub.HandleSession(c, configID, claims.UserID)
}
