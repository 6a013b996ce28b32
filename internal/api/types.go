package api

import "time"

// TokenRequest represents the request payload for session token issuance
type TokenRequest struct {
	ConfigID string `json:"config_id" validate:"required"`
	UserID   string `json:"user_id,omitempty"`
}

// TokenResponse represents the response payload for session token issuance
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
