package auth

import (
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims represents the claims in an access token for a voice session
type SessionClaims struct {
	ConfigID string `json:"config_id"`
	UserID   string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// accessTokenTTL keeps session credentials short-lived; clients fetch a
// fresh token before each session.
const accessTokenTTL = 15 * time.Minute

func jwtSecret() []byte {
	if secret := os.Getenv("VOICELINK_JWT_SECRET"); secret != "" {
		return []byte(secret)
	}
	return []byte("voicelink-dev-secret") // Development fallback
}

// GenerateAccessToken generates a short-lived access token bound to a voice
// configuration
func GenerateAccessToken(configID, userID string) (string, time.Time, error) {
	expiresAt := time.Now().Add(accessTokenTTL)
	claims := &SessionClaims{
		ConfigID: configID,
		UserID:   userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(jwtSecret())
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken validates an access token and returns its claims
func ValidateToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return jwtSecret(), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrInvalidKey
}
