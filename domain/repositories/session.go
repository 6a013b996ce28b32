package repositories

import (
	"context"

	"github.com/serenelabs/voicelink/domain/entities"
)

// SessionRepository defines data access methods for conversation sessions
type SessionRepository interface {
	Create(ctx context.Context, session *entities.Session) error
	GetByID(ctx context.Context, id string) (*entities.Session, error)
	// GetLastByConfigID returns the most recently active session for a
	// voice configuration, or nil when none exists
	GetLastByConfigID(ctx context.Context, configID string) (*entities.Session, error)
	Update(ctx context.Context, session *entities.Session) error
	Delete(ctx context.Context, id string) error
}
