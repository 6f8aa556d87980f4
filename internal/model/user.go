package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserStore defines persistence operations for users.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (User, error)
	Create(ctx context.Context, user User) (User, error)
	Search(ctx context.Context, query string, excludeID uuid.UUID, limit int) ([]User, error)
}

// User represents a chat participant. Authentication material lives in the
// external identity provider; only the display identity is stored here.
type User struct {
	ID          uuid.UUID
	Username    string
	DisplayName string
	CreatedAt   time.Time
}
