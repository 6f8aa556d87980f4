package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PublicKeyStore defines persistence operations for published device keys.
type PublicKeyStore interface {
	// Upsert stores a published public key, replacing the key material when
	// the key ID already exists.
	Upsert(ctx context.Context, key PublicKey) error
	// GetByUserID returns the user's most recently published key.
	GetByUserID(ctx context.Context, userID uuid.UUID) (PublicKey, error)
}

// PublicKey is the server-visible half of a device key pair. PublicKeyJWK is
// the JSON-serialized JWK as exported by the owning device; the server never
// parses it.
type PublicKey struct {
	KeyID        string
	UserID       uuid.UUID
	PublicKeyJWK string
	UpdatedAt    time.Time
}
