package model

import "github.com/google/uuid"

// TokenManager validates access tokens. Session issuance belongs to the
// external identity provider; the chat server only needs the "login
// required" gate.
type TokenManager interface {
	GenerateAccessToken(userID uuid.UUID) (string, error)
	ParseAccessToken(token string) (uuid.UUID, error)
}
