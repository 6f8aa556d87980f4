package model

import (
	"context"

	"github.com/google/uuid"
)

// GroupStore exposes the group-activity queries the event notifier
// fingerprints between polls. Group CRUD itself is outside the chat core.
type GroupStore interface {
	// PendingInvitationCount returns the number of invitations awaiting the
	// user's response.
	PendingInvitationCount(ctx context.Context, userID uuid.UUID) (int, error)
	// SessionStatuses returns (session, status) pairs for every session of
	// every group the user belongs to.
	SessionStatuses(ctx context.Context, userID uuid.UUID) ([]SessionStatus, error)
}

// SessionStatus is one group session's identity and state.
type SessionStatus struct {
	ID     uuid.UUID
	Status string
}
