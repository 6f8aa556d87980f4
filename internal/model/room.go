package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RoomType enumerates room kinds.
type RoomType string

const (
	// RoomTypeDM is a two-member conversation keyed by direct ECDH derivation.
	RoomTypeDM RoomType = "dm"
	// RoomTypeGroup is an N-member conversation keyed by a wrapped room key.
	RoomTypeGroup RoomType = "group"
)

// RoomStore defines persistence operations for rooms and memberships.
type RoomStore interface {
	// Create inserts a room and all its initial memberships as one atomic unit.
	Create(ctx context.Context, room Room, members []Membership) error
	// GetRoomsForUser returns the user's non-expired rooms with members,
	// per-member latest public key and the viewer's wrapped room key.
	GetRoomsForUser(ctx context.Context, userID uuid.UUID) ([]RoomInfo, error)
	// RoomIDsForUser returns all room IDs the user is a member of.
	RoomIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	// FilterUnexpired narrows a room ID set to rooms that have not expired.
	FilterUnexpired(ctx context.Context, roomIDs []uuid.UUID) ([]uuid.UUID, error)
	// MemberKeysForRooms returns (member, published key ID) pairs across the
	// given rooms; KeyID is empty for members without a published key.
	MemberKeysForRooms(ctx context.Context, roomIDs []uuid.UUID) ([]MemberKey, error)
	// IsMember reports whether the user belongs to the room.
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	// DeleteExpired removes rooms past their expiry, cascading memberships and
	// messages, and returns the number of rooms removed. Idempotent.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Room represents a conversation. Every room has exactly one creator and a
// hard expiry; expired rooms are swept together with their messages.
type Room struct {
	ID         uuid.UUID
	Type       RoomType
	Name       string
	QuestionID *int
	CreatedBy  uuid.UUID
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Membership ties a user to a room. EncryptedRoomKey holds the JSON envelope
// of the room key wrapped for this member; it is nil for DM rooms, where the
// key is re-derivable from the two identities alone.
type Membership struct {
	RoomID           uuid.UUID
	UserID           uuid.UUID
	EncryptedRoomKey *string
	JoinedAt         time.Time
}

// MemberInfo is a room member as seen in room listings.
type MemberInfo struct {
	UserID       uuid.UUID
	Username     string
	DisplayName  string
	PublicKeyID  *string
	PublicKeyJWK *string
}

// RoomInfo is a room joined with its members, resolved for one viewer:
// EncryptedRoomKey is the viewer's own wrapped room key, if any.
type RoomInfo struct {
	Room
	EncryptedRoomKey *string
	Members          []MemberInfo
}

// MemberKey is one (member, published key) pair used for fingerprinting
// room/key topology across notifier polls.
type MemberKey struct {
	UserID uuid.UUID
	KeyID  string
}
