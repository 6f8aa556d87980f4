package model

import "github.com/google/uuid"

// SendMessageParams contains parameters to store one ciphertext message.
type SendMessageParams struct {
	UserID            uuid.UUID
	RoomID            uuid.UUID
	Ciphertext        string
	IV                string
	SenderPublicKeyID *string
	ContentType       string
	ClientRef         *uuid.UUID
}

// CreateGroupRoomParams contains parameters to create a group room. WrappedKeys
// maps member ID to the room key wrapped for that member; members without an
// entry join with no key and rely on a later re-invite by convention.
type CreateGroupRoomParams struct {
	UserID      uuid.UUID
	Name        string
	MemberIDs   []uuid.UUID
	WrappedKeys map[uuid.UUID]string
	QuestionID  *int
	// Persistent marks rooms backing a long-lived group; they get an
	// effectively permanent expiry instead of the ad-hoc 24 h one.
	Persistent bool
}
