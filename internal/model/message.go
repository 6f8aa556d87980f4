package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageStore defines persistence operations for messages.
type MessageStore interface {
	// Insert appends a message and returns it with the server-assigned
	// monotonic ID and timestamp.
	Insert(ctx context.Context, msg Message) (Message, error)
	// ListByRoom returns messages in ascending ID order, optionally only those
	// with ID greater than afterID (pass 0 for all), capped at limit.
	ListByRoom(ctx context.Context, roomID uuid.UUID, afterID int64, limit int) ([]Message, error)
	// ListAfterForRooms returns messages across the given rooms with ID
	// greater than afterID, ascending, capped at limit.
	ListAfterForRooms(ctx context.Context, roomIDs []uuid.UUID, afterID int64, limit int) ([]Message, error)
	// MaxIDForRooms returns the highest message ID across the given rooms,
	// or 0 when there are none.
	MaxIDForRooms(ctx context.Context, roomIDs []uuid.UUID) (int64, error)
}

// Message is a stored ciphertext row. The server never sees plaintext:
// Ciphertext and IV are base64, produced by the sender's AES-256-GCM
// encryption. Messages are immutable; deletion happens only via room
// cascade on expiry.
type Message struct {
	ID                int64
	RoomID            uuid.UUID
	SenderID          uuid.UUID
	Ciphertext        string
	IV                string
	SenderPublicKeyID *string
	ContentType       string
	ClientRef         *uuid.UUID
	CreatedAt         time.Time
}
