package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminates stream events.
type EventType string

const (
	// EventConnected is the initial handshake acknowledgment.
	EventConnected EventType = "connected"
	// EventMessage carries one new ciphertext row the user is entitled to see.
	EventMessage EventType = "message"
	// EventRoomsChanged signals membership-count or key-topology change.
	EventRoomsChanged EventType = "rooms_changed"
	// EventGroupInvitation signals a changed pending-invitation count.
	EventGroupInvitation EventType = "group_invitation"
	// EventGroupSessionChanged signals a changed group-session fingerprint.
	EventGroupSessionChanged EventType = "group_session_changed"
)

// Event is one frame of the server-to-client stream.
type Event struct {
	Type    EventType     `json:"type"`
	RoomID  *uuid.UUID    `json:"roomId,omitempty"`
	Count   *int          `json:"count,omitempty"`
	Payload *MessageFrame `json:"payload,omitempty"`
}

// MessageFrame is the wire form of a message event payload. It carries the
// full row so the client never has to re-fetch.
type MessageFrame struct {
	ID                int64      `json:"id"`
	RoomID            uuid.UUID  `json:"roomId"`
	SenderID          uuid.UUID  `json:"senderId"`
	Ciphertext        string     `json:"ciphertext"`
	IV                string     `json:"iv"`
	SenderPublicKeyID *string    `json:"senderPublicKeyId"`
	ContentType       string     `json:"contentType"`
	ClientRef         *uuid.UUID `json:"clientRef,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// NewMessageFrame converts a stored message into its wire form.
func NewMessageFrame(m Message) *MessageFrame {
	return &MessageFrame{
		ID:                m.ID,
		RoomID:            m.RoomID,
		SenderID:          m.SenderID,
		Ciphertext:        m.Ciphertext,
		IV:                m.IV,
		SenderPublicKeyID: m.SenderPublicKeyID,
		ContentType:       m.ContentType,
		ClientRef:         m.ClientRef,
		CreatedAt:         m.CreatedAt,
	}
}
