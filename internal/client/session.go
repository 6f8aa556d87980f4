package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studychat/studychat-server/internal/crypto"
	"github.com/studychat/studychat-server/internal/logger"
	"github.com/studychat/studychat-server/internal/model"
)

// decryptFailedPlaceholder is shown for rows that cannot be decrypted. One
// corrupt or old-key message must not block the rest of the conversation.
const decryptFailedPlaceholder = "[decryption failed]"

// ChatAPI is the server API surface the session depends on.
type ChatAPI interface {
	GetRooms(ctx context.Context) ([]Room, error)
	GetMessages(ctx context.Context, roomID uuid.UUID, afterID int64) ([]model.MessageFrame, error)
	SendMessage(ctx context.Context, roomID uuid.UUID, req SendMessageRequest) (model.MessageFrame, error)
}

// ChatMessage is one decrypted message as held in session state. Entries with
// a negative ID are optimistic local sends awaiting server confirmation.
type ChatMessage struct {
	ID          int64
	RoomID      uuid.UUID
	SenderID    uuid.UUID
	Content     string
	ContentType string
	IsSelf      bool
	Pending     bool
	Failed      bool
	ClientRef   *uuid.UUID
	CreatedAt   time.Time
}

// Session orchestrates end-to-end send/receive and keeps per-room ordered
// message state reconciled with server truth.
type Session struct {
	api      ChatAPI
	resolver *Resolver
	keyID    string
	selfID   uuid.UUID
	logger   *logger.Logger

	mu       sync.Mutex
	rooms    map[uuid.UUID]Room
	roomList []Room
	messages map[uuid.UUID][]ChatMessage
	unread   map[uuid.UUID]int
	active   uuid.UUID
	nextTemp int64
	invites  int
}

func NewSession(api ChatAPI, resolver *Resolver, keyID string, selfID uuid.UUID, logger *logger.Logger) *Session {
	return &Session{
		api:      api,
		resolver: resolver,
		keyID:    keyID,
		selfID:   selfID,
		logger:   logger,
		rooms:    make(map[uuid.UUID]Room),
		messages: make(map[uuid.UUID][]ChatMessage),
		unread:   make(map[uuid.UUID]int),
		nextTemp: -1,
	}
}

// RefreshRooms replaces the room list with server truth. Full refetch on
// purpose: membership and key topology change rarely, and partial updates
// cost more in correctness than the refetch costs in traffic.
func (s *Session) RefreshRooms(ctx context.Context) error {
	rooms, err := s.api.GetRooms(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh rooms: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomList = rooms
	s.rooms = make(map[uuid.UUID]Room, len(rooms))
	for _, r := range rooms {
		s.rooms[r.ID] = r
	}
	return nil
}

// Rooms returns the known room list.
func (s *Session) Rooms() []Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Room, len(s.roomList))
	copy(out, s.roomList)
	return out
}

// Messages returns the room's message list in display order.
func (s *Session) Messages(roomID uuid.UUID) []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatMessage, len(s.messages[roomID]))
	copy(out, s.messages[roomID])
	return out
}

// SetActiveRoom marks the room as focused and clears its unread counter.
func (s *Session) SetActiveRoom(roomID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = roomID
	s.unread[roomID] = 0
}

// Unread returns the room's unread counter.
func (s *Session) Unread(roomID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[roomID]
}

// PendingInvitations returns the latest pending-invitation count seen on the
// event stream.
func (s *Session) PendingInvitations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invites
}

// SendMessage encrypts and sends plaintext to the room.
//
// The message appears in local state immediately, flagged pending, with a
// temporary negative ID. On success the entry takes the server-assigned ID
// and timestamp; on failure it is flagged failed and the room list is
// refreshed, since a send failure often means the room itself changed.
func (s *Session) SendMessage(ctx context.Context, roomID uuid.UUID, plaintext string) error {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return model.ErrNotFound
	}

	clientRef := uuid.New()
	tempID := s.nextTemp
	s.nextTemp--
	entry := ChatMessage{
		ID:          tempID,
		RoomID:      roomID,
		SenderID:    s.selfID,
		Content:     plaintext,
		ContentType: "text",
		IsSelf:      true,
		Pending:     true,
		ClientRef:   &clientRef,
		CreatedAt:   time.Now(),
	}
	s.messages[roomID] = append(s.messages[roomID], entry)
	s.mu.Unlock()

	frame, err := s.encryptAndSend(ctx, room, plaintext, clientRef)
	if err != nil {
		s.markFailed(roomID, tempID)
		if refreshErr := s.RefreshRooms(ctx); refreshErr != nil {
			s.logger.Warn("room refresh after send failure failed", "error", refreshErr)
		}
		return err
	}

	s.confirmSend(roomID, tempID, frame)
	return nil
}

func (s *Session) encryptAndSend(ctx context.Context, room Room, plaintext string, clientRef uuid.UUID) (model.MessageFrame, error) {
	key, err := s.resolver.RoomKey(room)
	if err != nil {
		return model.MessageFrame{}, err
	}

	env, err := crypto.Encrypt(key, plaintext)
	if err != nil {
		return model.MessageFrame{}, err
	}

	keyID := s.keyID
	return s.api.SendMessage(ctx, room.ID, SendMessageRequest{
		Ciphertext:        env.Ciphertext,
		IV:                env.IV,
		SenderPublicKeyID: &keyID,
		ContentType:       "text",
		ClientRef:         &clientRef,
	})
}

func (s *Session) markFailed(roomID uuid.UUID, tempID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages[roomID] {
		if s.messages[roomID][i].ID == tempID {
			s.messages[roomID][i].Pending = false
			s.messages[roomID][i].Failed = true
			return
		}
	}
}

func (s *Session) confirmSend(roomID uuid.UUID, tempID int64, frame model.MessageFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages[roomID] {
		if s.messages[roomID][i].ID == tempID {
			s.messages[roomID][i].ID = frame.ID
			s.messages[roomID][i].CreatedAt = frame.CreatedAt
			s.messages[roomID][i].Pending = false
			return
		}
	}
}

// LoadMessages fetches and decrypts the room's history, replacing local
// confirmed state. A DM whose peer has not published a key is skipped
// outright: there is nothing to decrypt against yet.
func (s *Session) LoadMessages(ctx context.Context, roomID uuid.UUID) error {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	s.mu.Unlock()
	if !ok {
		return model.ErrNotFound
	}
	if !s.resolver.PeerHasKey(room) {
		return nil
	}

	key, err := s.resolver.RoomKey(room)
	if err != nil {
		return err
	}

	frames, err := s.api.GetMessages(ctx, roomID, 0)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}

	loaded := make([]ChatMessage, 0, len(frames))
	for _, f := range frames {
		loaded = append(loaded, s.decryptFrame(key, f))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Keep optimistic entries still in flight; everything confirmed is
	// replaced by server truth.
	for _, m := range s.messages[roomID] {
		if m.ID < 0 {
			loaded = append(loaded, m)
		}
	}
	s.messages[roomID] = loaded
	return nil
}

func (s *Session) decryptFrame(key []byte, f model.MessageFrame) ChatMessage {
	msg := ChatMessage{
		ID:          f.ID,
		RoomID:      f.RoomID,
		SenderID:    f.SenderID,
		ContentType: f.ContentType,
		IsSelf:      f.SenderID == s.selfID,
		ClientRef:   f.ClientRef,
		CreatedAt:   f.CreatedAt,
	}

	plaintext, err := crypto.Decrypt(key, f.Ciphertext, f.IV)
	if err != nil {
		msg.Content = decryptFailedPlaceholder
		msg.Failed = true
		if !errors.Is(err, model.ErrDecryptFailed) {
			s.logger.Warn("malformed message row", "message_id", f.ID, "error", err)
		}
		return msg
	}
	msg.Content = plaintext
	return msg
}

// HandleEvent applies one stream event to session state.
func (s *Session) HandleEvent(ctx context.Context, event model.Event) {
	switch event.Type {
	case model.EventMessage:
		s.handleMessageEvent(event)
	case model.EventRoomsChanged:
		if err := s.RefreshRooms(ctx); err != nil {
			s.logger.Warn("room refresh on topology event failed", "error", err)
		}
	case model.EventGroupInvitation:
		if event.Count != nil {
			s.mu.Lock()
			s.invites = *event.Count
			s.mu.Unlock()
		}
	}
}

func (s *Session) handleMessageEvent(event model.Event) {
	if event.Payload == nil {
		return
	}
	f := *event.Payload

	s.mu.Lock()
	room, known := s.rooms[f.RoomID]
	s.mu.Unlock()
	if !known {
		return
	}

	// The direct send response may have confirmed this message already, or
	// the optimistic entry may still be awaiting it. Either way the client
	// ref identifies the same logical message.
	if f.ClientRef != nil && s.adoptByClientRef(f) {
		return
	}

	s.mu.Lock()
	last := int64(0)
	for _, m := range s.messages[f.RoomID] {
		if m.ID > last {
			last = m.ID
		}
	}
	s.mu.Unlock()
	if f.ID <= last {
		return
	}

	key, err := s.resolver.RoomKey(room)
	if err != nil {
		s.logger.Warn("cannot resolve key for pushed message", "room_id", f.RoomID, "error", err)
		return
	}
	msg := s.decryptFrame(key, f)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[f.RoomID] = append(s.messages[f.RoomID], msg)
	if !msg.IsSelf && f.RoomID != s.active {
		s.unread[f.RoomID]++
	}
}

// adoptByClientRef folds a pushed confirmation into the matching local entry.
func (s *Session) adoptByClientRef(f model.MessageFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages[f.RoomID] {
		m := &s.messages[f.RoomID][i]
		if m.ClientRef != nil && *m.ClientRef == *f.ClientRef {
			if m.ID < 0 {
				m.ID = f.ID
				m.CreatedAt = f.CreatedAt
				m.Pending = false
			}
			return true
		}
	}
	return false
}
