package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/studychat/studychat-server/internal/logger"
	"github.com/studychat/studychat-server/internal/model"
)

const (
	// maxBulkMessages bounds one history fetch.
	maxBulkMessages = 200
	// maxSearchResults bounds one user search.
	maxSearchResults = 10
	// minSearchLength avoids scanning on one-character queries.
	minSearchLength = 2

	adHocRoomTTL = 24 * time.Hour
	// persistentRoomTTL is "never" for practical purposes; persistent group
	// rooms are excluded from the expiry sweep by construction.
	persistentRoomTTL = 100 * 365 * 24 * time.Hour
)

// Chat implements the server side of the messaging core: key directory,
// rooms, ciphertext storage and the expiry sweep. It never sees plaintext.
type Chat struct {
	roomStore    model.RoomStore
	messageStore model.MessageStore
	keyStore     model.PublicKeyStore
	userStore    model.UserStore
	logger       *logger.Logger
	dmRoomTTL    time.Duration
}

func NewChat(
	roomStore model.RoomStore,
	messageStore model.MessageStore,
	keyStore model.PublicKeyStore,
	userStore model.UserStore,
	logger *logger.Logger,
	dmRoomTTL time.Duration,
) *Chat {
	if dmRoomTTL <= 0 {
		dmRoomTTL = adHocRoomTTL
	}
	return &Chat{
		roomStore:    roomStore,
		messageStore: messageStore,
		keyStore:     keyStore,
		userStore:    userStore,
		logger:       logger,
		dmRoomTTL:    dmRoomTTL,
	}
}

// UploadPublicKey publishes (or re-publishes) a device public key. Upserts on
// key ID, so repeated hydrations are idempotent.
func (s *Chat) UploadPublicKey(ctx context.Context, userID uuid.UUID, keyID, publicKeyJWK string) error {
	if keyID == "" || publicKeyJWK == "" {
		return fmt.Errorf("%w: key id and key material are required", model.ErrInvalidInput)
	}

	err := s.keyStore.Upsert(ctx, model.PublicKey{
		KeyID:        keyID,
		UserID:       userID,
		PublicKeyJWK: publicKeyJWK,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert public key: %w", err)
	}

	s.logger.Debug("public key published", "user_id", userID, "key_id", keyID)
	return nil
}

// GetUserPublicKey returns the user's most recently published key.
func (s *Chat) GetUserPublicKey(ctx context.Context, userID uuid.UUID) (model.PublicKey, error) {
	key, err := s.keyStore.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.PublicKey{}, model.ErrNotFound
		}
		return model.PublicKey{}, fmt.Errorf("failed to get public key: %w", err)
	}
	return key, nil
}

// SearchUsers finds conversation partners by case-insensitive substring match
// on the username, excluding the requester.
func (s *Chat) SearchUsers(ctx context.Context, userID uuid.UUID, query string) ([]model.User, error) {
	if len(query) < minSearchLength {
		return nil, nil
	}

	users, err := s.userStore.Search(ctx, query, userID, maxSearchResults)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	return users, nil
}

// CreateDMRoom creates a two-member room with both memberships in one atomic
// unit. DM rooms need no stored key material: the key is re-derivable from
// the two identities alone.
func (s *Chat) CreateDMRoom(ctx context.Context, userID, peerID uuid.UUID) (uuid.UUID, error) {
	if peerID == userID {
		return uuid.Nil, fmt.Errorf("%w: cannot start a dm with yourself", model.ErrInvalidInput)
	}
	if _, err := s.userStore.GetByID(ctx, peerID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return uuid.Nil, model.ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to get peer: %w", err)
	}

	now := time.Now()
	room := model.Room{
		ID:        uuid.New(),
		Type:      model.RoomTypeDM,
		CreatedBy: userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.dmRoomTTL),
	}
	members := []model.Membership{
		{RoomID: room.ID, UserID: userID, JoinedAt: now},
		{RoomID: room.ID, UserID: peerID, JoinedAt: now},
	}

	if err := s.roomStore.Create(ctx, room, members); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create dm room: %w", err)
	}

	s.logger.Info("dm room created", "room_id", room.ID, "created_by", userID)
	return room.ID, nil
}

// CreateGroupRoom creates an N-member room, storing each member's wrapped
// room key on their membership row.
func (s *Chat) CreateGroupRoom(ctx context.Context, params model.CreateGroupRoomParams) (uuid.UUID, error) {
	now := time.Now()
	ttl := adHocRoomTTL
	if params.Persistent {
		ttl = persistentRoomTTL
	}

	room := model.Room{
		ID:         uuid.New(),
		Type:       model.RoomTypeGroup,
		Name:       params.Name,
		QuestionID: params.QuestionID,
		CreatedBy:  params.UserID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	memberIDs := []uuid.UUID{params.UserID}
	for _, id := range params.MemberIDs {
		if id != params.UserID {
			memberIDs = append(memberIDs, id)
		}
	}

	members := make([]model.Membership, 0, len(memberIDs))
	for _, id := range memberIDs {
		m := model.Membership{RoomID: room.ID, UserID: id, JoinedAt: now}
		if wrapped, ok := params.WrappedKeys[id]; ok {
			m.EncryptedRoomKey = &wrapped
		}
		members = append(members, m)
	}

	if err := s.roomStore.Create(ctx, room, members); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create group room: %w", err)
	}

	s.logger.Info("group room created",
		"room_id", room.ID, "created_by", params.UserID,
		"members", len(members), "persistent", params.Persistent)
	return room.ID, nil
}

// SendMessage stores one ciphertext row and returns it with the
// server-assigned monotonic ID and timestamp.
func (s *Chat) SendMessage(ctx context.Context, params model.SendMessageParams) (model.Message, error) {
	isMember, err := s.roomStore.IsMember(ctx, params.RoomID, params.UserID)
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to check membership: %w", err)
	}
	if !isMember {
		return model.Message{}, model.ErrNotMember
	}

	msg, err := s.messageStore.Insert(ctx, model.Message{
		RoomID:            params.RoomID,
		SenderID:          params.UserID,
		Ciphertext:        params.Ciphertext,
		IV:                params.IV,
		SenderPublicKeyID: params.SenderPublicKeyID,
		ContentType:       params.ContentType,
		ClientRef:         params.ClientRef,
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to store message: %w", err)
	}

	return msg, nil
}

// GetRooms returns the user's non-expired rooms with members, their latest
// published keys and the viewer's wrapped room key.
func (s *Chat) GetRooms(ctx context.Context, userID uuid.UUID) ([]model.RoomInfo, error) {
	rooms, err := s.roomStore.GetRoomsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rooms: %w", err)
	}
	return rooms, nil
}

// GetMessages returns ciphertext rows for a room in ascending ID order,
// optionally after a cursor, capped at the bulk limit.
func (s *Chat) GetMessages(ctx context.Context, userID, roomID uuid.UUID, afterID int64) ([]model.Message, error) {
	isMember, err := s.roomStore.IsMember(ctx, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if !isMember {
		return nil, model.ErrNotMember
	}

	messages, err := s.messageStore.ListByRoom(ctx, roomID, afterID, maxBulkMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// PurgeExpired removes rooms past their expiry together with their
// memberships and messages. Idempotent; safe to run from a scheduler.
func (s *Chat) PurgeExpired(ctx context.Context) (int, error) {
	deleted, err := s.roomStore.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired rooms: %w", err)
	}

	if deleted > 0 {
		s.logger.Info("expired rooms purged", "count", deleted)
	}
	return deleted, nil
}
