package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/studychat/studychat-server/internal/model"
)

var _ model.MessageStore = (*MessageRepository)(nil)

type MessageRepository struct {
	db *Connection
}

func NewMessageRepository(db *Connection) *MessageRepository {
	return &MessageRepository{
		db: db,
	}
}

func (r *MessageRepository) Insert(ctx context.Context, msg model.Message) (model.Message, error) {
	query := `INSERT INTO chat_messages (room_id, sender_id, ciphertext, iv, sender_public_key_id, content_type, client_ref)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  RETURNING id, created_at`

	saved := msg
	err := r.db.QueryRow(ctx, query,
		msg.RoomID, msg.SenderID, msg.Ciphertext, msg.IV,
		msg.SenderPublicKeyID, msg.ContentType, msg.ClientRef,
	).Scan(&saved.ID, &saved.CreatedAt)
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}

	return saved, nil
}

func (r *MessageRepository) ListByRoom(ctx context.Context, roomID uuid.UUID, afterID int64, limit int) ([]model.Message, error) {
	query := `SELECT id, room_id, sender_id, ciphertext, iv, sender_public_key_id, content_type, client_ref, created_at
			  FROM chat_messages
			  WHERE room_id = $1 AND id > $2
			  ORDER BY id
			  LIMIT $3`

	rows, err := r.db.Query(ctx, query, roomID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *MessageRepository) ListAfterForRooms(ctx context.Context, roomIDs []uuid.UUID, afterID int64, limit int) ([]model.Message, error) {
	if len(roomIDs) == 0 {
		return nil, nil
	}

	query := `SELECT id, room_id, sender_id, ciphertext, iv, sender_public_key_id, content_type, client_ref, created_at
			  FROM chat_messages
			  WHERE room_id = ANY($1) AND id > $2
			  ORDER BY id
			  LIMIT $3`

	rows, err := r.db.Query(ctx, query, roomIDs, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *MessageRepository) MaxIDForRooms(ctx context.Context, roomIDs []uuid.UUID) (int64, error) {
	if len(roomIDs) == 0 {
		return 0, nil
	}

	query := `SELECT COALESCE(MAX(id), 0) FROM chat_messages WHERE room_id = ANY($1)`

	var maxID int64
	if err := r.db.QueryRow(ctx, query, roomIDs).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("failed to query max message id: %w", err)
	}

	return maxID, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows rowScanner) ([]model.Message, error) {
	var messages []model.Message
	for rows.Next() {
		var msg model.Message
		if err := rows.Scan(
			&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Ciphertext, &msg.IV,
			&msg.SenderPublicKeyID, &msg.ContentType, &msg.ClientRef, &msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}
