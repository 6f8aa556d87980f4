package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/studychat/studychat-server/internal/model"
)

var _ model.RoomStore = (*RoomRepository)(nil)

type RoomRepository struct {
	db *Connection
}

func NewRoomRepository(db *Connection) *RoomRepository {
	return &RoomRepository{
		db: db,
	}
}

// Create inserts the room and all initial memberships in one transaction, so
// a room can never exist without its member rows.
func (r *RoomRepository) Create(ctx context.Context, room model.Room, members []model.Membership) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	roomQuery := `INSERT INTO chat_rooms (id, type, name, question_id, created_by, created_at, expires_at)
				  VALUES ($1, $2, $3, $4, $5, $6, $7)`
	var name *string
	if room.Name != "" {
		name = &room.Name
	}
	if _, err := tx.Exec(ctx, roomQuery,
		room.ID, string(room.Type), name, room.QuestionID, room.CreatedBy, room.CreatedAt, room.ExpiresAt,
	); err != nil {
		return fmt.Errorf("failed to insert room: %w", err)
	}

	memberQuery := `INSERT INTO chat_room_members (room_id, user_id, encrypted_room_key, joined_at)
					VALUES ($1, $2, $3, $4)`
	for _, m := range members {
		if _, err := tx.Exec(ctx, memberQuery, m.RoomID, m.UserID, m.EncryptedRoomKey, m.JoinedAt); err != nil {
			return fmt.Errorf("failed to insert membership: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit room creation: %w", err)
	}

	return nil
}

func (r *RoomRepository) GetRoomsForUser(ctx context.Context, userID uuid.UUID) ([]model.RoomInfo, error) {
	roomQuery := `
		SELECT r.id, r.type, r.name, r.question_id, r.created_by, r.created_at, r.expires_at, m.encrypted_room_key
		FROM chat_rooms r
		JOIN chat_room_members m ON m.room_id = r.id
		WHERE m.user_id = $1 AND r.expires_at > now()
		ORDER BY r.created_at DESC`

	rows, err := r.db.Query(ctx, roomQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []model.RoomInfo
	roomIDs := make([]uuid.UUID, 0)
	for rows.Next() {
		var info model.RoomInfo
		var roomType string
		var name *string
		if err := rows.Scan(
			&info.ID, &roomType, &name, &info.QuestionID,
			&info.CreatedBy, &info.CreatedAt, &info.ExpiresAt, &info.EncryptedRoomKey,
		); err != nil {
			return nil, err
		}
		info.Type = model.RoomType(roomType)
		if name != nil {
			info.Name = *name
		}
		rooms = append(rooms, info)
		roomIDs = append(roomIDs, info.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(rooms) == 0 {
		return nil, nil
	}

	membersByRoom, err := r.membersForRooms(ctx, roomIDs)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		rooms[i].Members = membersByRoom[rooms[i].ID]
	}

	return rooms, nil
}

func (r *RoomRepository) membersForRooms(ctx context.Context, roomIDs []uuid.UUID) (map[uuid.UUID][]model.MemberInfo, error) {
	query := `
		SELECT m.room_id, m.user_id, u.username, u.display_name, k.id, k.public_key
		FROM chat_room_members m
		JOIN users u ON u.id = m.user_id
		LEFT JOIN LATERAL (
			SELECT id, public_key FROM user_public_keys
			WHERE user_id = m.user_id
			ORDER BY updated_at DESC
			LIMIT 1
		) k ON true
		WHERE m.room_id = ANY($1)
		ORDER BY m.joined_at`

	rows, err := r.db.Query(ctx, query, roomIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query room members: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]model.MemberInfo)
	for rows.Next() {
		var roomID uuid.UUID
		var member model.MemberInfo
		if err := rows.Scan(
			&roomID, &member.UserID, &member.Username, &member.DisplayName,
			&member.PublicKeyID, &member.PublicKeyJWK,
		); err != nil {
			return nil, err
		}
		out[roomID] = append(out[roomID], member)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (r *RoomRepository) RoomIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT room_id FROM chat_room_members WHERE user_id = $1`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}

func (r *RoomRepository) FilterUnexpired(ctx context.Context, roomIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(roomIDs) == 0 {
		return nil, nil
	}

	query := `SELECT id FROM chat_rooms WHERE id = ANY($1) AND expires_at > now()`

	rows, err := r.db.Query(ctx, query, roomIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to filter rooms: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}

func (r *RoomRepository) MemberKeysForRooms(ctx context.Context, roomIDs []uuid.UUID) ([]model.MemberKey, error) {
	if len(roomIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT m.user_id, COALESCE(k.id, '')
		FROM chat_room_members m
		LEFT JOIN LATERAL (
			SELECT id FROM user_public_keys
			WHERE user_id = m.user_id
			ORDER BY updated_at DESC
			LIMIT 1
		) k ON true
		WHERE m.room_id = ANY($1)`

	rows, err := r.db.Query(ctx, query, roomIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query member keys: %w", err)
	}
	defer rows.Close()

	var keys []model.MemberKey
	for rows.Next() {
		var mk model.MemberKey
		if err := rows.Scan(&mk.UserID, &mk.KeyID); err != nil {
			return nil, err
		}
		keys = append(keys, mk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return keys, nil
}

func (r *RoomRepository) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM chat_room_members WHERE room_id = $1 AND user_id = $2)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, roomID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}

	return exists, nil
}

// DeleteExpired removes expired rooms; the schema's cascading foreign keys
// take memberships and messages with them atomically.
func (r *RoomRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	query := `DELETE FROM chat_rooms WHERE expires_at < $1`

	cmd, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired rooms: %w", err)
	}

	return int(cmd.RowsAffected()), nil
}
