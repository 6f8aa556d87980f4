package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/studychat/studychat-server/internal/model"
)

var _ model.GroupStore = (*GroupRepository)(nil)

type GroupRepository struct {
	db *Connection
}

func NewGroupRepository(db *Connection) *GroupRepository {
	return &GroupRepository{
		db: db,
	}
}

func (r *GroupRepository) PendingInvitationCount(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM group_invitations WHERE invitee_id = $1 AND status = 'pending'`

	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending invitations: %w", err)
	}

	return count, nil
}

func (r *GroupRepository) SessionStatuses(ctx context.Context, userID uuid.UUID) ([]model.SessionStatus, error) {
	query := `SELECT s.id, s.status
			  FROM group_sessions s
			  JOIN group_members m ON m.group_id = s.group_id
			  WHERE m.user_id = $1`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session statuses: %w", err)
	}
	defer rows.Close()

	var statuses []model.SessionStatus
	for rows.Next() {
		var s model.SessionStatus
		if err := rows.Scan(&s.ID, &s.Status); err != nil {
			return nil, err
		}
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return statuses, nil
}
