package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/studychat/studychat-server/internal/model"
)

var _ model.PublicKeyStore = (*PublicKeyRepository)(nil)

type PublicKeyRepository struct {
	db *Connection
}

func NewPublicKeyRepository(db *Connection) *PublicKeyRepository {
	return &PublicKeyRepository{
		db: db,
	}
}

func (r *PublicKeyRepository) Upsert(ctx context.Context, key model.PublicKey) error {
	query := `INSERT INTO user_public_keys (id, user_id, public_key, updated_at)
			  VALUES ($1, $2, $3, now())
			  ON CONFLICT (id) DO UPDATE SET public_key = EXCLUDED.public_key, updated_at = now()`

	if _, err := r.db.Exec(ctx, query, key.KeyID, key.UserID, key.PublicKeyJWK); err != nil {
		return fmt.Errorf("failed to upsert public key: %w", err)
	}

	return nil
}

func (r *PublicKeyRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (model.PublicKey, error) {
	var key model.PublicKey
	query := `SELECT id, user_id, public_key, updated_at
			  FROM user_public_keys
			  WHERE user_id = $1
			  ORDER BY updated_at DESC
			  LIMIT 1`

	err := r.db.QueryRow(ctx, query, userID).Scan(
		&key.KeyID, &key.UserID, &key.PublicKeyJWK, &key.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PublicKey{}, model.ErrNotFound
		}
		return model.PublicKey{}, fmt.Errorf("failed to get public key by user id: %w", err)
	}

	return key, nil
}
