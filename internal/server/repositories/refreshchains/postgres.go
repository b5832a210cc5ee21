package refreshchains

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkarpov/authvault/internal/common"
	"github.com/dkarpov/authvault/internal/dbx"
	"github.com/dkarpov/authvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Replace(ctx context.Context, userID, tokenID string, validity time.Duration) error {

	query :=
		`INSERT INTO refresh_chains (user_id, token_id, expires_at, revoked, updated_at)
         VALUES ($1, $2, $3, FALSE, NOW())
         ON CONFLICT (user_id)
         DO UPDATE SET token_id = $2, expires_at = $3, revoked = FALSE, updated_at = NOW()
         `

	_, err := r.db.ExecContext(ctx, query, userID, tokenID, time.Now().Add(validity))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

// Rotate is the reuse-detection pivot: the WHERE clause only matches while
// oldTokenID is still the chain head, so of two concurrent rotations with
// the same presented token exactly one sees RowsAffected == 1.
func (r *PostgresRepository) Rotate(ctx context.Context, userID, oldTokenID, newTokenID string, validity time.Duration) (bool, error) {

	query :=
		`UPDATE refresh_chains
         SET token_id = $3, expires_at = $4, updated_at = NOW()
         WHERE user_id = $1 AND token_id = $2 AND NOT revoked
         `

	res, err := r.db.ExecContext(ctx, query, userID, oldTokenID, newTokenID, time.Now().Add(validity))
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return affected == 1, nil
}

func (r *PostgresRepository) Find(ctx context.Context, userID string) (*models.RefreshChain, error) {

	query :=
		`SELECT user_id, token_id, expires_at, revoked, updated_at FROM refresh_chains
         WHERE user_id = $1
         `

	chain := &models.RefreshChain{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&chain.UserID, &chain.TokenID, &chain.ExpiresAt, &chain.Revoked, &chain.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return chain, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, userID string) error {

	query :=
		`UPDATE refresh_chains SET revoked = TRUE, updated_at = NOW()
         WHERE user_id = $1
         `

	_, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}
