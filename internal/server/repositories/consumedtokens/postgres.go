package consumedtokens

import (
	"context"
	"fmt"

	"github.com/dkarpov/authvault/internal/dbx"
	"github.com/dkarpov/authvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Consume(ctx context.Context, token *models.ConsumedToken) (bool, error) {

	query :=
		`INSERT INTO consumed_tokens (token_id, user_id, purpose, expires_at)
         VALUES ($1, $2, $3, $4)
         ON CONFLICT (token_id) DO NOTHING
         `

	res, err := r.db.ExecContext(ctx, query,
		token.TokenID, token.UserID, token.Purpose, token.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return affected == 1, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context) (int64, error) {

	query :=
		`DELETE FROM consumed_tokens
         WHERE expires_at < NOW()
         `

	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return affected, nil
}
