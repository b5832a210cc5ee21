package repomanager

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dkarpov/authvault/internal/dbx"
	"github.com/dkarpov/authvault/internal/server/migrations"
	"github.com/dkarpov/authvault/internal/server/repositories/consumedtokens"
	"github.com/dkarpov/authvault/internal/server/repositories/refreshchains"
	"github.com/dkarpov/authvault/internal/server/repositories/users"
)

type PostgresRepositoryManager struct {
}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) RefreshChains(db dbx.DBTX) refreshchains.Repository {
	return refreshchains.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) ConsumedTokens(db dbx.DBTX) consumedtokens.Repository {
	return consumedtokens.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return err
	}

	return nil
}
