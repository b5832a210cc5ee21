// Package repomanager groups the repositories behind a single factory so
// services can run any repository against either the pooled connection or a
// transaction handle.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dkarpov/authvault/internal/dbx"
	"github.com/dkarpov/authvault/internal/server/repositories/consumedtokens"
	"github.com/dkarpov/authvault/internal/server/repositories/refreshchains"
	"github.com/dkarpov/authvault/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshChains(db dbx.DBTX) refreshchains.Repository
	ConsumedTokens(db dbx.DBTX) consumedtokens.Repository
}
