// Package users declares the record-store contract for user accounts.
package users

import (
	"context"

	"github.com/dkarpov/authvault/internal/server/models"
)

// Repository defines the operations the auth core needs from the record
// store. Implementations return common.ErrorNotFound for missing users and
// common.ErrAlreadyExists on unique-constraint conflicts.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)

	// UpdateCredential replaces the stored bcrypt blob. Plaintext secrets
	// never reach this layer.
	UpdateCredential(ctx context.Context, userID string, hash string) error

	MarkVerified(ctx context.Context, userID string) error
	UpdateAvatar(ctx context.Context, userID string, url string) error
}
