// Package users declares the credential store: user rows, their settings
// and second-factor flags.
package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/server/models"
)

type Repository interface {
	// FindConflict reports, in one query, whether username and/or email are
	// already taken.
	FindConflict(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error)

	// Create inserts user and fills ID and CreatedAt. A unique violation that
	// slipped past FindConflict is returned as *common.ConflictError.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// GetByIdentifier looks a user up by username or email.
	GetByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)

	// GetPreferences returns the settings row or the defaults if absent.
	GetPreferences(ctx context.Context, userID int64) (models.Preferences, error)

	// VerifyEmail consumes a live verification token in one statement and
	// returns the verified user id. Unknown or expired tokens are
	// common.ErrorNotFound.
	VerifyEmail(ctx context.Context, token string) (int64, error)

	// RenewVerification replaces the pending verification token and expiry.
	RenewVerification(ctx context.Context, id int64, token string, expires time.Time) error

	// SetPassword stores a new password hash.
	SetPassword(ctx context.Context, id int64, hash string) error

	SetEmailTwoFactor(ctx context.Context, id int64, enabled bool) error
	SetTOTP(ctx context.Context, id int64, enabled bool, seed string) error

	// Delete removes the user; sessions, settings and challenges cascade.
	// Deleting an absent user reports false without error.
	Delete(ctx context.Context, id int64) (bool, error)
}
