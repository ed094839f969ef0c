// Package challenges stores pending second-factor logins.
package challenges

import (
	"context"

	"github.com/dmitrijs2005/gophaccount/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, c *models.LoginChallenge) error

	// Find returns the live challenge (jti, userID) without consuming it.
	Find(ctx context.Context, jti string, userID int64) (*models.LoginChallenge, error)

	// Consume deletes and returns the live challenge in one statement, so a
	// pending token completes at most one login. Missing or expired
	// challenges are common.ErrorNotFound.
	Consume(ctx context.Context, jti string, userID int64) (*models.LoginChallenge, error)

	DeleteExpired(ctx context.Context) (int64, error)
}
