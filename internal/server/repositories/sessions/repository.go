// Package sessions is the session ledger: the authority on whether a refresh
// token (identified by its jti) is still alive.
package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/server/models"
)

type Repository interface {
	// Create inserts a session. A jti that is already present is reported as
	// common.ErrConflict by the unique constraint.
	Create(ctx context.Context, s *models.Session) (*models.Session, error)

	// JTIExists reports whether any row uses jti.
	JTIExists(ctx context.Context, jti string) (bool, error)

	// Rotate replaces jti, device metadata and expiry of the live row matching
	// (oldJTI, userID) in a single conditional UPDATE. When no row matches it
	// returns common.ErrSessionExpiredOrInvalid; of two concurrent rotations
	// of the same oldJTI exactly one succeeds.
	Rotate(ctx context.Context, oldJTI string, userID int64, newJTI, userAgent, ip string, expiresAt time.Time) (*models.Session, error)

	// Delete revokes the session (userID, jti). Absence is not an error.
	Delete(ctx context.Context, userID int64, jti string) error

	// IsLive reports whether (jti, userID) exists and has not expired.
	IsLive(ctx context.Context, jti string, userID int64) (bool, error)

	ListByUser(ctx context.Context, userID int64) ([]models.Session, error)

	// DeleteByID revokes one of the user's own sessions.
	DeleteByID(ctx context.Context, userID, id int64) (bool, error)

	// DeleteOthers revokes every session of the user except keepJTI and
	// returns how many went.
	DeleteOthers(ctx context.Context, userID int64, keepJTI string) (int64, error)

	// DeleteExpired removes every row past its expiry.
	DeleteExpired(ctx context.Context) (int64, error)
}
