// Package compliance is the append-only audit log of account deletions and
// data exports. Entries hold hashed PII only and outlive the user row.
package compliance

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/server/models"
)

type Repository interface {
	// Lock serializes compliance actions of one user until the surrounding
	// transaction ends. Must run inside a transaction.
	Lock(ctx context.Context, userID int64) error

	// Create appends an unfinished entry and fills ID and CreatedAt.
	Create(ctx context.Context, e *models.ComplianceLogEntry) (*models.ComplianceLogEntry, error)

	// MarkFinished stamps finished_at on entry id. Finishing twice is a no-op.
	MarkFinished(ctx context.Context, id int64) error

	// LatestByAction returns the user's newest entry for action, or
	// common.ErrorNotFound.
	LatestByAction(ctx context.Context, userID int64, action string) (*models.ComplianceLogEntry, error)

	ListByUser(ctx context.Context, userID int64) ([]models.ComplianceLogEntry, error)

	// ListUnfinished returns entries created before olderThan that never finished.
	ListUnfinished(ctx context.Context, olderThan time.Time) ([]models.ComplianceLogEntry, error)
}
