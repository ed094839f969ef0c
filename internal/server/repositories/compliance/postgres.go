package compliance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/common"
	"github.com/dmitrijs2005/gophaccount/internal/dbx"
	"github.com/dmitrijs2005/gophaccount/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Lock(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, e *models.ComplianceLogEntry) (*models.ComplianceLogEntry, error) {
	query := `
		INSERT INTO compliance_log (action, user_id, email_hash, username_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowContext(ctx, query, e.Action, e.UserID, e.EmailHash, e.UsernameHash).Scan(&e.ID, &e.CreatedAt); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) MarkFinished(ctx context.Context, id int64) error {
	query := `UPDATE compliance_log SET finished_at = now() WHERE id = $1 AND finished_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LatestByAction(ctx context.Context, userID int64, action string) (*models.ComplianceLogEntry, error) {
	query := `
		SELECT id, action, user_id, email_hash, username_hash, created_at, finished_at
		FROM compliance_log
		WHERE user_id = $1 AND action = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	rows, err := r.db.QueryContext(ctx, query, userID, action)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	entries, err := scanAll(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, common.ErrorNotFound
	}
	return &entries[0], nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID int64) ([]models.ComplianceLogEntry, error) {
	query := `
		SELECT id, action, user_id, email_hash, username_hash, created_at, finished_at
		FROM compliance_log
		WHERE user_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return scanAll(rows)
}

func (r *PostgresRepository) ListUnfinished(ctx context.Context, olderThan time.Time) ([]models.ComplianceLogEntry, error) {
	query := `
		SELECT id, action, user_id, email_hash, username_hash, created_at, finished_at
		FROM compliance_log
		WHERE finished_at IS NULL AND created_at < $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, olderThan)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return scanAll(rows)
}

func scanAll(rows *sql.Rows) ([]models.ComplianceLogEntry, error) {
	defer rows.Close()

	var out []models.ComplianceLogEntry
	for rows.Next() {
		var e models.ComplianceLogEntry
		var finished sql.NullTime
		if err := rows.Scan(&e.ID, &e.Action, &e.UserID, &e.EmailHash, &e.UsernameHash, &e.CreatedAt, &finished); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			e.FinishedAt = &t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
