package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/common"
	"github.com/dmitrijs2005/gophaccount/internal/dbx"
	"github.com/dmitrijs2005/gophaccount/internal/server/models"
)

const jtiConstraint = "sessions_jti_key"

// PostgresRepository implements the ledger over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.Session) (*models.Session, error) {
	query := `
		INSERT INTO sessions (user_id, jti, user_agent, ip_address, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, s.UserID, s.JTI, s.UserAgent, s.IPAddress, s.ExpiresAt).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, jtiConstraint) {
			return nil, common.ErrConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) JTIExists(ctx context.Context, jti string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE jti = $1)`, jti).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) Rotate(ctx context.Context, oldJTI string, userID int64, newJTI, userAgent, ip string, expiresAt time.Time) (*models.Session, error) {
	query := `
		UPDATE sessions
		SET jti = $1, user_agent = $2, ip_address = $3, expires_at = $4, updated_at = now()
		WHERE jti = $5 AND user_id = $6 AND expires_at > now()
		RETURNING id, user_id, jti, user_agent, ip_address, expires_at, created_at, updated_at
	`
	s := &models.Session{}
	err := r.db.QueryRowContext(ctx, query, newJTI, userAgent, ip, expiresAt, oldJTI, userID).
		Scan(&s.ID, &s.UserID, &s.JTI, &s.UserAgent, &s.IPAddress, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, common.ErrSessionExpiredOrInvalid
		case dbx.IsUniqueViolation(err, jtiConstraint):
			return nil, common.ErrConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID int64, jti string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1 AND jti = $2`, userID, jti); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) IsLive(ctx context.Context, jti string, userID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM sessions WHERE jti = $1 AND user_id = $2 AND expires_at > now())`
	var live bool
	if err := r.db.QueryRowContext(ctx, query, jti, userID).Scan(&live); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return live, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID int64) ([]models.Session, error) {
	query := `
		SELECT id, user_id, jti, user_agent, ip_address, expires_at, created_at, updated_at
		FROM sessions
		WHERE user_id = $1 AND expires_at > now()
		ORDER BY updated_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.JTI, &s.UserAgent, &s.IPAddress, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) DeleteByID(ctx context.Context, userID, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) DeleteOthers(ctx context.Context, userID int64, keepJTI string) (int64, error) {
	return r.deleteCount(ctx, `DELETE FROM sessions WHERE user_id = $1 AND jti <> $2`, userID, keepJTI)
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context) (int64, error) {
	return r.deleteCount(ctx, `DELETE FROM sessions WHERE expires_at <= now()`)
}

func (r *PostgresRepository) deleteCount(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
