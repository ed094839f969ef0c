package challenges

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *PostgresRepository) Create(ctx context.Context, c *models.LoginChallenge) error {
	query := `
		INSERT INTO login_challenges (user_id, jti, method, code_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowContext(ctx, query, c.UserID, c.JTI, c.Method, c.CodeHash, c.ExpiresAt).Scan(&c.ID, &c.CreatedAt); err != nil {
		if dbx.IsUniqueViolation(err, "login_challenges_jti_key") {
			return common.ErrConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Find(ctx context.Context, jti string, userID int64) (*models.LoginChallenge, error) {
	query := `
		SELECT id, user_id, jti, method, code_hash, expires_at, created_at
		FROM login_challenges
		WHERE jti = $1 AND user_id = $2 AND expires_at > now()
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, jti, userID))
}

func (r *PostgresRepository) Consume(ctx context.Context, jti string, userID int64) (*models.LoginChallenge, error) {
	query := `
		DELETE FROM login_challenges
		WHERE jti = $1 AND user_id = $2 AND expires_at > now()
		RETURNING id, user_id, jti, method, code_hash, expires_at, created_at
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, jti, userID))
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM login_challenges WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.LoginChallenge, error) {
	c := &models.LoginChallenge{}
	if err := row.Scan(&c.ID, &c.UserID, &c.JTI, &c.Method, &c.CodeHash, &c.ExpiresAt, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}
