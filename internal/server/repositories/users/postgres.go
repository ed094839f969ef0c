package users

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

const userColumns = `id, username, email, password_hash, email_verified,
		COALESCE(email_verification_token, ''), email_verification_expires,
		admin, internal, twofa_email_enabled, twofa_totp_enabled,
		COALESCE(twofa_totp_seed, ''), display_name,
		COALESCE(avatar_url, ''), COALESCE(description, ''), created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) FindConflict(ctx context.Context, username, email string) (bool, bool, error) {
	query := `
		SELECT COALESCE(bool_or(username = $1), false), COALESCE(bool_or(email = $2), false)
		FROM users
		WHERE username = $1 OR email = $2
	`
	var usernameTaken, emailTaken bool
	if err := r.db.QueryRowContext(ctx, query, username, email).Scan(&usernameTaken, &emailTaken); err != nil {
		return false, false, fmt.Errorf("db error: %w", err)
	}
	return usernameTaken, emailTaken, nil
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (username, email, password_hash, email_verification_token,
			email_verification_expires, display_name, avatar_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		user.Username, user.Email, user.PasswordHash, nullString(user.VerificationToken),
		nullTime(user.VerificationExpires), user.DisplayName, nullString(user.AvatarURL),
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		switch {
		case dbx.IsUniqueViolation(err, "users_username_key"):
			return nil, &common.ConflictError{Code: "username_taken", Message: "Username is already taken."}
		case dbx.IsUniqueViolation(err, "users_email_key"):
			return nil, &common.ConflictError{Code: "email_taken", Message: "Email is already registered."}
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE username = $1 OR email = $1
		LIMIT 1
	`
	return r.getOne(ctx, query, identifier)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE id = $1
	`
	return r.getOne(ctx, query, id)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	u := &models.User{}
	var expires sql.NullTime
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.EmailVerified,
		&u.VerificationToken, &expires,
		&u.Admin, &u.Internal, &u.TwoFactorEmail, &u.TwoFactorTOTP,
		&u.TOTPSeed, &u.DisplayName, &u.AvatarURL, &u.Description, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if expires.Valid {
		u.VerificationExpires = expires.Time
	}
	return u, nil
}

func (r *PostgresRepository) GetPreferences(ctx context.Context, userID int64) (models.Preferences, error) {
	query := `
		SELECT timezone, date_format, first_day, language
		FROM user_settings
		WHERE user_id = $1
	`
	var p models.Preferences
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&p.Timezone, &p.DateFormat, &p.FirstDay, &p.Language)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DefaultPreferences(), nil
		}
		return models.Preferences{}, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) VerifyEmail(ctx context.Context, token string) (int64, error) {
	query := `
		UPDATE users
		SET email_verified = TRUE, email_verification_token = NULL, email_verification_expires = NULL
		WHERE email_verification_token = $1 AND email_verification_expires > now()
		RETURNING id
	`
	var id int64
	if err := r.db.QueryRowContext(ctx, query, token).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) RenewVerification(ctx context.Context, id int64, token string, expires time.Time) error {
	query := `
		UPDATE users
		SET email_verification_token = $1, email_verification_expires = $2
		WHERE id = $3 AND NOT email_verified
	`
	return r.execOne(ctx, query, token, expires, id)
}

func (r *PostgresRepository) SetPassword(ctx context.Context, id int64, hash string) error {
	return r.execOne(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, hash, id)
}

func (r *PostgresRepository) SetEmailTwoFactor(ctx context.Context, id int64, enabled bool) error {
	query := `UPDATE users SET twofa_email_enabled = $1 WHERE id = $2`
	return r.execOne(ctx, query, enabled, id)
}

func (r *PostgresRepository) SetTOTP(ctx context.Context, id int64, enabled bool, seed string) error {
	query := `UPDATE users SET twofa_totp_enabled = $1, twofa_totp_seed = $2 WHERE id = $3`
	return r.execOne(ctx, query, enabled, nullString(seed), id)
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
