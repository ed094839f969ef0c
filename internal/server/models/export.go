package models

import "time"

// ExportDocument is the JSON written for a data export request. Secrets
// (password hash, TOTP seed, verification token) are never included.
type ExportDocument struct {
	SchemaVersion int                  `json:"schema_version"`
	ReferenceID   int64                `json:"reference_id"`
	GeneratedAt   time.Time            `json:"generated_at"`
	User          ExportUser           `json:"user"`
	Preferences   Preferences          `json:"preferences"`
	Sessions      []ExportSession      `json:"sessions"`
	ComplianceLog []ComplianceLogEntry `json:"compliance_log"`
}

type ExportUser struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	EmailVerified  bool      `json:"email_verified"`
	DisplayName    string    `json:"display_name"`
	AvatarURL      string    `json:"avatar_url"`
	Description    string    `json:"description"`
	TwoFactorEmail bool      `json:"twofa_email_enabled"`
	TwoFactorTOTP  bool      `json:"twofa_totp_enabled"`
	CreatedAt      time.Time `json:"created_at"`
}

type ExportSession struct {
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewExportUser copies the exportable fields of u.
func NewExportUser(u *User) ExportUser {
	return ExportUser{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		EmailVerified:  u.EmailVerified,
		DisplayName:    u.DisplayName,
		AvatarURL:      u.AvatarURL,
		Description:    u.Description,
		TwoFactorEmail: u.TwoFactorEmail,
		TwoFactorTOTP:  u.TwoFactorTOTP,
		CreatedAt:      u.CreatedAt,
	}
}
