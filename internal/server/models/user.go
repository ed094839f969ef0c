// Package models defines server-side data models persisted in the database.
package models

import "time"

type User struct {
	ID            int64
	Username      string
	Email         string
	PasswordHash  string
	EmailVerified bool

	// VerificationToken is the 64-hex email verification token, empty once
	// the address has been verified.
	VerificationToken   string
	VerificationExpires time.Time

	Admin    bool
	Internal bool

	TwoFactorEmail bool
	TwoFactorTOTP  bool
	TOTPSeed       string

	DisplayName string
	AvatarURL   string
	Description string
	CreatedAt   time.Time
}

// Preferences is the per-user settings snapshot carried in tokens.
type Preferences struct {
	Timezone   string `json:"timezone"`
	DateFormat string `json:"dateFormat"`
	FirstDay   string `json:"firstDay"`
	Language   string `json:"language"`
}

// DefaultPreferences is used when a user has no settings row yet.
func DefaultPreferences() Preferences {
	return Preferences{
		Timezone:   "UTC",
		DateFormat: "DD/MM/YYYY",
		FirstDay:   "1",
		Language:   "en",
	}
}
