package models

import "time"

// Session is one row of the session ledger. A refresh token is live only
// while a row with its JTI exists and ExpiresAt is in the future.
type Session struct {
	ID        int64
	UserID    int64
	JTI       string
	UserAgent string
	IPAddress string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LoginChallenge is a pending second-factor login bound to a pending token.
type LoginChallenge struct {
	ID        int64
	UserID    int64
	JTI       string
	Method    string
	CodeHash  string
	ExpiresAt time.Time
	CreatedAt time.Time
}
