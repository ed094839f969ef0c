package models

import "time"

// ComplianceLogEntry is an audit record of a destructive or export action.
// It stores SHA-256 digests of the email and username only. FinishedAt is nil
// until every downstream step has completed.
type ComplianceLogEntry struct {
	ID           int64      `json:"id"`
	Action       string     `json:"action"`
	UserID       int64      `json:"user_id"`
	EmailHash    string     `json:"email_hash"`
	UsernameHash string     `json:"username_hash"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at"`
}

// Finished reports whether the entry has been finalized.
func (e *ComplianceLogEntry) Finished() bool {
	return e.FinishedAt != nil
}
