package common

import "time"

// RefreshTokenCookieName is the cookie that carries the refresh token. The
// refresh token never appears in a response body.
const RefreshTokenCookieName = "refresh_token"

// CorrelationIDHeaderName is echoed back on every response.
const CorrelationIDHeaderName = "X-Correlation-ID"

// Compliance actions recorded in the compliance log.
const (
	ActionDeleteAccount = "delete_account"
	ActionRequestData   = "request_data"
)

const (
	// VerificationTokenBytes is the entropy of email verification and export tokens.
	VerificationTokenBytes = 32
	// VerificationTokenValidity is how long an email verification link stays usable.
	VerificationTokenValidity = 24 * time.Hour
	// ExportRequestWindow is the rolling window for accepted data export requests.
	ExportRequestWindow = 24 * time.Hour
	// ExportSchemaVersion tags the export document layout.
	ExportSchemaVersion = 1
)
