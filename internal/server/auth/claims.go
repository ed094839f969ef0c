package auth

import (
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/server/models"
)

// Kind is the token kind carried in the "type" claim.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindPending Kind = "pending"
)

// Identity is the user snapshot embedded in access and refresh tokens.
type Identity struct {
	UserID         int64              `json:"-"`
	Username       string             `json:"username"`
	DisplayName    string             `json:"display_name"`
	ProfilePicture string             `json:"profile_picture"`
	Email          string             `json:"email"`
	EmailVerified  bool               `json:"email_verified"`
	Admin          bool               `json:"admin"`
	Internal       bool               `json:"internal"`
	Preferences    models.Preferences `json:"preferences"`
}

// NewIdentity builds the token snapshot for u.
func NewIdentity(u *models.User, prefs models.Preferences) Identity {
	return Identity{
		UserID:         u.ID,
		Username:       u.Username,
		DisplayName:    u.DisplayName,
		ProfilePicture: u.AvatarURL,
		Email:          u.Email,
		EmailVerified:  u.EmailVerified,
		Admin:          u.Admin,
		Internal:       u.Internal,
		Preferences:    prefs,
	}
}

// Claims is the closed set of token payloads: *AccessClaims, *RefreshClaims
// and *PendingClaims. Callers switch on the concrete type.
type Claims interface {
	Kind() Kind
	Subject() int64
	SessionID() string
	Times() (issuedAt, expiresAt time.Time)
	claims()
}

// Stamp holds the registered time claims filled in by Codec.Issue.
type Stamp struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (s Stamp) Times() (time.Time, time.Time) { return s.IssuedAt, s.ExpiresAt }

// AccessClaims authorizes API calls. Its JTI joins it to a session row.
type AccessClaims struct {
	Identity
	JTI string
	Stamp
}

// RefreshClaims is exchanged at /refresh for a new pair. Same JTI as the
// access token minted with it.
type RefreshClaims struct {
	Identity
	JTI string
	Stamp
}

// PendingClaims is the single-purpose token returned by a login that still
// needs a second factor. JTI names the login challenge, not a session.
type PendingClaims struct {
	UserID  int64
	JTI     string
	Methods []string
	Stamp
}

func (c *AccessClaims) Kind() Kind        { return KindAccess }
func (c *AccessClaims) Subject() int64    { return c.UserID }
func (c *AccessClaims) SessionID() string { return c.JTI }
func (c *AccessClaims) claims()           {}

func (c *RefreshClaims) Kind() Kind        { return KindRefresh }
func (c *RefreshClaims) Subject() int64    { return c.UserID }
func (c *RefreshClaims) SessionID() string { return c.JTI }
func (c *RefreshClaims) claims()           {}

func (c *PendingClaims) Kind() Kind        { return KindPending }
func (c *PendingClaims) Subject() int64    { return c.UserID }
func (c *PendingClaims) SessionID() string { return c.JTI }
func (c *PendingClaims) claims()           {}
