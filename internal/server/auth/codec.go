// Package auth implements the token codec (HS256 JWTs carrying a closed set
// of claim kinds) and password hashing.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// wireClaims is the JSON payload of every token. Identity is present for
// access and refresh tokens, Methods for pending ones.
type wireClaims struct {
	jwt.RegisteredClaims
	Type Kind `json:"type"`
	*Identity
	Methods []string `json:"methods,omitempty"`
}

// Codec signs and verifies tokens with a symmetric key. It knows nothing
// about sessions.
type Codec struct {
	secret []byte
	now    func() time.Time
	parser *jwt.Parser
}

// NewCodec returns a Codec keyed with secret.
func NewCodec(secret []byte) *Codec {
	return newCodec(secret, time.Now)
}

func newCodec(secret []byte, now func() time.Time) *Codec {
	return &Codec{
		secret: secret,
		now:    now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(now),
		),
	}
}

// Issue signs claims with an expiry of now+ttl. The token kind is taken from
// the concrete claims type.
func (c *Codec) Issue(claims Claims, ttl time.Duration) (string, error) {
	now := c.now()
	w := wireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(claims.Subject(), 10),
			ID:        claims.SessionID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type: claims.Kind(),
	}

	switch v := claims.(type) {
	case *AccessClaims:
		id := v.Identity
		w.Identity = &id
	case *RefreshClaims:
		id := v.Identity
		w.Identity = &id
	case *PendingClaims:
		w.Methods = v.Methods
	default:
		return "", fmt.Errorf("unsupported claims type %T", claims)
	}

	if w.ID == "" {
		return "", errors.New("token must carry a jti")
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, w).SignedString(c.secret)
}

// IssuePair mints an access and a refresh token sharing jti.
func (c *Codec) IssuePair(id Identity, jti string, accessTTL, refreshTTL time.Duration) (access, refresh string, err error) {
	access, err = c.Issue(&AccessClaims{Identity: id, JTI: jti}, accessTTL)
	if err != nil {
		return "", "", err
	}
	refresh, err = c.Issue(&RefreshClaims{Identity: id, JTI: jti}, refreshTTL)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// Verify checks signature and expiry and decodes the claims. Failures are
// common.ErrInvalidSignature, common.ErrTokenExpired or
// common.ErrMalformedToken; arbitrary input never panics.
func (c *Codec) Verify(token string) (Claims, error) {
	w := &wireClaims{}
	if _, err := c.parser.ParseWithClaims(token, w, c.key); err != nil {
		return nil, classify(err)
	}

	uid, err := strconv.ParseInt(w.Subject, 10, 64)
	if err != nil || w.ID == "" || w.IssuedAt == nil {
		return nil, common.ErrMalformedToken
	}
	stamp := Stamp{IssuedAt: w.IssuedAt.Time, ExpiresAt: w.ExpiresAt.Time}

	switch w.Type {
	case KindAccess, KindRefresh:
		if w.Identity == nil {
			return nil, common.ErrMalformedToken
		}
		id := *w.Identity
		id.UserID = uid
		if w.Type == KindAccess {
			return &AccessClaims{Identity: id, JTI: w.ID, Stamp: stamp}, nil
		}
		return &RefreshClaims{Identity: id, JTI: w.ID, Stamp: stamp}, nil
	case KindPending:
		return &PendingClaims{UserID: uid, JTI: w.ID, Methods: w.Methods, Stamp: stamp}, nil
	default:
		return nil, common.ErrMalformedToken
	}
}

// VerifyAccess is Verify restricted to access tokens.
func (c *Codec) VerifyAccess(token string) (*AccessClaims, error) {
	return verifyKind[*AccessClaims](c, token)
}

// VerifyRefresh is Verify restricted to refresh tokens.
func (c *Codec) VerifyRefresh(token string) (*RefreshClaims, error) {
	return verifyKind[*RefreshClaims](c, token)
}

// VerifyPending is Verify restricted to pending second-factor tokens.
func (c *Codec) VerifyPending(token string) (*PendingClaims, error) {
	return verifyKind[*PendingClaims](c, token)
}

func verifyKind[T Claims](c *Codec, token string) (T, error) {
	var zero T
	claims, err := c.Verify(token)
	if err != nil {
		return zero, err
	}
	typed, ok := claims.(T)
	if !ok {
		return zero, common.ErrInvalidToken
	}
	return typed, nil
}

func (c *Codec) key(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return c.secret, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return common.ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return common.ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return common.ErrTokenExpired
	default:
		return common.ErrMalformedToken
	}
}
