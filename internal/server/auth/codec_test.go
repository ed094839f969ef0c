package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/common"
	"github.com/dmitrijs2005/gophaccount/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func testIdentity() Identity {
	return Identity{
		UserID:         42,
		Username:       "alice",
		DisplayName:    "Alice",
		ProfilePicture: "https://cdn.example/a.png",
		Email:          "alice@example.com",
		EmailVerified:  false,
		Admin:          true,
		Preferences:    models.DefaultPreferences(),
	}
}

func TestIssuePair_RoundTrip(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	c := newCodec([]byte("super-secret"), clk.now)

	access, refresh, err := c.IssuePair(testIdentity(), "jti-1", 15*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)

	ac, err := c.VerifyAccess(access)
	require.NoError(t, err)
	assert.Equal(t, "jti-1", ac.JTI)
	assert.Equal(t, testIdentity(), ac.Identity)
	assert.Equal(t, clk.t.Add(15*time.Minute), ac.ExpiresAt.UTC())

	rc, err := c.VerifyRefresh(refresh)
	require.NoError(t, err)
	assert.Equal(t, ac.JTI, rc.JTI, "both tokens of a pair share the jti")
	assert.Equal(t, int64(42), rc.Subject())
	assert.Equal(t, clk.t.Add(7*24*time.Hour), rc.ExpiresAt.UTC())
}

func TestVerify_ReturnsClosedVariants(t *testing.T) {
	t.Parallel()

	c := NewCodec([]byte("k"))
	tests := []struct {
		name   string
		claims Claims
		kind   Kind
	}{
		{"access", &AccessClaims{Identity: testIdentity(), JTI: "a"}, KindAccess},
		{"refresh", &RefreshClaims{Identity: testIdentity(), JTI: "r"}, KindRefresh},
		{"pending", &PendingClaims{UserID: 7, JTI: "p", Methods: []string{"totp"}}, KindPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := c.Issue(tt.claims, time.Minute)
			require.NoError(t, err)

			got, err := c.Verify(tok)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind())
			assert.Equal(t, tt.claims.SessionID(), got.SessionID())
			assert.Equal(t, tt.claims.Subject(), got.Subject())

			switch v := got.(type) {
			case *AccessClaims, *RefreshClaims:
			case *PendingClaims:
				assert.Equal(t, []string{"totp"}, v.Methods)
			default:
				t.Fatalf("unexpected claims type %T", v)
			}
		})
	}
}

func TestVerifyKind_WrongKind(t *testing.T) {
	t.Parallel()

	c := NewCodec([]byte("k"))
	access, refresh, err := c.IssuePair(testIdentity(), "j", time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = c.VerifyRefresh(access)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	_, err = c.VerifyAccess(refresh)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	_, err = c.VerifyPending(access)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Now()}
	c := newCodec([]byte("secret"), clk.now)

	tok, err := c.Issue(&AccessClaims{Identity: testIdentity(), JTI: "j"}, time.Minute)
	require.NoError(t, err)

	clk.t = clk.t.Add(2 * time.Minute)
	_, err = c.Verify(tok)
	if err != common.ErrTokenExpired {
		t.Fatalf("expected common.ErrTokenExpired, got %v", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := NewCodec([]byte("right-secret")).Issue(&AccessClaims{Identity: testIdentity(), JTI: "j"}, time.Hour)
	require.NoError(t, err)

	_, err = NewCodec([]byte("wrong-secret")).Verify(tok)
	assert.ErrorIs(t, err, common.ErrInvalidSignature)
}

func TestVerify_BadSignatureWinsOverExpiry(t *testing.T) {
	t.Parallel()

	tok, err := NewCodec([]byte("right-secret")).Issue(&AccessClaims{Identity: testIdentity(), JTI: "j"}, -time.Hour)
	require.NoError(t, err)

	_, err = NewCodec([]byte("wrong-secret")).Verify(tok)
	assert.ErrorIs(t, err, common.ErrInvalidSignature)
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	w := wireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ID:        "j",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Type:     KindAccess,
		Identity: &Identity{Username: "mallory"},
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, w).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = NewCodec([]byte("k")).Verify(none)
	assert.ErrorIs(t, err, common.ErrInvalidSignature)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, w).SignedString([]byte("k"))
	require.NoError(t, err)
	_, err = NewCodec([]byte("k")).Verify(hs512)
	assert.ErrorIs(t, err, common.ErrInvalidSignature)
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()

	c := NewCodec([]byte("k"))
	inputs := []string{
		"",
		"not.a.jwt",
		"a.b",
		strings.Repeat(".", 10),
		"eyJhbGciOiJIUzI1NiJ9.%%%.sig",
	}
	for _, in := range inputs {
		var err error
		require.NotPanics(t, func() { _, err = c.Verify(in) }, in)
		assert.ErrorIs(t, err, common.ErrMalformedToken, in)
	}
}

func TestVerify_UnknownKindOrMissingFields(t *testing.T) {
	t.Parallel()

	secret := []byte("k")
	sign := func(w wireClaims) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, w).SignedString(secret)
		require.NoError(t, err)
		return tok
	}
	base := func() wireClaims {
		return wireClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "1",
				ID:        "j",
				IssuedAt:  jwt.NewNumericDate(time.Now()),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			Type:     KindAccess,
			Identity: &Identity{Username: "u"},
		}
	}

	unknown := base()
	unknown.Type = "admin"

	noIdentity := base()
	noIdentity.Identity = nil

	badSubject := base()
	badSubject.Subject = "alice"

	noExpiry := base()
	noExpiry.ExpiresAt = nil

	c := NewCodec(secret)
	for name, w := range map[string]wireClaims{
		"unknown kind": unknown,
		"no identity":  noIdentity,
		"bad subject":  badSubject,
		"no expiry":    noExpiry,
	} {
		_, err := c.Verify(sign(w))
		assert.True(t, errors.Is(err, common.ErrMalformedToken), "%s: got %v", name, err)
	}
}

func TestIssue_RequiresJTI(t *testing.T) {
	t.Parallel()

	_, err := NewCodec([]byte("k")).Issue(&AccessClaims{Identity: testIdentity()}, time.Minute)
	require.Error(t, err)
}
