package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/common"
	"github.com/dmitrijs2005/gophaccount/internal/cryptox"
	"github.com/dmitrijs2005/gophaccount/internal/server/twofactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwoFactor_StatusAndEmail(t *testing.T) {
	h := newHarness(t)
	sess := h.signup(t, "alice")
	ctx := context.Background()
	uid := sess.Identity.UserID

	st, err := h.twofactor.Status(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, TwoFactorStatus{Policy: twofactor.PolicyEnforce}, *st)

	require.NoError(t, h.twofactor.SetEmail(ctx, uid, true))
	require.NoError(t, h.twofactor.SetEmail(ctx, uid, true))
	h.wait()

	st, err = h.twofactor.Status(ctx, uid)
	require.NoError(t, err)
	assert.True(t, st.Email)
	assert.Equal(t, []string{"Confirm your email address", "Two-factor authentication enabled"}, h.sent.subjects(),
		"setting the same value twice notifies once")

	_, err = h.twofactor.Status(ctx, 999)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestTwoFactor_TOTPLifecycle(t *testing.T) {
	h := newHarness(t)
	sess := h.signup(t, "alice")
	ctx := context.Background()
	uid := sess.Identity.UserID

	setup, err := h.twofactor.SetupTOTP(ctx, uid)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(setup.URI, "otpauth://totp/Accounts:alice?"))
	assert.Contains(t, setup.URI, "secret="+setup.Secret)
	assert.Empty(t, h.store.users[uid].TOTPSeed, "setup alone stores nothing")

	err = h.twofactor.SetTOTP(ctx, uid, true, "not-a-seed!", "123456")
	var ve *common.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "invalid_seed", ve.Code)

	wrong, err := twofactor.GenerateCode(setup.Secret, h.clock.now().Add(-10*twofactor.Period*time.Second))
	require.NoError(t, err)
	require.ErrorIs(t, h.twofactor.SetTOTP(ctx, uid, true, setup.Secret, wrong), common.ErrInvalidCode)

	code, err := twofactor.GenerateCode(setup.Secret, h.clock.now())
	require.NoError(t, err)
	require.NoError(t, h.twofactor.SetTOTP(ctx, uid, true, setup.Secret, code))
	assert.True(t, h.store.users[uid].TwoFactorTOTP)
	stored := h.store.users[uid].TOTPSeed
	assert.NotEqual(t, setup.Secret, stored, "seed is sealed at rest")
	opened, err := cryptox.Open(h.deps.SeedKey, stored)
	require.NoError(t, err)
	assert.Equal(t, setup.Secret, opened)

	require.ErrorIs(t, h.twofactor.SetTOTP(ctx, uid, false, "", wrong), common.ErrInvalidCode)
	assert.True(t, h.store.users[uid].TwoFactorTOTP)

	require.NoError(t, h.twofactor.SetTOTP(ctx, uid, false, "", code))
	assert.False(t, h.store.users[uid].TwoFactorTOTP)
	assert.Empty(t, h.store.users[uid].TOTPSeed)

	require.NoError(t, h.twofactor.SetTOTP(ctx, uid, false, "", ""), "disabling twice is a no-op")

	h.wait()
	assert.Equal(t, []string{
		"Confirm your email address",
		"Two-factor authentication enabled",
		"Two-factor authentication disabled",
	}, h.sent.subjects())
}
