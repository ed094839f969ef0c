package server

import (
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/gophaccount/internal/logging"
	"github.com/dmitrijs2005/gophaccount/internal/server/config"
	"github.com/dmitrijs2005/gophaccount/internal/server/storage"
	"github.com/dmitrijs2005/gophaccount/internal/server/twofactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testApp(t *testing.T) *App {
	t.Helper()
	c := &config.Config{}
	c.LoadDefaults()
	l, err := logging.New(logging.BackendSlog, io.Discard)
	require.NoError(t, err)
	return &App{config: c, logger: l}
}

func TestTOTPIssuer(t *testing.T) {
	assert.Equal(t, "accounts.example.com", totpIssuer("https://accounts.example.com/app"))
	assert.Equal(t, defaultTOTPIssuer, totpIssuer(""))
	assert.Equal(t, defaultTOTPIssuer, totpIssuer("::bad"))
}

func TestInitStorage_FileBackend(t *testing.T) {
	app := testApp(t)
	app.config.ExportDir = t.TempDir()

	artifacts, avatars, err := app.initStorage(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &storage.FileStore{}, artifacts)
	assert.IsType(t, storage.NoopAvatarStore{}, avatars)
}

func TestInitStorage_S3Backends(t *testing.T) {
	app := testApp(t)
	app.config.ExportBackend = config.ExportBackendS3
	app.config.AvatarBucket = "avatars"

	artifacts, avatars, err := app.initStorage(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &storage.S3ArtifactStore{}, artifacts)
	assert.IsType(t, &storage.S3AvatarStore{}, avatars)
}

func TestInitLimiter(t *testing.T) {
	app := testApp(t)

	l, err := app.initLimiter()
	require.NoError(t, err)
	assert.IsType(t, twofactor.NoopLimiter{}, l)

	mr := miniredis.RunT(t)
	app.config.RedisURL = "redis://" + mr.Addr() + "/0"
	l, err = app.initLimiter()
	require.NoError(t, err)
	require.NotNil(t, app.redis)
	t.Cleanup(app.close)
	require.NoError(t, l.RecordFailure(context.Background(), 1))
	assert.True(t, mr.Exists("att:1"))

	app.config.RedisURL = "://nope"
	_, err = app.initLimiter()
	require.Error(t, err)
}
