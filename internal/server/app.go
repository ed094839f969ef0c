// Package server wires the account service together: configuration,
// storage backends, mail, background jobs, the HTTP transport and the
// sweeper, and runs them until a termination signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/gophaccount/internal/cryptox"
	"github.com/dmitrijs2005/gophaccount/internal/logging"
	"github.com/dmitrijs2005/gophaccount/internal/server/auth"
	"github.com/dmitrijs2005/gophaccount/internal/server/config"
	"github.com/dmitrijs2005/gophaccount/internal/server/fleet"
	"github.com/dmitrijs2005/gophaccount/internal/server/jobs"
	"github.com/dmitrijs2005/gophaccount/internal/server/mail"
	"github.com/dmitrijs2005/gophaccount/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophaccount/internal/server/rest"
	"github.com/dmitrijs2005/gophaccount/internal/server/services"
	"github.com/dmitrijs2005/gophaccount/internal/server/storage"
	"github.com/dmitrijs2005/gophaccount/internal/server/twofactor"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const defaultTOTPIssuer = "Account"

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	redis   *redis.Client
	jobs    *jobs.Runner
	http    *rest.Server
	sweeper *services.Sweeper
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(c.LogBackend, os.Stdout)
	if err != nil {
		return nil, err
	}

	policy, err := twofactor.ParsePolicy(c.TwoFactorPolicy)
	if err != nil {
		return nil, err
	}

	db, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}

	artifacts, avatars, err := app.initStorage(ctx)
	if err != nil {
		app.close()
		return nil, err
	}

	limiter, err := app.initLimiter()
	if err != nil {
		app.close()
		return nil, err
	}

	var sender mail.Sender = mail.NewLogSender(logger)
	if c.MailEnabled {
		sender = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     c.SMTPHost,
			Port:     c.SMTPPort,
			User:     c.SMTPUser,
			Password: c.SMTPPassword,
			From:     c.MailFrom,
		})
	}

	var notifier fleet.Notifier = fleet.NoopNotifier{}
	if c.FleetNotifyURL != "" {
		notifier = fleet.NewHTTPNotifier(c.FleetNotifyURL, c.FleetToken)
	}

	app.jobs = jobs.NewRunner(logger)

	codec := auth.NewCodec([]byte(c.SecretKey))
	deps := &services.Deps{
		DB:           db,
		Repos:        repos,
		Config:       c,
		Codec:        codec,
		Gate:         twofactor.NewGate(policy),
		Limiter:      limiter,
		Mailer:       mail.NewMailer(sender, c.PublicBaseURL, c.ModerationEmail),
		Jobs:         app.jobs,
		Artifacts:    artifacts,
		Avatars:      avatars,
		Fleet:        notifier,
		Logger:       logger,
		TOTPIssuer:   totpIssuer(c.PublicBaseURL),
		EmailCodeKey: cryptox.DeriveKey([]byte(c.SecretKey), "email-code"),
		SeedKey:      cryptox.DeriveKey([]byte(c.SecretKey), "totp-seed"),
	}

	as := services.NewAuthService(deps)
	ts := services.NewTwoFactorService(deps)
	cs := services.NewComplianceService(deps)
	app.sweeper = services.NewSweeper(deps, cs)

	if c.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	app.http, err = rest.NewServer(c.HTTPAddr, logger, codec, as, ts, cs, rest.CookieOptions{
		Secure: c.Production,
		Domain: c.CookieDomain,
		MaxAge: c.RefreshTokenTTL,
	})
	if err != nil {
		app.close()
		return nil, err
	}

	return app, nil
}

// initStorage picks the export artifact backend and, when an avatar bucket
// is configured, the avatar store. Both share one S3 client.
func (app *App) initStorage(ctx context.Context) (storage.ArtifactStore, storage.AvatarStore, error) {
	c := app.config

	var client *s3.Client
	s3Client := func() (*s3.Client, error) {
		if client != nil {
			return client, nil
		}
		var err error
		client, err = storage.NewS3Client(ctx, storage.S3Options{
			Region:       c.S3Region,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			BaseEndpoint: c.S3BaseEndpoint,
		})
		return client, err
	}

	var artifacts storage.ArtifactStore
	switch c.ExportBackend {
	case config.ExportBackendS3:
		cl, err := s3Client()
		if err != nil {
			return nil, nil, err
		}
		artifacts = storage.NewS3ArtifactStore(cl, c.S3Bucket, "exports")
	default:
		fs, err := storage.NewFileStore(c.ExportDir)
		if err != nil {
			return nil, nil, err
		}
		artifacts = fs
	}

	var avatars storage.AvatarStore = storage.NoopAvatarStore{}
	if c.AvatarBucket != "" {
		cl, err := s3Client()
		if err != nil {
			return nil, nil, err
		}
		avatars = storage.NewS3AvatarStore(cl, c.AvatarBucket)
	}

	return artifacts, avatars, nil
}

func (app *App) initLimiter() (twofactor.Limiter, error) {
	if app.config.RedisURL == "" {
		app.logger.Warn(context.Background(), "REDIS_URL not set, second-factor attempts are not limited")
		return twofactor.NoopLimiter{}, nil
	}
	opts, err := redis.ParseURL(app.config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	app.redis = redis.NewClient(opts)
	return twofactor.NewRedisLimiter(app.redis, 0, 0), nil
}

// totpIssuer names the account in authenticator apps after the public host.
func totpIssuer(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Hostname() == "" {
		return defaultTOTPIssuer
	}
	return u.Hostname()
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.http.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.sweeper.Run(ctx)
	}()

	wg.Wait()

	// exports already accepted get until their own timeout to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.ExportTimeout)
	defer cancel()
	if err := app.jobs.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn(shutdownCtx, "background jobs still running at exit", "error", err)
	}

	app.close()
	app.logger.Info(shutdownCtx, "App stopped")
}

func (app *App) close() {
	if app.redis != nil {
		_ = app.redis.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}
