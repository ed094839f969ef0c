// Package rest is the HTTP transport of the account service: a gin engine
// with correlation ids, request logging, bearer authentication and the
// refresh-token cookie.
package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/logging"
	"github.com/dmitrijs2005/gophaccount/internal/server/auth"
	"github.com/dmitrijs2005/gophaccount/internal/server/models"
	"github.com/dmitrijs2005/gophaccount/internal/server/services"
	"github.com/dmitrijs2005/gophaccount/internal/server/storage"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

// AuthService is the part of services.AuthService the transport calls.
type AuthService interface {
	Signup(ctx context.Context, r services.SignupRequest, client services.ClientInfo) (*services.Session, error)
	Login(ctx context.Context, identifier, password string, client services.ClientInfo) (*services.LoginResult, error)
	CompleteTwoFactor(ctx context.Context, pendingToken, code string, client services.ClientInfo) (*services.Session, error)
	Refresh(ctx context.Context, refreshToken string, freshData bool, client services.ClientInfo) (*services.Session, error)
	Logout(ctx context.Context, claims *auth.AccessClaims) error
	Authenticate(ctx context.Context, accessToken string) (*auth.AccessClaims, error)
	ListSessions(ctx context.Context, userID int64) ([]models.Session, error)
	RevokeSession(ctx context.Context, userID, sessionID int64) error
	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, email string) error
	VerificationStatus(ctx context.Context, email string) (bool, error)
	ChangePassword(ctx context.Context, claims *auth.AccessClaims, current, next string) error
}

type TwoFactorService interface {
	Status(ctx context.Context, userID int64) (*services.TwoFactorStatus, error)
	SetEmail(ctx context.Context, userID int64, enabled bool) error
	SetupTOTP(ctx context.Context, userID int64) (*services.TOTPSetup, error)
	SetTOTP(ctx context.Context, userID int64, enabled bool, seed, code string) error
}

type ComplianceService interface {
	DeleteAccount(ctx context.Context, userID int64) error
	ModeratorDelete(ctx context.Context, actor *auth.AccessClaims, targetID int64) error
	RequestExport(ctx context.Context, userID int64) error
	OpenExport(ctx context.Context, token string) (*storage.Artifact, error)
}

// CookieOptions controls the refresh-token cookie.
type CookieOptions struct {
	Secure bool
	Domain string
	MaxAge time.Duration
}

// Server serves the account API.
type Server struct {
	address    string
	engine     *gin.Engine
	logger     logging.Logger
	codec      *auth.Codec
	auth       AuthService
	twofactor  TwoFactorService
	compliance ComplianceService
	cookie     CookieOptions
}

func NewServer(addr string, l logging.Logger, codec *auth.Codec, as AuthService, ts TwoFactorService, cs ComplianceService, cookie CookieOptions) (*Server, error) {
	s := &Server{
		address:    addr,
		logger:     l.With("module", "http_server"),
		codec:      codec,
		auth:       as,
		twofactor:  ts,
		compliance: cs,
		cookie:     cookie,
	}

	s.engine = gin.New()
	if err := s.engine.SetTrustedProxies(nil); err != nil {
		return nil, err
	}
	s.engine.Use(s.recovery(), s.correlationID(), s.requestLogger())
	s.routes()

	return s, nil
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	r := s.engine

	r.NoRoute(func(c *gin.Context) {
		s.abort(c, http.StatusNotFound, "not_found", "Not found.")
	})
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	r.POST("/signup", s.signup)
	r.POST("/login", s.login)
	r.POST("/login/2fa", s.loginTwoFactor)
	r.POST("/refresh", s.refresh)
	r.POST("/logout", s.requireToken(), s.logout)

	r.POST("/verify/email", s.verifyEmail)
	r.POST("/verify/email/resend", s.resendVerification)
	r.POST("/verify/email/check", s.checkVerification)
	r.POST("/verify/export", s.downloadExport)

	authed := r.Group("", s.requireAccess())
	authed.GET("/sessions", s.listSessions)
	authed.DELETE("/sessions/:id", s.revokeSession)

	authed.GET("/settings/security", s.securityStatus)
	authed.POST("/settings/security/twofa_email", s.setEmailTwoFactor)
	authed.POST("/settings/security/totp/setup", s.setupTOTP)
	authed.POST("/settings/security/twofa_totp", s.setTOTP)
	authed.POST("/settings/security/change_password", s.changePassword)

	authed.POST("/settings/data/request_data", s.requestData)
	authed.POST("/settings/data/delete_account", s.deleteAccount)
	authed.POST("/moderate/delete_account", s.moderateDelete)
}

// Run listens on the configured address until ctx is done, then shuts the
// server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP server shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
