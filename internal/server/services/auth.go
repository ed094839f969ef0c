package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/gophaccount/internal/common"
	"github.com/dmitrijs2005/gophaccount/internal/logging"
	"github.com/dmitrijs2005/gophaccount/internal/server/auth"
	"github.com/dmitrijs2005/gophaccount/internal/server/models"
	"github.com/dmitrijs2005/gophaccount/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/gophaccount/internal/server/twofactor"
	"github.com/google/uuid"
)

const (
	minPasswordLen = 6
	minUsernameLen = 3
	maxUsernameLen = 20
	maxEmailLen    = 254

	// maxJTIConflicts bounds retries when the unique constraint rejects a
	// jti that passed the existence check.
	maxJTIConflicts = 3

	mailJobTimeout = 30 * time.Second
)

var emailShape = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// SignupRequest is the input of AuthService.Signup.
type SignupRequest struct {
	Username string
	Email    string
	Password string
}

// Session is a freshly minted token pair. RefreshToken goes into the cookie
// only.
type Session struct {
	AccessToken  string
	RefreshToken string
	Identity     auth.Identity
	JTI          string
}

// LoginResult is either a Session or, when a second factor is required, a
// pending token with the methods the user can complete it with.
type LoginResult struct {
	Session      *Session
	PendingToken string
	Methods      []string
}

// AuthService runs signup, login, refresh and logout on top of the token
// codec, the session ledger and the credential store.
type AuthService struct {
	deps   *Deps
	logger logging.Logger
}

func NewAuthService(d *Deps) *AuthService {
	return &AuthService{deps: d, logger: d.Logger.With("module", "auth_service")}
}

func validateSignup(r SignupRequest) error {
	if n := utf8.RuneCountInString(r.Username); n < minUsernameLen || n > maxUsernameLen {
		return common.NewValidationError("invalid_username", "Username must be between 3 and 20 characters.")
	}
	if len(r.Email) > maxEmailLen || !emailShape.MatchString(r.Email) {
		return common.NewValidationError("invalid_email", "Email address is invalid.")
	}
	if r.Password == "" {
		return common.NewValidationError("password_required", "Password is required.")
	}
	if len(r.Password) > auth.MaxPasswordBytes {
		return common.NewValidationError("password_too_long", "Password must be at most 72 bytes.")
	}
	return nil
}

// Signup creates the user, opens a session and queues the verification email.
func (s *AuthService) Signup(ctx context.Context, r SignupRequest, client ClientInfo) (*Session, error) {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	if err := validateSignup(r); err != nil {
		return nil, err
	}

	users := s.deps.Repos.Users(s.deps.DB)

	usernameTaken, emailTaken, err := users.FindConflict(ctx, r.Username, r.Email)
	if err != nil {
		return nil, storeErr(err)
	}
	switch {
	case usernameTaken && emailTaken:
		return nil, &common.ConflictError{Code: "username_email_taken", Message: "Username and email are already taken."}
	case usernameTaken:
		return nil, &common.ConflictError{Code: "username_taken", Message: "Username is already taken."}
	case emailTaken:
		return nil, &common.ConflictError{Code: "email_taken", Message: "Email is already registered."}
	}

	hash, err := auth.HashPassword(r.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	token, err := common.MakeRandHexString(common.VerificationTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("verification token: %w", err)
	}

	user, err := users.Create(ctx, &models.User{
		Username:            r.Username,
		DisplayName:         r.Username,
		Email:               r.Email,
		PasswordHash:        hash,
		VerificationToken:   token,
		VerificationExpires: s.deps.now().Add(common.VerificationTokenValidity),
	})
	if err != nil {
		return nil, storeErr(err)
	}

	sess, err := s.openSession(ctx, auth.NewIdentity(user, models.DefaultPreferences()), client)
	if err != nil {
		return nil, err
	}

	if _, err := s.deps.Jobs.Go(ctx, "verification_email", mailJobTimeout, func(ctx context.Context) error {
		return s.deps.Mailer.Verification(ctx, user.Email, user.Username, token)
	}); err != nil {
		s.logger.Warn(ctx, "verification email not queued", "user_id", user.ID, "error", err)
	}

	s.logger.Info(ctx, "user signed up", "user_id", user.ID)
	return sess, nil
}

// Login checks credentials. An unknown identifier and a wrong password give
// the same common.ErrInvalidCredentials and take comparable time.
func (s *AuthService) Login(ctx context.Context, identifier, password string, client ClientInfo) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, common.NewValidationError("missing_fields", "Identifier (email or username) and password are required.")
	}

	users := s.deps.Repos.Users(s.deps.DB)

	user, err := users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			auth.CheckPassword("", password)
			return nil, common.ErrInvalidCredentials
		}
		return nil, storeErr(err)
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, common.ErrInvalidCredentials
	}

	if methods := s.deps.Gate.Required(user); len(methods) > 0 {
		return s.startChallenge(ctx, user, methods)
	}

	prefs, err := users.GetPreferences(ctx, user.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	sess, err := s.openSession(ctx, auth.NewIdentity(user, prefs), client)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "user logged in", "user_id", user.ID)
	return &LoginResult{Session: sess}, nil
}

// startChallenge persists a login challenge, mails a code when email is one
// of the methods, and returns the pending token naming the challenge.
func (s *AuthService) startChallenge(ctx context.Context, user *models.User, methods []string) (*LoginResult, error) {
	now := s.deps.now()
	ttl := s.deps.Config.PendingTokenTTL
	jti := uuid.NewString()

	ch := &models.LoginChallenge{
		UserID:    user.ID,
		JTI:       jti,
		Method:    twofactor.JoinMethods(methods),
		ExpiresAt: now.Add(ttl),
	}

	var code string
	if slices.Contains(methods, twofactor.MethodEmail) {
		var err error
		if code, err = twofactor.GenerateEmailCode(); err != nil {
			return nil, fmt.Errorf("email code: %w", err)
		}
		ch.CodeHash = twofactor.HashEmailCode(s.deps.EmailCodeKey, jti, code)
	}

	if err := s.deps.Repos.Challenges(s.deps.DB).Create(ctx, ch); err != nil {
		return nil, storeErr(err)
	}

	if code != "" {
		if err := s.deps.Mailer.LoginCode(ctx, user.Email, user.Username, code, ttl); err != nil {
			return nil, err
		}
	}

	pending, err := s.deps.Codec.Issue(&auth.PendingClaims{UserID: user.ID, JTI: jti, Methods: methods}, ttl)
	if err != nil {
		return nil, fmt.Errorf("issue pending token: %w", err)
	}

	s.logger.Info(ctx, "second factor required", "user_id", user.ID, "methods", ch.Method)
	return &LoginResult{PendingToken: pending, Methods: methods}, nil
}

// CompleteTwoFactor exchanges a pending token and a valid code for a session.
// The challenge is consumed atomically, so a pending token opens at most one
// session.
func (s *AuthService) CompleteTwoFactor(ctx context.Context, pendingToken, code string, client ClientInfo) (*Session, error) {
	claims, err := s.deps.Codec.VerifyPending(pendingToken)
	if err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, common.NewValidationError("code_required", "Code is required.")
	}

	if err := s.deps.Limiter.Check(ctx, claims.UserID); err != nil {
		return nil, err
	}

	challenges := s.deps.Repos.Challenges(s.deps.DB)
	users := s.deps.Repos.Users(s.deps.DB)

	ch, err := challenges.Find(ctx, claims.JTI, claims.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrSessionExpiredOrInvalid
		}
		return nil, storeErr(err)
	}

	user, err := users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrSessionExpiredOrInvalid
		}
		return nil, storeErr(err)
	}

	if !s.checkCode(user, ch, code) {
		if err := s.deps.Limiter.RecordFailure(ctx, user.ID); err != nil {
			s.logger.Warn(ctx, "attempt not recorded", "user_id", user.ID, "error", err)
		}
		return nil, common.ErrInvalidCode
	}

	if _, err := challenges.Consume(ctx, claims.JTI, claims.UserID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrSessionExpiredOrInvalid
		}
		return nil, storeErr(err)
	}
	if err := s.deps.Limiter.Reset(ctx, user.ID); err != nil {
		s.logger.Warn(ctx, "attempt counter not reset", "user_id", user.ID, "error", err)
	}

	prefs, err := users.GetPreferences(ctx, user.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	sess, err := s.openSession(ctx, auth.NewIdentity(user, prefs), client)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "user logged in", "user_id", user.ID, "second_factor", true)
	return sess, nil
}

func (s *AuthService) checkCode(user *models.User, ch *models.LoginChallenge, code string) bool {
	methods := twofactor.SplitMethods(ch.Method)
	if slices.Contains(methods, twofactor.MethodTOTP) && user.TOTPSeed != "" {
		seed, err := s.deps.openSeed(user.TOTPSeed)
		if err != nil {
			s.logger.Error(context.Background(), "stored totp seed unreadable", "user_id", user.ID, "error", err)
		} else if twofactor.Validate(seed, code, s.deps.now()) {
			return true
		}
	}
	if slices.Contains(methods, twofactor.MethodEmail) && ch.CodeHash != "" &&
		twofactor.CheckEmailCode(s.deps.EmailCodeKey, ch.JTI, code, ch.CodeHash) {
		return true
	}
	return false
}

// Refresh rotates the session named by the refresh token. The profile
// snapshot is re-read when freshData is set or the email is not verified yet.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, freshData bool, client ClientInfo) (*Session, error) {
	if refreshToken == "" {
		return nil, common.ErrorUnauthorized
	}
	claims, err := s.deps.Codec.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	id := claims.Identity
	if freshData || !id.EmailVerified {
		users := s.deps.Repos.Users(s.deps.DB)
		user, err := users.GetByID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return nil, common.ErrSessionExpiredOrInvalid
			}
			return nil, storeErr(err)
		}
		prefs, err := users.GetPreferences(ctx, user.ID)
		if err != nil {
			return nil, storeErr(err)
		}
		id = auth.NewIdentity(user, prefs)
	}

	ledger := s.deps.Repos.Sessions(s.deps.DB)
	for attempt := 0; ; attempt++ {
		jti, err := newSessionJTI(ctx, ledger)
		if err != nil {
			return nil, storeErr(err)
		}
		access, refresh, err := s.deps.Codec.IssuePair(id, jti, s.deps.Config.AccessTokenTTL, s.deps.Config.RefreshTokenTTL)
		if err != nil {
			return nil, fmt.Errorf("issue tokens: %w", err)
		}

		_, err = ledger.Rotate(ctx, claims.JTI, claims.UserID, jti, client.UserAgent, client.IP,
			s.deps.now().Add(s.deps.Config.RefreshTokenTTL))
		if errors.Is(err, common.ErrConflict) && attempt < maxJTIConflicts {
			continue
		}
		if err != nil {
			return nil, storeErr(err)
		}
		return &Session{AccessToken: access, RefreshToken: refresh, Identity: id, JTI: jti}, nil
	}
}

// Logout revokes the session of an already verified access token. A session
// that is already gone is not an error.
func (s *AuthService) Logout(ctx context.Context, claims *auth.AccessClaims) error {
	if err := s.deps.Repos.Sessions(s.deps.DB).Delete(ctx, claims.UserID, claims.JTI); err != nil {
		return storeErr(err)
	}
	s.logger.Info(ctx, "user logged out", "user_id", claims.UserID)
	return nil
}

// Authenticate verifies an access token and checks its session is live. The
// ledger wins over a still valid signature.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*auth.AccessClaims, error) {
	claims, err := s.deps.Codec.VerifyAccess(accessToken)
	if err != nil {
		return nil, err
	}
	live, err := s.deps.Repos.Sessions(s.deps.DB).IsLive(ctx, claims.JTI, claims.UserID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !live {
		return nil, common.ErrSessionExpiredOrInvalid
	}
	return claims, nil
}

// ListSessions returns the user's live sessions, newest activity first.
func (s *AuthService) ListSessions(ctx context.Context, userID int64) ([]models.Session, error) {
	list, err := s.deps.Repos.Sessions(s.deps.DB).ListByUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return list, nil
}

func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID int64) error {
	ok, err := s.deps.Repos.Sessions(s.deps.DB).DeleteByID(ctx, userID, sessionID)
	if err != nil {
		return storeErr(err)
	}
	if !ok {
		return common.ErrorNotFound
	}
	return nil
}

// VerifyEmail consumes a 64-hex verification token.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	if !common.IsHexToken(token) {
		return common.NewValidationError("invalid_token", "Invalid verification token.")
	}
	userID, err := s.deps.Repos.Users(s.deps.DB).VerifyEmail(ctx, token)
	if err != nil {
		return storeErr(err)
	}
	s.logger.Info(ctx, "email verified", "user_id", userID)
	return nil
}

// ResendVerification mails the pending verification link again. An expired
// token is replaced by a fresh one first.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.unverifiedByEmail(ctx, email)
	if err != nil {
		return err
	}

	token := user.VerificationToken
	if token == "" || !user.VerificationExpires.After(s.deps.now()) {
		if token, err = common.MakeRandHexString(common.VerificationTokenBytes); err != nil {
			return fmt.Errorf("verification token: %w", err)
		}
		err = s.deps.Repos.Users(s.deps.DB).RenewVerification(ctx, user.ID, token, s.deps.now().Add(common.VerificationTokenValidity))
		if err != nil {
			return storeErr(err)
		}
	}

	if err := s.deps.Mailer.Verification(ctx, user.Email, user.Username, token); err != nil {
		return err
	}
	s.logger.Info(ctx, "verification email resent", "user_id", user.ID)
	return nil
}

// VerificationStatus reports whether email has been verified. A pending
// token that has run out is a validation error so the client can offer a
// resend.
func (s *AuthService) VerificationStatus(ctx context.Context, email string) (bool, error) {
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		return false, err
	}
	if user.EmailVerified {
		return true, nil
	}
	if !user.VerificationExpires.After(s.deps.now()) {
		return false, common.NewValidationError("verification_expired", "Verification token expired. Please request a new one.")
	}
	return false, nil
}

func (s *AuthService) unverifiedByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.EmailVerified {
		return nil, common.NewValidationError("already_verified", "Email is already verified.")
	}
	return user, nil
}

func (s *AuthService) userByEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if len(email) > maxEmailLen || !emailShape.MatchString(email) {
		return nil, common.NewValidationError("invalid_email", "Email address is invalid.")
	}
	user, err := s.deps.Repos.Users(s.deps.DB).GetByIdentifier(ctx, email)
	if err != nil {
		return nil, storeErr(err)
	}
	// GetByIdentifier also matches usernames.
	if user.Email != email {
		return nil, common.ErrorNotFound
	}
	return user, nil
}

// ChangePassword replaces the password after checking the current one, then
// revokes every other session of the user. The session making the request
// stays alive.
func (s *AuthService) ChangePassword(ctx context.Context, claims *auth.AccessClaims, current, next string) error {
	if current == "" || next == "" {
		return common.NewValidationError("missing_fields", "Current and new password are required.")
	}
	if len(next) < minPasswordLen {
		return common.NewValidationError("password_too_short", "Password must be at least 6 characters.")
	}
	if len(next) > auth.MaxPasswordBytes {
		return common.NewValidationError("password_too_long", "Password must be at most 72 bytes.")
	}

	users := s.deps.Repos.Users(s.deps.DB)
	user, err := users.GetByID(ctx, claims.UserID)
	if err != nil {
		return storeErr(err)
	}
	if !auth.CheckPassword(user.PasswordHash, current) {
		return common.ErrInvalidCredentials
	}

	hash, err := auth.HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := users.SetPassword(ctx, user.ID, hash); err != nil {
		return storeErr(err)
	}

	revoked, err := s.deps.Repos.Sessions(s.deps.DB).DeleteOthers(ctx, user.ID, claims.JTI)
	if err != nil {
		return storeErr(err)
	}

	changedAt := s.deps.now()
	if _, err := s.deps.Jobs.Go(ctx, "password_changed_email", mailJobTimeout, func(ctx context.Context) error {
		return s.deps.Mailer.PasswordChanged(ctx, user.Email, user.Username, changedAt)
	}); err != nil {
		s.logger.Warn(ctx, "password change notice not queued", "user_id", user.ID, "error", err)
	}

	s.logger.Info(ctx, "password changed", "user_id", user.ID, "sessions_revoked", revoked)
	return nil
}

// openSession mints a pair for id and records it in the ledger under a
// fresh jti.
func (s *AuthService) openSession(ctx context.Context, id auth.Identity, client ClientInfo) (*Session, error) {
	ledger := s.deps.Repos.Sessions(s.deps.DB)

	for attempt := 0; ; attempt++ {
		jti, err := newSessionJTI(ctx, ledger)
		if err != nil {
			return nil, storeErr(err)
		}
		access, refresh, err := s.deps.Codec.IssuePair(id, jti, s.deps.Config.AccessTokenTTL, s.deps.Config.RefreshTokenTTL)
		if err != nil {
			return nil, fmt.Errorf("issue tokens: %w", err)
		}

		_, err = ledger.Create(ctx, &models.Session{
			UserID:    id.UserID,
			JTI:       jti,
			UserAgent: client.UserAgent,
			IPAddress: client.IP,
			ExpiresAt: s.deps.now().Add(s.deps.Config.RefreshTokenTTL),
		})
		if errors.Is(err, common.ErrConflict) && attempt < maxJTIConflicts {
			continue
		}
		if err != nil {
			return nil, storeErr(err)
		}
		return &Session{AccessToken: access, RefreshToken: refresh, Identity: id, JTI: jti}, nil
	}
}

// newSessionJTI draws random UUIDs until one is unused. The unique constraint
// on sessions.jti remains the real guarantee.
func newSessionJTI(ctx context.Context, ledger sessions.Repository) (string, error) {
	for {
		jti := uuid.NewString()
		exists, err := ledger.JTIExists(ctx, jti)
		if err != nil {
			return "", err
		}
		if !exists {
			return jti, nil
		}
	}
}
