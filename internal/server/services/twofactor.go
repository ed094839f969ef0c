package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophaccount/internal/common"
	"github.com/dmitrijs2005/gophaccount/internal/logging"
	"github.com/dmitrijs2005/gophaccount/internal/server/models"
	"github.com/dmitrijs2005/gophaccount/internal/server/twofactor"
)

// TwoFactorStatus is what GET /settings/security reports.
type TwoFactorStatus struct {
	Email  bool             `json:"twofa_email_enabled"`
	TOTP   bool             `json:"twofa_totp_enabled"`
	Policy twofactor.Policy `json:"policy"`
}

// TOTPSetup is a new, not yet enabled authenticator secret.
type TOTPSetup struct {
	Secret string `json:"secret"`
	URI    string `json:"otpauth_url"`
}

type TwoFactorService struct {
	deps   *Deps
	logger logging.Logger
}

func NewTwoFactorService(d *Deps) *TwoFactorService {
	return &TwoFactorService{deps: d, logger: d.Logger.With("module", "twofactor_service")}
}

func (s *TwoFactorService) user(ctx context.Context, userID int64) (*models.User, error) {
	u, err := s.deps.Repos.Users(s.deps.DB).GetByID(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return u, nil
}

func (s *TwoFactorService) Status(ctx context.Context, userID int64) (*TwoFactorStatus, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &TwoFactorStatus{Email: u.TwoFactorEmail, TOTP: u.TwoFactorTOTP, Policy: s.deps.Gate.Policy()}, nil
}

// SetEmail turns email-code login on or off. A change is mailed to the user;
// setting the current value again does nothing.
func (s *TwoFactorService) SetEmail(ctx context.Context, userID int64, enabled bool) error {
	u, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	if u.TwoFactorEmail == enabled {
		return nil
	}
	if err := s.deps.Repos.Users(s.deps.DB).SetEmailTwoFactor(ctx, userID, enabled); err != nil {
		return storeErr(err)
	}
	s.notify(ctx, u, twofactor.MethodEmail, enabled)
	return nil
}

// SetupTOTP draws a secret for the user to scan. Nothing is stored until
// SetTOTP confirms it with a code.
func (s *TwoFactorService) SetupTOTP(ctx context.Context, userID int64) (*TOTPSetup, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	secret, err := twofactor.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("totp secret: %w", err)
	}
	return &TOTPSetup{Secret: secret, URI: twofactor.ProvisionURI(s.deps.TOTPIssuer, u.Username, secret)}, nil
}

// SetTOTP enables TOTP with seed, or disables it. Enabling needs a valid
// code for seed; disabling needs a valid code for the stored seed.
func (s *TwoFactorService) SetTOTP(ctx context.Context, userID int64, enabled bool, seed, code string) error {
	u, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	now := s.deps.now()

	if enabled {
		seed = strings.TrimSpace(seed)
		if _, err := twofactor.DecodeSecret(seed); err != nil {
			return common.NewValidationError("invalid_seed", "Authenticator secret is invalid.")
		}
		if !twofactor.Validate(seed, code, now) {
			return common.ErrInvalidCode
		}
	} else {
		if !u.TwoFactorTOTP {
			return nil
		}
		current, err := s.deps.openSeed(u.TOTPSeed)
		if err != nil {
			return fmt.Errorf("stored totp seed: %w", err)
		}
		if !twofactor.Validate(current, code, now) {
			return common.ErrInvalidCode
		}
	}

	stored := ""
	if enabled {
		if stored, err = s.deps.sealSeed(seed); err != nil {
			return err
		}
	}
	if err := s.deps.Repos.Users(s.deps.DB).SetTOTP(ctx, userID, enabled, stored); err != nil {
		return storeErr(err)
	}
	if u.TwoFactorTOTP != enabled {
		s.notify(ctx, u, twofactor.MethodTOTP, enabled)
	}
	return nil
}

func (s *TwoFactorService) notify(ctx context.Context, u *models.User, method string, enabled bool) {
	s.logger.Info(ctx, "second factor changed", "user_id", u.ID, "method", method, "enabled", enabled)
	if _, err := s.deps.Jobs.Go(ctx, "twofactor_notice", mailJobTimeout, func(ctx context.Context) error {
		return s.deps.Mailer.TwoFactorChanged(ctx, u.Email, u.Username, method, enabled)
	}); err != nil {
		s.logger.Warn(ctx, "two-factor notice not queued", "user_id", u.ID, "error", err)
	}
}
