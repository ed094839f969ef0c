// Package services contains the account service business logic: the auth
// state machine, second-factor management and the compliance pipeline.
//
// Services hold a *sql.DB and a repomanager.RepositoryManager and open
// repositories per call, either on the pool or inside dbx.WithTx.
package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/common"
	"github.com/dmitrijs2005/gophaccount/internal/cryptox"
	"github.com/dmitrijs2005/gophaccount/internal/logging"
	"github.com/dmitrijs2005/gophaccount/internal/server/auth"
	"github.com/dmitrijs2005/gophaccount/internal/server/config"
	"github.com/dmitrijs2005/gophaccount/internal/server/fleet"
	"github.com/dmitrijs2005/gophaccount/internal/server/jobs"
	"github.com/dmitrijs2005/gophaccount/internal/server/mail"
	"github.com/dmitrijs2005/gophaccount/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophaccount/internal/server/storage"
	"github.com/dmitrijs2005/gophaccount/internal/server/twofactor"
)

// Deps are the collaborators shared by all services.
type Deps struct {
	DB           *sql.DB
	Repos        repomanager.RepositoryManager
	Config       *config.Config
	Codec        *auth.Codec
	Gate         *twofactor.Gate
	Limiter      twofactor.Limiter
	Mailer       *mail.Mailer
	Jobs         *jobs.Runner
	Artifacts    storage.ArtifactStore
	Avatars      storage.AvatarStore
	Fleet        fleet.Notifier
	Logger       logging.Logger
	Now          func() time.Time
	TOTPIssuer   string
	EmailCodeKey []byte
	// SeedKey seals TOTP seeds at rest.
	SeedKey []byte
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// ClientInfo is the device metadata recorded on a session.
type ClientInfo struct {
	UserAgent string
	IP        string
}

// known are the errors services pass through unchanged. Anything else from a
// repository is a store failure.
var known = []error{
	common.ErrorNotFound,
	common.ErrConflict,
	common.ErrSessionExpiredOrInvalid,
	common.ErrValidation,
	common.ErrDependencyUnavailable,
	context.Canceled,
	context.DeadlineExceeded,
}

// storeErr maps an unexpected repository error to ErrDependencyUnavailable.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range known {
		if errors.Is(err, k) {
			return err
		}
	}
	return common.Unavailable(err)
}

func (d *Deps) sealSeed(seed string) (string, error) {
	return cryptox.Seal(d.SeedKey, seed)
}

func (d *Deps) openSeed(sealed string) (string, error) {
	return cryptox.Open(d.SeedKey, sealed)
}
