package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophaccount/internal/common"
	"github.com/dmitrijs2005/gophaccount/internal/dbx"
	"github.com/dmitrijs2005/gophaccount/internal/logging"
	"github.com/dmitrijs2005/gophaccount/internal/server/auth"
	"github.com/dmitrijs2005/gophaccount/internal/server/mail"
	"github.com/dmitrijs2005/gophaccount/internal/server/models"
	"github.com/dmitrijs2005/gophaccount/internal/server/storage"
)

// ComplianceService deletes accounts and exports user data. Every action is
// logged to the compliance log before any other work; the entry's
// finished_at is the completion marker.
type ComplianceService struct {
	deps   *Deps
	logger logging.Logger
}

func NewComplianceService(d *Deps) *ComplianceService {
	return &ComplianceService{deps: d, logger: d.Logger.With("module", "compliance_service")}
}

// DeleteAccount deletes the caller's own account.
func (s *ComplianceService) DeleteAccount(ctx context.Context, userID int64) error {
	return s.deleteUser(ctx, userID, nil)
}

// ModeratorDelete deletes targetID on behalf of an admin.
func (s *ComplianceService) ModeratorDelete(ctx context.Context, actor *auth.AccessClaims, targetID int64) error {
	if actor == nil || !actor.Admin {
		return common.ErrForbidden
	}
	if targetID <= 0 {
		return common.NewValidationError("invalid_id", "A valid user id is required.")
	}
	return s.deleteUser(ctx, targetID, actor)
}

// deleteUser runs: log entry, avatar release, notices to the owner, user
// delete (cascades to sessions and settings), finish. Mail goes out while the
// row still exists so a retry after a mail failure can resend it. A retry
// that finds the user gone only finishes the entry left behind.
func (s *ComplianceService) deleteUser(ctx context.Context, userID int64, moderator *auth.AccessClaims) error {
	users := s.deps.Repos.Users(s.deps.DB)

	user, err := users.GetByID(ctx, userID)
	if errors.Is(err, common.ErrorNotFound) {
		return s.resumeDeletion(ctx, userID, moderator)
	}
	if err != nil {
		return storeErr(err)
	}

	var entry *models.ComplianceLogEntry
	err = dbx.WithTx(ctx, s.deps.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		log := s.deps.Repos.Compliance(tx)
		if err := log.Lock(ctx, userID); err != nil {
			return err
		}
		prev, err := log.LatestByAction(ctx, userID, common.ActionDeleteAccount)
		if err == nil && !prev.Finished() {
			entry = prev
			return nil
		}
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return err
		}
		entry, err = log.Create(ctx, newEntry(common.ActionDeleteAccount, user))
		return err
	})
	if err != nil {
		return storeErr(err)
	}

	log := s.logger.With("user_id", userID, "reference_id", entry.ID)

	if err := s.deps.Avatars.Release(ctx, user.AvatarURL); err != nil {
		log.Error(ctx, "avatar release failed", "error", err)
		return common.Unavailable(err)
	}

	notice := mail.DeletionNotice{
		Username:     user.Username,
		Reference:    entry.ID,
		EmailHash:    entry.EmailHash,
		UsernameHash: entry.UsernameHash,
	}
	if err := s.deps.Mailer.AccountDeleted(ctx, user.Email, notice); err != nil {
		log.Error(ctx, "deletion notice failed, compliance entry left unfinished", "error", err)
		return err
	}
	if moderator != nil {
		if err := s.deps.Mailer.AccountModerated(ctx, user.Email, user.Username, entry.ID); err != nil {
			log.Error(ctx, "moderation notice failed, compliance entry left unfinished", "error", err)
			return err
		}
	}

	if _, err := users.Delete(ctx, userID); err != nil {
		return storeErr(err)
	}

	return s.finishDeletion(ctx, entry, moderator)
}

// resumeDeletion handles a user that is already gone. Only an entry whose
// notices were sent can exist at that point, so finishing it is all that is
// left.
func (s *ComplianceService) resumeDeletion(ctx context.Context, userID int64, moderator *auth.AccessClaims) error {
	prev, err := s.deps.Repos.Compliance(s.deps.DB).LatestByAction(ctx, userID, common.ActionDeleteAccount)
	if err != nil {
		return storeErr(err)
	}
	if prev.Finished() {
		s.logger.Info(ctx, "account already deleted", "user_id", userID, "reference_id", prev.ID)
		return nil
	}
	return s.finishDeletion(ctx, prev, moderator)
}

func (s *ComplianceService) finishDeletion(ctx context.Context, entry *models.ComplianceLogEntry, moderator *auth.AccessClaims) error {
	userID := entry.UserID
	log := s.logger.With("user_id", userID, "reference_id", entry.ID)

	if err := s.deps.Repos.Compliance(s.deps.DB).MarkFinished(ctx, entry.ID); err != nil {
		return storeErr(err)
	}

	if moderator != nil {
		if err := s.deps.Mailer.ModerationNotice(ctx, moderator.Username, userID, entry.ID); err != nil {
			log.Warn(ctx, "moderation inbox copy failed", "error", err)
		}
	}

	if _, err := s.deps.Jobs.Go(ctx, "fleet_notify", mailJobTimeout, func(ctx context.Context) error {
		return s.deps.Fleet.UserDeleted(ctx, userID)
	}); err != nil {
		log.Warn(ctx, "fleet notice not queued", "error", err)
	}

	log.Info(ctx, "account deleted", "moderated", moderator != nil)
	return nil
}

// RequestExport accepts at most one export per user per
// common.ExportRequestWindow. Accepted requests run in the background and
// the call returns immediately.
func (s *ComplianceService) RequestExport(ctx context.Context, userID int64) error {
	user, err := s.deps.Repos.Users(s.deps.DB).GetByID(ctx, userID)
	if err != nil {
		return storeErr(err)
	}

	var entry *models.ComplianceLogEntry
	err = dbx.WithTx(ctx, s.deps.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		log := s.deps.Repos.Compliance(tx)
		if err := log.Lock(ctx, userID); err != nil {
			return err
		}
		prev, err := log.LatestByAction(ctx, userID, common.ActionRequestData)
		switch {
		case err == nil:
			if retryAt := prev.CreatedAt.Add(common.ExportRequestWindow); s.deps.now().Before(retryAt) {
				return &common.RateLimitError{RetryAt: retryAt}
			}
		case !errors.Is(err, common.ErrorNotFound):
			return err
		}
		entry, err = log.Create(ctx, newEntry(common.ActionRequestData, user))
		return err
	})
	if err != nil {
		var rl *common.RateLimitError
		if errors.As(err, &rl) {
			return rl
		}
		return storeErr(err)
	}

	if _, err := s.deps.Jobs.Go(ctx, "export", s.deps.Config.ExportTimeout, func(ctx context.Context) error {
		return s.runExport(ctx, entry)
	}); err != nil {
		s.logger.Error(ctx, "export not started, compliance entry left unfinished", "user_id", userID, "reference_id", entry.ID, "error", err)
	}
	return nil
}

// runExport gathers the user's rows, writes the artifact, mails the link and
// finishes the entry. Any failure leaves the entry unfinished.
func (s *ComplianceService) runExport(ctx context.Context, entry *models.ComplianceLogEntry) error {
	doc, user, err := s.gather(ctx, entry)
	if err != nil {
		return fmt.Errorf("gather: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	token, err := common.MakeRandHexString(common.VerificationTokenBytes)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	if err := s.deps.Artifacts.Put(ctx, token, data); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}

	expires := s.deps.now().Add(s.deps.Config.ExportTTL)
	if err := s.deps.Mailer.ExportReady(ctx, user.Email, user.Username, token, expires, entry.ID); err != nil {
		return fmt.Errorf("mail link: %w", err)
	}

	if err := s.deps.Repos.Compliance(s.deps.DB).MarkFinished(ctx, entry.ID); err != nil {
		return fmt.Errorf("finish entry: %w", err)
	}

	s.logger.Info(ctx, "export delivered", "user_id", user.ID, "reference_id", entry.ID, "bytes", len(data))
	return nil
}

// gather reads every table owned by the user in one read-only snapshot.
func (s *ComplianceService) gather(ctx context.Context, entry *models.ComplianceLogEntry) (*models.ExportDocument, *models.User, error) {
	var (
		doc  *models.ExportDocument
		user *models.User
	)
	opts := &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead}
	err := dbx.WithTx(ctx, s.deps.DB, opts, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.deps.Repos.Users(tx)

		var err error
		if user, err = users.GetByID(ctx, entry.UserID); err != nil {
			return err
		}
		prefs, err := users.GetPreferences(ctx, user.ID)
		if err != nil {
			return err
		}
		sess, err := s.deps.Repos.Sessions(tx).ListByUser(ctx, user.ID)
		if err != nil {
			return err
		}
		logEntries, err := s.deps.Repos.Compliance(tx).ListByUser(ctx, user.ID)
		if err != nil {
			return err
		}

		doc = &models.ExportDocument{
			SchemaVersion: common.ExportSchemaVersion,
			ReferenceID:   entry.ID,
			GeneratedAt:   s.deps.now().UTC(),
			User:          models.NewExportUser(user),
			Preferences:   prefs,
			Sessions:      make([]models.ExportSession, 0, len(sess)),
			ComplianceLog: logEntries,
		}
		for _, x := range sess {
			doc.Sessions = append(doc.Sessions, models.ExportSession{
				UserAgent: x.UserAgent,
				IPAddress: x.IPAddress,
				CreatedAt: x.CreatedAt,
				UpdatedAt: x.UpdatedAt,
				ExpiresAt: x.ExpiresAt,
			})
		}
		if doc.ComplianceLog == nil {
			doc.ComplianceLog = []models.ComplianceLogEntry{}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return doc, user, nil
}

// OpenExport returns the artifact for token while it is younger than the
// export TTL. An expired artifact is deleted and reported as not found.
func (s *ComplianceService) OpenExport(ctx context.Context, token string) (*storage.Artifact, error) {
	if !common.IsHexToken(token) {
		return nil, common.NewValidationError("invalid_token", "Invalid export token.")
	}

	a, err := s.deps.Artifacts.Open(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		return nil, common.Unavailable(err)
	}

	if s.deps.now().Sub(a.CreatedAt) >= s.deps.Config.ExportTTL {
		_ = a.Body.Close()
		if err := s.deps.Artifacts.Delete(ctx, token); err != nil {
			s.logger.Warn(ctx, "expired export not removed", "error", err)
		}
		return nil, common.ErrorNotFound
	}
	return a, nil
}

// SweepExports removes artifacts older than the export TTL.
func (s *ComplianceService) SweepExports(ctx context.Context) (int, error) {
	return s.deps.Artifacts.DeleteCreatedBefore(ctx, s.deps.now().Add(-s.deps.Config.ExportTTL))
}

// StuckEntries lists compliance entries that did not finish within the
// export timeout.
func (s *ComplianceService) StuckEntries(ctx context.Context) ([]models.ComplianceLogEntry, error) {
	list, err := s.deps.Repos.Compliance(s.deps.DB).ListUnfinished(ctx, s.deps.now().Add(-s.deps.Config.ExportTimeout))
	if err != nil {
		return nil, storeErr(err)
	}
	return list, nil
}

func newEntry(action string, u *models.User) *models.ComplianceLogEntry {
	return &models.ComplianceLogEntry{
		Action:       action,
		UserID:       u.ID,
		EmailHash:    common.SHA256Hex(u.Email),
		UsernameHash: common.SHA256Hex(u.Username),
	}
}
