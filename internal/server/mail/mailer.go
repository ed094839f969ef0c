package mail

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/common"
)

// Mailer renders account notifications and hands them to a Sender. Send
// failures are returned wrapped in common.ErrDependencyUnavailable.
type Mailer struct {
	sender     Sender
	baseURL    string
	moderation string
}

// NewMailer builds links against baseURL. moderationEmail receives moderator
// delete notices; empty disables them.
func NewMailer(s Sender, baseURL, moderationEmail string) *Mailer {
	return &Mailer{sender: s, baseURL: strings.TrimRight(baseURL, "/"), moderation: moderationEmail}
}

func (m *Mailer) link(path, token string) string {
	return m.baseURL + path + "?token=" + url.QueryEscape(token)
}

func (m *Mailer) send(ctx context.Context, to, subject, tmpl string, data any) error {
	html, err := render(tmpl, data)
	if err != nil {
		return fmt.Errorf("render %s: %w", tmpl, err)
	}
	if err := m.sender.Send(ctx, Message{To: []string{to}, Subject: subject, HTML: html}); err != nil {
		return common.Unavailable(err)
	}
	return nil
}

func (m *Mailer) Verification(ctx context.Context, to, username, token string) error {
	return m.send(ctx, to, "Confirm your email address", "verify", map[string]any{
		"Username": username,
		"Link":     m.link("/verify/email", token),
	})
}

func (m *Mailer) ExportReady(ctx context.Context, to, username, token string, expires time.Time, reference int64) error {
	return m.send(ctx, to, "Your data export is ready", "export", map[string]any{
		"Username":  username,
		"Link":      m.link("/verify/export", token),
		"Expires":   expires.UTC().Format(time.RFC1123),
		"Reference": reference,
	})
}

// DeletionNotice ties a deletion mail to its compliance log entry. The
// hashes are the digests stored in that entry.
type DeletionNotice struct {
	Username     string
	Reference    int64
	EmailHash    string
	UsernameHash string
}

func (m *Mailer) AccountDeleted(ctx context.Context, to string, n DeletionNotice) error {
	return m.send(ctx, to, "Your account has been deleted", "deleted", n)
}

// AccountModerated tells the owner that a moderator removed the account.
func (m *Mailer) AccountModerated(ctx context.Context, to, username string, reference int64) error {
	return m.send(ctx, to, "Account moderation", "moderated", map[string]any{
		"Username":  username,
		"Reference": reference,
	})
}

func (m *Mailer) PasswordChanged(ctx context.Context, to, username string, at time.Time) error {
	return m.send(ctx, to, "Your password was changed", "password", map[string]any{
		"Username": username,
		"When":     at.UTC().Format(time.RFC1123),
	})
}

func (m *Mailer) TwoFactorChanged(ctx context.Context, to, username, method string, enabled bool) error {
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return m.send(ctx, to, "Two-factor authentication "+state, "twofactor", map[string]any{
		"Username": username,
		"Method":   method,
		"Enabled":  enabled,
	})
}

func (m *Mailer) LoginCode(ctx context.Context, to, username, code string, ttl time.Duration) error {
	return m.send(ctx, to, "Your sign-in code", "code", map[string]any{
		"Username": username,
		"Code":     code,
		"Expires":  ttl.Round(time.Minute).String(),
	})
}

// ModerationNotice copies a moderator deletion to the moderation inbox.
func (m *Mailer) ModerationNotice(ctx context.Context, actor string, target, reference int64) error {
	if m.moderation == "" {
		return nil
	}
	return m.send(ctx, m.moderation, "Account deleted by moderator", "moderation", map[string]any{
		"Username":  "moderators",
		"Actor":     actor,
		"Target":    target,
		"Reference": reference,
	})
}
