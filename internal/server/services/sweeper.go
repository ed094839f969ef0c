package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/logging"
)

// Sweeper periodically removes expired sessions, challenges and export
// artifacts, and reports compliance entries that never finished.
type Sweeper struct {
	deps       *Deps
	compliance *ComplianceService
	interval   time.Duration
	logger     logging.Logger
}

func NewSweeper(d *Deps, c *ComplianceService) *Sweeper {
	return &Sweeper{deps: d, compliance: c, interval: d.Config.SweepInterval, logger: d.Logger.With("module", "sweeper")}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// SweepResult counts what one pass removed or found.
type SweepResult struct {
	Sessions   int64
	Challenges int64
	Artifacts  int
	Stuck      int
}

// Sweep runs one pass. Each step is independent; a failing step is logged
// and the others still run.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	var err error

	if res.Sessions, err = s.deps.Repos.Sessions(s.deps.DB).DeleteExpired(ctx); err != nil {
		s.logger.Error(ctx, "expired sessions sweep failed", "error", err)
	}
	if res.Challenges, err = s.deps.Repos.Challenges(s.deps.DB).DeleteExpired(ctx); err != nil {
		s.logger.Error(ctx, "expired challenges sweep failed", "error", err)
	}
	if res.Artifacts, err = s.compliance.SweepExports(ctx); err != nil {
		s.logger.Error(ctx, "expired exports sweep failed", "error", err)
	}

	stuck, err := s.compliance.StuckEntries(ctx)
	if err != nil {
		s.logger.Error(ctx, "stuck compliance scan failed", "error", err)
	}
	for _, e := range stuck {
		s.logger.Warn(ctx, "compliance entry unfinished",
			"reference_id", e.ID, "action", e.Action, "user_id", e.UserID, "created_at", e.CreatedAt)
	}
	res.Stuck = len(stuck)

	s.logger.Info(ctx, "sweep done",
		"sessions", res.Sessions, "challenges", res.Challenges, "artifacts", res.Artifacts, "stuck", res.Stuck)
	return res
}
