// Package retention sweeps idle sessions out of the store on a cron
// schedule. The core never deletes; retention is the only deletion path and
// is disabled by default.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/store"
)

// Job is a configured retention sweep.
type Job struct {
	cfg    config.RetentionConfig
	cron   string
	period time.Duration
}

// NewJob validates the retention configuration and returns a runnable job.
func NewJob(cfg config.RetentionConfig) (*Job, error) {
	cronExpr := cfg.Cron
	if cronExpr == "" {
		// default daily @02:00
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}
	period, err := time.ParseDuration(cfg.Period)
	if err != nil {
		return nil, fmt.Errorf("invalid retention period: %w", err)
	}
	if period <= 0 {
		return nil, fmt.Errorf("retention period must be positive")
	}
	return &Job{cfg: cfg, cron: cronExpr, period: period}, nil
}

// Run sleeps until each cron tick and sweeps; returns when ctx is done.
func (j *Job) Run(ctx context.Context) {
	logger.Info("retention_enabled", "cron", j.cron, "period", j.cfg.Period, "dry_run", j.cfg.DryRun)
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(j.cron, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", j.cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := j.RunOnce(ctx); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce sweeps sessions whose last activity predates the retention period.
// A bounded number of sessions is removed per run so a sweep cannot stall the
// store.
func (j *Job) RunOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-j.period).UnixNano()
	sessions, err := store.ListSessions()
	if err != nil {
		return err
	}

	batch := j.cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}

	removed := 0
	for _, s := range sessions {
		if removed >= batch {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		last := s.UpdatedTS
		if last == 0 {
			last = s.CreatedTS
		}
		if last >= cutoff {
			continue
		}
		if j.cfg.DryRun {
			logger.Info("retention_would_delete", "session", s.ID)
			removed++
			continue
		}
		n, err := store.DeleteSessionData(s.ID)
		if err != nil {
			logger.Error("retention_delete_failed", "session", s.ID, "error", err)
			continue
		}
		logger.Info("retention_deleted", "session", s.ID, "messages", n)
		removed++
	}
	logger.Info("retention_run_complete", "swept", removed, "dry_run", j.cfg.DryRun)
	return nil
}
