// Package retention prunes old access log records on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/NiceMatters/lwan/pkg/accesslog"
	"github.com/NiceMatters/lwan/pkg/config"
	"github.com/NiceMatters/lwan/pkg/logger"
)

var storedCfg *config.Config

// SetConfig stores the config so tests (or admin triggers) can invoke
// retention runs on-demand.
func SetConfig(cfg *config.Config) {
	storedCfg = cfg
}

// RunImmediate triggers a single retention run using the stored config.
func RunImmediate() (int, error) {
	if storedCfg == nil {
		return 0, fmt.Errorf("no config registered for retention run")
	}
	return runOnce(storedCfg)
}

func runOnce(cfg *config.Config) (int, error) {
	if !accesslog.Enabled() {
		return 0, fmt.Errorf("access log not open")
	}
	cutoff := time.Now().Add(-cfg.RetentionPeriod())
	n, err := accesslog.DeleteOlderThan(cutoff)
	if err != nil {
		return n, err
	}
	logger.Info("retention_run_done", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg *config.Config) (context.CancelFunc, error) {
	if !cfg.Retention.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	SetConfig(cfg)

	// default daily @02:00
	cronExpr := cfg.Retention.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Retention.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Retention.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", cfg.RetentionPeriod())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, cronExpr)
	return cancel, nil
}

// runScheduler computes the next tick for the cron expression with gronx
// and sleeps until that time.
func runScheduler(ctx context.Context, cfg *config.Config, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if _, err := runOnce(cfg); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}
