package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/docqa/internal/config"
)

// Schedule re-runs Initialize on the watch.schedule cron expression. It
// suits documents fetched from S3, where no filesystem event announces a
// new version. A run that finds the fingerprint unchanged only reloads
// the persisted index.
//
// Schedule returns once the scheduler is running; it stops when ctx ends.
func (a *App) Schedule(ctx context.Context) error {
	spec := strings.TrimSpace(a.cfg.Watch.Schedule)
	if spec == "" {
		return fmt.Errorf("watch.schedule is empty")
	}
	schedule, err := config.ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		result, err := a.Initialize(ctx, false)
		if err != nil {
			a.logger.Warn(ctx, "scheduled refresh failed", "error", err)
			return
		}
		a.logger.Debug(ctx, "scheduled refresh", "mode", result.Mode, "reason", result.Reason)
	}))
	c.Start()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	a.logger.Info(ctx, "scheduled document refresh", "schedule", spec)
	return nil
}
