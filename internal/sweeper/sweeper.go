// Package sweeper drives the periodic sweeps. Each flavor gets its own cron
// schedule; every firing runs one bounded pass of the shared processor with
// the real clock. An empty spec disables a flavor's schedule (it can still
// be triggered over HTTP or the CLI).
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opencirc/noticesvc/internal/config"
	"github.com/opencirc/noticesvc/internal/notices"
)

// Start registers all configured flavor schedules and blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, processor *notices.Processor, cfg *config.Config, logger *slog.Logger) {
	c := cron.New()

	schedules := []struct {
		spec   string
		flavor notices.Flavor
	}{
		{cfg.CronDueDate, notices.DueDateRealTime},
		{cfg.CronDueDateNotRealTime, notices.DueDateNotRealTime},
		{cfg.CronFeeFine, notices.FeeFine},
		{cfg.CronOverdueFine, notices.OverdueFine},
		{cfg.CronRequestExpiration, notices.RequestExpiration},
	}

	registered := 0
	for _, s := range schedules {
		if s.spec == "" {
			logger.Info("sweep schedule disabled", "flavor", s.flavor.Name)
			continue
		}
		flavor := s.flavor
		_, err := c.AddFunc(s.spec, func() {
			processor.Run(ctx, flavor, time.Now())
		})
		if err != nil {
			logger.Error("invalid sweep cron spec, flavor disabled",
				"flavor", flavor.Name, "spec", s.spec, "error", err)
			continue
		}
		logger.Info("sweep scheduled", "flavor", flavor.Name, "spec", s.spec)
		registered++
	}

	if registered == 0 {
		logger.Warn("no sweep schedules registered")
		<-ctx.Done()
		return
	}

	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop() // waits for running jobs
	<-stopCtx.Done()
	logger.Info("sweeper stopped")
}
