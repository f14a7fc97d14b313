package worker

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/app"
	"github.com/trainu/coach-inbox/internal/logger"
	"github.com/trainu/coach-inbox/internal/worker"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Fire the trigger workflows on their cron schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd, "coach-inbox-scheduler")
		if err != nil {
			return err
		}
		log := logger.Log

		a, err := app.Build(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		s := worker.NewScheduler(a.Runner, log)
		if err := s.Register(cfg.Cron); err != nil {
			return fmt.Errorf("register cron jobs: %w", err)
		}

		ctx, stop := signalContext()
		defer stop()

		log.Info("scheduler started", zap.Int("jobs", s.Entries()))
		return s.Run(ctx)
	},
}

var retriesCmd = &cobra.Command{
	Use:   "retries",
	Short: "Drain the sync retry queue (webhook replays and message redelivery)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd, "coach-inbox-retries")
		if err != nil {
			return err
		}
		log := logger.Log

		a, err := app.Build(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		w := worker.NewRetries(a.Store.Retries, a.Sync, a.Inbox, a.Events, a.Tracker, log)
		if cfg.Retry.BatchSize > 0 {
			w.BatchSize = cfg.Retry.BatchSize
		}
		if cfg.Retry.PollInterval > 0 {
			w.Poll = cfg.Retry.PollInterval
		}

		ctx, stop := signalContext()
		defer stop()

		log.Info("retry worker started", zap.Int("batch_size", w.BatchSize), zap.Duration("poll", w.Poll))
		return w.Run(ctx)
	},
}
