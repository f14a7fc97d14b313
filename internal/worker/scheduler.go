package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/config"
	"github.com/trainu/coach-inbox/internal/triggers"
)

// TriggerRunner is the set of batch workflows the scheduler fires.
type TriggerRunner interface {
	BookingNudges(ctx context.Context) triggers.Result
	WeeklyDigest(ctx context.Context) triggers.Result
	WeeklyCheckins(ctx context.Context) triggers.Result
	SnoozeWakeups(ctx context.Context) triggers.Result
}

// Scheduler fires the trigger workflows on cron specs evaluated in UTC.
type Scheduler struct {
	cron    *cron.Cron
	runner  TriggerRunner
	log     *zap.Logger
	timeout time.Duration
}

func NewScheduler(runner TriggerRunner, log *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cronLogger{log})),
		runner:  runner,
		log:     log,
		timeout: 10 * time.Minute,
	}
}

// Register adds one job per non-empty spec.
func (s *Scheduler) Register(cfg config.CronConfig) error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) triggers.Result
	}{
		{"booking_nudges", cfg.BookingNudges, s.runner.BookingNudges},
		{"weekly_digest", cfg.WeeklyDigest, s.runner.WeeklyDigest},
		{"weekly_checkins", cfg.WeeklyCheckins, s.runner.WeeklyCheckins},
		{"snooze_wakeups", cfg.SnoozeWakeups, s.runner.SnoozeWakeups},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, s.job(j.name, j.run)); err != nil {
			return fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
	}
	return nil
}

func (s *Scheduler) job(name string, run func(context.Context) triggers.Result) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		start := time.Now()
		res := run(ctx)
		s.log.Info("scheduled job finished",
			zap.String("job", name),
			zap.String("correlation_id", res.CorrelationID),
			zap.Int("processed", res.Processed),
			zap.Int("skipped", res.Skipped),
			zap.Strings("errors", res.Errors),
			zap.Duration("took", time.Since(start)),
		)
	}
}

func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

// Run starts the cron loop and blocks until ctx is cancelled and running jobs return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

type cronLogger struct{ log *zap.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
