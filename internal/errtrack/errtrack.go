// Package errtrack reports upstream failures to an error-tracking sink with a severity tag.
package errtrack

import (
	"context"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/trainu/coach-inbox/internal/config"
	"go.uber.org/zap"
)

type Severity string

const (
	SEV1 Severity = "SEV1" // client-facing promise not honored
	SEV2 Severity = "SEV2"
	SEV3 Severity = "SEV3"
)

type Category string

const (
	CategoryMessageSend   Category = "message_send"
	CategoryLLMGeneration Category = "llm_generation"
	CategorySync          Category = "sync"
	CategoryWebhook       Category = "webhook"
	CategoryTrigger       Category = "trigger"
)

type Reporter interface {
	Report(ctx context.Context, err error, sev Severity, cat Category, tags map[string]string)
}

// New returns a Sentry-backed reporter when a DSN is configured, otherwise a log-only one.
// The returned func flushes buffered events and must be called on shutdown.
func New(cfg config.SentryConfig, log *zap.Logger) (Reporter, func(), error) {
	if cfg.DSN == "" {
		return NewLogReporter(log), func() {}, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
	})
	if err != nil {
		return nil, nil, err
	}
	hub := sentry.NewHub(client, sentry.NewScope())
	return NewSentryReporter(hub, log), func() { hub.Flush(2 * time.Second) }, nil
}

type LogReporter struct {
	log *zap.Logger
}

func NewLogReporter(log *zap.Logger) *LogReporter {
	return &LogReporter{log: log}
}

func (r *LogReporter) Report(_ context.Context, err error, sev Severity, cat Category, tags map[string]string) {
	fields := []zap.Field{
		zap.Error(err),
		zap.String("severity", string(sev)),
		zap.String("category", string(cat)),
	}
	for k, v := range tags {
		fields = append(fields, zap.String(k, v))
	}
	r.log.Error("tracked error", fields...)
}

// SentryReporter logs and forwards to Sentry.
type SentryReporter struct {
	hub *sentry.Hub
	log *LogReporter
}

func NewSentryReporter(hub *sentry.Hub, log *zap.Logger) *SentryReporter {
	return &SentryReporter{hub: hub, log: NewLogReporter(log)}
}

func (r *SentryReporter) Report(ctx context.Context, err error, sev Severity, cat Category, tags map[string]string) {
	r.log.Report(ctx, err, sev, cat, tags)

	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(levelOf(sev))
		scope.SetTag("severity", string(sev))
		scope.SetTag("category", string(cat))
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		r.hub.CaptureException(err)
	})
}

func levelOf(sev Severity) sentry.Level {
	switch sev {
	case SEV1:
		return sentry.LevelFatal
	case SEV2:
		return sentry.LevelError
	default:
		return sentry.LevelWarning
	}
}

// Report is one recorded call on a Recorder.
type Report struct {
	Err      error
	Severity Severity
	Category Category
	Tags     map[string]string
}

// Recorder keeps reports in memory.
type Recorder struct {
	mu      sync.Mutex
	reports []Report
}

func (r *Recorder) Report(_ context.Context, err error, sev Severity, cat Category, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, Report{Err: err, Severity: sev, Category: cat, Tags: tags})
}

func (r *Recorder) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Report, len(r.reports))
	copy(out, r.reports)
	return out
}
