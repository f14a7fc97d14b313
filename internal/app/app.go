// Package app assembles the services shared by the serve and worker commands.
package app

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/config"
	"github.com/trainu/coach-inbox/internal/crm"
	"github.com/trainu/coach-inbox/internal/crmsync"
	"github.com/trainu/coach-inbox/internal/db"
	"github.com/trainu/coach-inbox/internal/dispatcher"
	"github.com/trainu/coach-inbox/internal/drafting"
	"github.com/trainu/coach-inbox/internal/errtrack"
	"github.com/trainu/coach-inbox/internal/events"
	"github.com/trainu/coach-inbox/internal/llm"
	"github.com/trainu/coach-inbox/internal/policy"
	"github.com/trainu/coach-inbox/internal/repository"
	"github.com/trainu/coach-inbox/internal/repository/memstore"
	"github.com/trainu/coach-inbox/internal/screener"
	"github.com/trainu/coach-inbox/internal/service/inbox"
	"github.com/trainu/coach-inbox/internal/triggers"
)

type App struct {
	Config  config.Config
	Log     *zap.Logger
	MySQL   *sqlx.DB
	CH      *sqlx.DB
	Redis   *redis.Client
	Store   *repository.Store
	Reports repository.CHEventsRepository
	Tracker errtrack.Reporter
	Events  *events.Emitter
	CRM     *crm.Client
	Inbox   *inbox.Service
	Runner  *triggers.Runner
	Sync    *crmsync.Syncer

	closers []func()
}

// Build connects the configured backends and wires the services on top.
// ClickHouse and Redis are optional: an empty DSN or address leaves them off.
func Build(cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.Config

	tracker, flush, err := errtrack.New(cfg.Sentry, a.Log)
	if err != nil {
		return fmt.Errorf("sentry: %w", err)
	}
	a.Tracker = tracker
	a.closers = append(a.closers, flush)

	// relational store
	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory":
		a.Store = memstore.New().Store()
		a.Log.Warn("storage: in-memory driver, nothing is persisted")
	case "", "mysql":
		a.MySQL, err = db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		a.closers = append(a.closers, func() { _ = a.MySQL.Close() })
		a.Store = repository.NewMySQLStore(a.MySQL)
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if cfg.ClickHouse.DSN != "" {
		a.CH, err = db.OpenClickHouse(cfg.ClickHouse)
		if err != nil {
			// reports are optional; the inbox keeps working without them
			a.Log.Warn("clickhouse unavailable, reports disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, func() { _ = a.CH.Close() })
			a.Reports = repository.NewCHEventsRepository(a.CH)
		}
	}

	var counter policy.Counter = policy.NewMemoryCounter()
	if cfg.Redis.Addr != "" {
		a.Redis, err = db.OpenRedis(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		a.closers = append(a.closers, func() { _ = a.Redis.Close() })
		counter = policy.NewRedisCounter(a.Redis)
	}

	pol, err := policy.New(cfg.Policy, counter, a.Log)
	if err != nil {
		return err
	}

	a.Events = events.NewEmitter(events.NewOutboxSink(a.Store.Outbox, cfg.Kafka.EventsTopic), a.Log)

	completer, err := llm.NewOpenAIProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	scr := screener.New(cfg.Screener.Keywords)
	a.CRM = crm.New(cfg.CRM)

	a.Inbox = inbox.New(inbox.Deps{
		Store:    a.Store,
		Drafter:  drafting.NewGenerator(completer, scr, a.Events, a.Tracker, a.Log),
		Sender:   dispatcher.FromConfig(cfg.Dispatcher, a.CRM),
		Policy:   pol,
		Screener: scr,
		Events:   a.Events,
		Tracker:  a.Tracker,
		Log:      a.Log,
	})
	a.Runner = triggers.NewRunner(a.Inbox, pol, a.Events, a.Tracker, a.Log, cfg.Triggers, cfg.App.BaseURL)
	a.Sync = crmsync.New(a.Store, a.CRM, a.Runner, a.Events, a.Tracker, a.Log)
	return nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
