// Package db opens the storage backends from their config sections.
package db

import (
	"context"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/trainu/coach-inbox/internal/config"
)

// OpenMySQL opens the relational store. The DSN must carry parseTime=true.
func OpenMySQL(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	return open("mysql", cfg, 5*time.Second)
}

// OpenClickHouse opens the analytics store,
// e.g. clickhouse://default:@localhost:9000/coach_inbox?dial_timeout=5s.
func OpenClickHouse(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	return open("clickhouse", cfg, 3*time.Second)
}

func open(driver string, cfg config.DatabaseConfig, defaultPing time.Duration) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("empty %s DSN", driver)
	}
	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = defaultPing
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}
