package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/trainu/coach-inbox/internal/model"
)

// EventCount is one row of the per-trainer event report.
type EventCount struct {
	Event string `db:"event" json:"event"`
	Count uint64 `db:"cnt" json:"count"`
}

// CHEventsRepository stores and aggregates analytics events in ClickHouse.
type CHEventsRepository interface {
	InsertBatch(ctx context.Context, events []model.Envelope) error
	CountByTrainer(ctx context.Context, trainerID string, since time.Time) ([]EventCount, error)
}

type chEventsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHEventsRepository(ch *sqlx.DB) CHEventsRepository {
	return &chEventsRepository{ch: ch}
}

// InsertBatch writes events in a single ClickHouse batch (prepare + exec per row + commit).
func (r *chEventsRepository) InsertBatch(ctx context.Context, events []model.Envelope) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO coach_inbox.analytics_events (id, event, trainer_id, message_id, properties, occurred_at)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		props := e.Properties
		if props == nil {
			props = map[string]string{}
		}
		if _, err := stmt.ExecContext(ctx, e.ID, string(e.Event), e.TrainerID, e.MessageID, props, e.OccurredAt.UTC()); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *chEventsRepository) CountByTrainer(ctx context.Context, trainerID string, since time.Time) ([]EventCount, error) {
	var rows []EventCount
	err := r.ch.SelectContext(ctx, &rows, `
		SELECT event, count() AS cnt
		FROM coach_inbox.analytics_events FINAL
		WHERE trainer_id = ? AND occurred_at >= ?
		GROUP BY event
		ORDER BY cnt DESC
	`, trainerID, since.UTC())
	if err != nil {
		return nil, err
	}
	return rows, nil
}
