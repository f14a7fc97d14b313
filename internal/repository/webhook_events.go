package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/trainu/coach-inbox/internal/model"
)

type WebhookEventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewWebhookEventsRepository(db *sqlx.DB) *WebhookEventsRepositoryImpl {
	return &WebhookEventsRepositoryImpl{db: db}
}

var _ WebhookEventsRepository = (*WebhookEventsRepositoryImpl)(nil)

func (r *WebhookEventsRepositoryImpl) Insert(ctx context.Context, e model.WebhookEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, event_type, payload, received_at)
		VALUES (?, ?, ?, ?)
	`, e.EventID, e.EventType, e.Payload, e.ReceivedAt)
	return mapErr(err)
}

func (r *WebhookEventsRepositoryImpl) Delete(ctx context.Context, eventID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE event_id = ?`, eventID)
	return mapErr(err)
}
