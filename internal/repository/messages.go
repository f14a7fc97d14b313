package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/trainu/coach-inbox/internal/model"
)

const messageColumns = `
	id, thread_id, sender_user_id, recipient_user_id, recipient_contact_id,
	message_type, subject, body, status, is_ai_generated, requires_approval,
	sensitive_topic_detected, channel, provider_message_id, error_message,
	approved_by_user_id, approval_note, workflow_type, idempotency_key,
	impact_score, metadata, snoozed_until, created_at, updated_at, approved_at, sent_at`

type MessagesRepositoryImpl struct {
	db *sqlx.DB
}

func NewMessagesRepository(db *sqlx.DB) *MessagesRepositoryImpl {
	return &MessagesRepositoryImpl{db: db}
}

var _ MessagesRepository = (*MessagesRepositoryImpl)(nil)

func (r *MessagesRepositoryImpl) Create(ctx context.Context, m *model.Message, audit model.MessageAudit) error {
	const q = `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (
			:id, :thread_id, :sender_user_id, :recipient_user_id, :recipient_contact_id,
			:message_type, :subject, :body, :status, :is_ai_generated, :requires_approval,
			:sensitive_topic_detected, :channel, :provider_message_id, :error_message,
			:approved_by_user_id, :approval_note, :workflow_type, :idempotency_key,
			:impact_score, :metadata, :snoozed_until, :created_at, :updated_at, :approved_at, :sent_at
		)
	`
	return mapErr(withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, q, m); err != nil {
			return err
		}
		return insertAudits(ctx, tx, audit)
	}))
}

func (r *MessagesRepositoryImpl) Save(ctx context.Context, m *model.Message, audits ...model.MessageAudit) error {
	const q = `
		UPDATE messages SET
			subject = :subject,
			body = :body,
			status = :status,
			sensitive_topic_detected = :sensitive_topic_detected,
			channel = :channel,
			provider_message_id = :provider_message_id,
			error_message = :error_message,
			approved_by_user_id = :approved_by_user_id,
			approval_note = :approval_note,
			impact_score = :impact_score,
			metadata = :metadata,
			snoozed_until = :snoozed_until,
			updated_at = :updated_at,
			approved_at = :approved_at,
			sent_at = :sent_at
		WHERE id = :id
	`
	return mapErr(withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, q, m)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			// MySQL reports 0 for a no-op update too; confirm the row exists.
			var one int
			if err := tx.GetContext(ctx, &one, `SELECT 1 FROM messages WHERE id = ?`, m.ID); err != nil {
				return err
			}
		}
		return insertAudits(ctx, tx, audits...)
	}))
}

func insertAudits(ctx context.Context, tx *sqlx.Tx, audits ...model.MessageAudit) error {
	const q = `
		INSERT INTO message_audit (id, message_id, action, actor_user_id, note, changes, created_at)
		VALUES (:id, :message_id, :action, :actor_user_id, :note, :changes, :created_at)
	`
	for _, a := range audits {
		if _, err := tx.NamedExecContext(ctx, q, a); err != nil {
			return err
		}
	}
	return nil
}

func (r *MessagesRepositoryImpl) Get(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	err := r.db.GetContext(ctx, &m, `SELECT `+messageColumns+` FROM messages WHERE id = ? LIMIT 1`, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

func (r *MessagesRepositoryImpl) ListBySender(ctx context.Context, senderID string, status model.Status, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	q := `SELECT ` + messageColumns + ` FROM messages WHERE sender_user_id = ?`
	args := []any{senderID}

	if status != "" {
		q += " AND status = ?"
		args = append(args, status.String())
	}

	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	var rows []model.Message
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *MessagesRepositoryImpl) ExistsByIdempotencyKey(ctx context.Context, key string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE idempotency_key = ?`, key)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *MessagesRepositoryImpl) ListSnoozedDue(ctx context.Context, now time.Time, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []model.Message
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+messageColumns+`
		  FROM messages
		 WHERE status = ? AND snoozed_until IS NOT NULL AND snoozed_until <= ?
		 ORDER BY snoozed_until
		 LIMIT ?
	`, model.StatusSnoozed.String(), now, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *MessagesRepositoryImpl) ListAudit(ctx context.Context, messageID string) ([]model.MessageAudit, error) {
	var rows []model.MessageAudit
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, message_id, action, actor_user_id, note, changes, created_at
		  FROM message_audit
		 WHERE message_id = ?
		 ORDER BY created_at, id
	`, messageID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
