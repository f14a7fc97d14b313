package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/trainu/coach-inbox/internal/model"
)

type SyncRetriesRepositoryImpl struct {
	db *sqlx.DB
}

func NewSyncRetriesRepository(db *sqlx.DB) *SyncRetriesRepositoryImpl {
	return &SyncRetriesRepositoryImpl{db: db}
}

var _ SyncRetriesRepository = (*SyncRetriesRepositoryImpl)(nil)

const retryColumns = `id, kind, ref_id, payload, attempts, status, last_error, next_attempt_at, created_at, updated_at`

func (r *SyncRetriesRepositoryImpl) Enqueue(ctx context.Context, rt model.SyncRetry) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO sync_retries (`+retryColumns+`)
		VALUES (:id, :kind, :ref_id, :payload, :attempts, :status, :last_error, :next_attempt_at, :created_at, :updated_at)
	`, rt)
	return mapErr(err)
}

func (r *SyncRetriesRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]model.SyncRetry, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []model.SyncRetry
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+retryColumns+`
		  FROM sync_retries
		 WHERE status = 'pending' AND next_attempt_at <= ?
		 ORDER BY next_attempt_at
		 LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *SyncRetriesRepositoryImpl) Update(ctx context.Context, rt model.SyncRetry) error {
	_, err := r.db.NamedExecContext(ctx, `
		UPDATE sync_retries
		   SET attempts = :attempts,
		       status = :status,
		       last_error = :last_error,
		       next_attempt_at = :next_attempt_at,
		       updated_at = :updated_at
		 WHERE id = :id
	`, rt)
	return err
}
