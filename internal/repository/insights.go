package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/trainu/coach-inbox/internal/model"
)

type InsightsRepositoryImpl struct {
	db *sqlx.DB
}

func NewInsightsRepository(db *sqlx.DB) *InsightsRepositoryImpl {
	return &InsightsRepositoryImpl{db: db}
}

var _ InsightsRepository = (*InsightsRepositoryImpl)(nil)

const insightColumns = `id, trainer_user_id, client_user_id, type, risk_score, reason, suggested_action, status, created_at`

func (r *InsightsRepositoryImpl) Insert(ctx context.Context, in model.Insight) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO insights (`+insightColumns+`)
		VALUES (:id, :trainer_user_id, :client_user_id, :type, :risk_score, :reason, :suggested_action, :status, :created_at)
	`, in)
	return mapErr(err)
}

func (r *InsightsRepositoryImpl) Get(ctx context.Context, id string) (*model.Insight, error) {
	var in model.Insight
	if err := r.db.GetContext(ctx, &in, `SELECT `+insightColumns+` FROM insights WHERE id = ? LIMIT 1`, id); err != nil {
		return nil, mapErr(err)
	}
	return &in, nil
}

func (r *InsightsRepositoryImpl) ListPending(ctx context.Context, trainerID string, limit int) ([]model.Insight, error) {
	if limit <= 0 {
		limit = 5
	}
	var rows []model.Insight
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+insightColumns+`
		  FROM insights
		 WHERE trainer_user_id = ? AND status = 'pending'
		 ORDER BY risk_score DESC, created_at DESC
		 LIMIT ?
	`, trainerID, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *InsightsRepositoryImpl) MarkConsumed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In(`UPDATE insights SET status = 'consumed' WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(q), args...)
	return err
}
