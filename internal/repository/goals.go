package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/trainu/coach-inbox/internal/model"
)

type GoalsRepositoryImpl struct {
	db *sqlx.DB
}

func NewGoalsRepository(db *sqlx.DB) *GoalsRepositoryImpl {
	return &GoalsRepositoryImpl{db: db}
}

var _ GoalsRepository = (*GoalsRepositoryImpl)(nil)

func (r *GoalsRepositoryImpl) CountGoals(ctx context.Context, clientID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM goals WHERE client_user_id = ?`, clientID)
	return n, err
}

func (r *GoalsRepositoryImpl) CountEntriesSince(ctx context.Context, clientID string, since time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*)
		  FROM goal_entries e
		  JOIN goals g ON g.id = e.goal_id
		 WHERE g.client_user_id = ? AND e.entry_date >= ?
	`, clientID, since)
	return n, err
}

func (r *GoalsRepositoryImpl) InsertGoal(ctx context.Context, g model.Goal) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO goals (id, client_user_id, title, created_at)
		VALUES (:id, :client_user_id, :title, :created_at)
		ON DUPLICATE KEY UPDATE id = id
	`, g)
	return err
}

func (r *GoalsRepositoryImpl) InsertEntry(ctx context.Context, e model.GoalEntry) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO goal_entries (id, goal_id, entry_date, value)
		VALUES (:id, :goal_id, :entry_date, :value)
		ON DUPLICATE KEY UPDATE id = id
	`, e)
	return err
}
