package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/util"
)

type TrainersRepositoryImpl struct {
	db *sqlx.DB
}

func NewTrainersRepository(db *sqlx.DB) *TrainersRepositoryImpl {
	return &TrainersRepositoryImpl{db: db}
}

var _ TrainersRepository = (*TrainersRepositoryImpl)(nil)

const trainerColumns = `user_id, first_name, last_name, email, api_key, crm_user_id, timezone, active, created_at`

func (r *TrainersRepositoryImpl) Get(ctx context.Context, userID string) (*model.Trainer, error) {
	var t model.Trainer
	if err := r.db.GetContext(ctx, &t, `SELECT `+trainerColumns+` FROM trainers WHERE user_id = ? LIMIT 1`, userID); err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r *TrainersRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*model.Trainer, error) {
	var t model.Trainer
	err := r.db.GetContext(ctx, &t, `
		SELECT `+trainerColumns+`
		  FROM trainers
		 WHERE api_key = ? LIMIT 1
	`, apiKey)
	if err := mapErr(err); errors.Is(err, ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TrainersRepositoryImpl) GetByCRMUserID(ctx context.Context, crmUserID string) (*model.Trainer, error) {
	var t model.Trainer
	if err := r.db.GetContext(ctx, &t, `SELECT `+trainerColumns+` FROM trainers WHERE crm_user_id = ? LIMIT 1`, crmUserID); err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r *TrainersRepositoryImpl) ListActive(ctx context.Context) ([]model.Trainer, error) {
	var rows []model.Trainer
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+trainerColumns+` FROM trainers WHERE active = 1 ORDER BY user_id`); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *TrainersRepositoryImpl) Upsert(ctx context.Context, t model.Trainer) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO trainers (`+trainerColumns+`)
		VALUES (:user_id, :first_name, :last_name, :email, :api_key, :crm_user_id, :timezone, :active, :created_at)
		ON DUPLICATE KEY UPDATE
			first_name  = VALUES(first_name),
			last_name   = VALUES(last_name),
			email       = VALUES(email),
			api_key     = VALUES(api_key),
			crm_user_id = VALUES(crm_user_id),
			timezone    = VALUES(timezone),
			active      = VALUES(active)
	`, t)
	return err
}

type ClientsRepositoryImpl struct {
	db *sqlx.DB
}

func NewClientsRepository(db *sqlx.DB) *ClientsRepositoryImpl {
	return &ClientsRepositoryImpl{db: db}
}

var _ ClientsRepository = (*ClientsRepositoryImpl)(nil)

func (r *ClientsRepositoryImpl) Get(ctx context.Context, userID string) (*model.Client, error) {
	var c model.Client
	err := r.db.GetContext(ctx, &c, `
		SELECT user_id, trainer_user_id, first_name, last_name, created_at
		  FROM clients WHERE user_id = ? LIMIT 1
	`, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (r *ClientsRepositoryImpl) ListByTrainer(ctx context.Context, trainerID string) ([]model.Client, error) {
	var rows []model.Client
	err := r.db.SelectContext(ctx, &rows, `
		SELECT user_id, trainer_user_id, first_name, last_name, created_at
		  FROM clients WHERE trainer_user_id = ? ORDER BY user_id
	`, trainerID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ClientsRepositoryImpl) Upsert(ctx context.Context, c model.Client) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO clients (user_id, trainer_user_id, first_name, last_name, created_at)
		VALUES (:user_id, :trainer_user_id, :first_name, :last_name, :created_at)
		ON DUPLICATE KEY UPDATE
			trainer_user_id = VALUES(trainer_user_id),
			first_name      = VALUES(first_name),
			last_name       = VALUES(last_name)
	`, c)
	return err
}

type ContactsRepositoryImpl struct {
	db *sqlx.DB
}

func NewContactsRepository(db *sqlx.DB) *ContactsRepositoryImpl {
	return &ContactsRepositoryImpl{db: db}
}

var _ ContactsRepository = (*ContactsRepositoryImpl)(nil)

const contactColumns = `id, crm_contact_id, trainer_user_id, user_id, first_name, last_name, email, phone, timezone, created_at, updated_at`

func (r *ContactsRepositoryImpl) getBy(ctx context.Context, col, val string) (*model.Contact, error) {
	var c model.Contact
	if err := r.db.GetContext(ctx, &c, `SELECT `+contactColumns+` FROM contacts WHERE `+col+` = ? LIMIT 1`, val); err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (r *ContactsRepositoryImpl) Get(ctx context.Context, id string) (*model.Contact, error) {
	return r.getBy(ctx, "id", id)
}

func (r *ContactsRepositoryImpl) GetByUser(ctx context.Context, userID string) (*model.Contact, error) {
	return r.getBy(ctx, "user_id", userID)
}

func (r *ContactsRepositoryImpl) GetByCRMID(ctx context.Context, crmID string) (*model.Contact, error) {
	return r.getBy(ctx, "crm_contact_id", crmID)
}

func (r *ContactsRepositoryImpl) Upsert(ctx context.Context, c *model.Contact) error {
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = util.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	return withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO contacts (`+contactColumns+`)
			VALUES (:id, :crm_contact_id, :trainer_user_id, :user_id, :first_name, :last_name,
			        :email, :phone, :timezone, :created_at, :updated_at)
			ON DUPLICATE KEY UPDATE
				trainer_user_id = VALUES(trainer_user_id),
				user_id         = COALESCE(VALUES(user_id), user_id),
				first_name      = VALUES(first_name),
				last_name       = VALUES(last_name),
				email           = VALUES(email),
				phone           = VALUES(phone),
				timezone        = VALUES(timezone),
				updated_at      = VALUES(updated_at)
		`, c)
		if err != nil {
			return err
		}
		return tx.GetContext(ctx, &c.ID, `SELECT id FROM contacts WHERE crm_contact_id = ?`, c.CRMContactID)
	})
}
