package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/util"
)

type AppointmentsRepositoryImpl struct {
	db *sqlx.DB
}

func NewAppointmentsRepository(db *sqlx.DB) *AppointmentsRepositoryImpl {
	return &AppointmentsRepositoryImpl{db: db}
}

var _ AppointmentsRepository = (*AppointmentsRepositoryImpl)(nil)

const appointmentColumns = `id, crm_appointment_id, trainer_user_id, client_user_id, contact_id, title, starts_at, status, created_at, updated_at`

func (r *AppointmentsRepositoryImpl) Get(ctx context.Context, id string) (*model.Appointment, error) {
	var a model.Appointment
	if err := r.db.GetContext(ctx, &a, `SELECT `+appointmentColumns+` FROM appointments WHERE id = ? LIMIT 1`, id); err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (r *AppointmentsRepositoryImpl) GetByCRMID(ctx context.Context, crmID string) (*model.Appointment, error) {
	var a model.Appointment
	if err := r.db.GetContext(ctx, &a, `SELECT `+appointmentColumns+` FROM appointments WHERE crm_appointment_id = ? LIMIT 1`, crmID); err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (r *AppointmentsRepositoryImpl) Upsert(ctx context.Context, a *model.Appointment) error {
	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = util.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	return withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO appointments (`+appointmentColumns+`)
			VALUES (:id, :crm_appointment_id, :trainer_user_id, :client_user_id, :contact_id,
			        :title, :starts_at, :status, :created_at, :updated_at)
			ON DUPLICATE KEY UPDATE
				trainer_user_id = VALUES(trainer_user_id),
				client_user_id  = COALESCE(VALUES(client_user_id), client_user_id),
				contact_id      = COALESCE(VALUES(contact_id), contact_id),
				title           = VALUES(title),
				starts_at       = VALUES(starts_at),
				status          = VALUES(status),
				updated_at      = VALUES(updated_at)
		`, a)
		if err != nil {
			return err
		}
		return tx.GetContext(ctx, &a.ID, `SELECT id FROM appointments WHERE crm_appointment_id = ?`, a.CRMAppointmentID)
	})
}

func (r *AppointmentsRepositoryImpl) ListUpcomingBetween(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	q, args, err := sqlx.In(`
		SELECT `+appointmentColumns+`
		  FROM appointments
		 WHERE starts_at >= ? AND starts_at < ? AND status IN (?)
		 ORDER BY starts_at
	`, from, to, []string{string(model.AppointmentScheduled), string(model.AppointmentConfirmed)})
	if err != nil {
		return nil, err
	}

	var rows []model.Appointment
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AppointmentsRepositoryImpl) ListForClientBetween(ctx context.Context, clientID string, from, to time.Time) ([]model.Appointment, error) {
	var rows []model.Appointment
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+appointmentColumns+`
		  FROM appointments
		 WHERE client_user_id = ? AND starts_at >= ? AND starts_at < ?
		 ORDER BY starts_at
	`, clientID, from, to)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
