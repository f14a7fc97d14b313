package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/trainu/coach-inbox/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate key")
)

const mysqlDupEntry = 1062

// mapErr turns driver errors into the package sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDupEntry {
		return ErrDuplicate
	}
	return err
}

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func withTx(ctx context.Context, db *sqlx.DB, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	t, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}

	return t.Commit()
}

// MessagesRepository persists messages together with their audit trail.
type MessagesRepository interface {
	// Create inserts m and its first audit row atomically. A clash on the
	// idempotency key returns ErrDuplicate.
	Create(ctx context.Context, m *model.Message, audit model.MessageAudit) error
	// Save writes every mutable column of m and appends audits in one transaction.
	Save(ctx context.Context, m *model.Message, audits ...model.MessageAudit) error
	Get(ctx context.Context, id string) (*model.Message, error)
	// ListBySender returns newest first. An empty status means any.
	ListBySender(ctx context.Context, senderID string, status model.Status, limit int) ([]model.Message, error)
	ExistsByIdempotencyKey(ctx context.Context, key string) (bool, error)
	ListSnoozedDue(ctx context.Context, now time.Time, limit int) ([]model.Message, error)
	ListAudit(ctx context.Context, messageID string) ([]model.MessageAudit, error)
}

type TrainersRepository interface {
	Get(ctx context.Context, userID string) (*model.Trainer, error)
	// GetByAPIKey returns (nil, nil) when no trainer owns the key.
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Trainer, error)
	GetByCRMUserID(ctx context.Context, crmUserID string) (*model.Trainer, error)
	ListActive(ctx context.Context) ([]model.Trainer, error)
	Upsert(ctx context.Context, t model.Trainer) error
}

type ClientsRepository interface {
	Get(ctx context.Context, userID string) (*model.Client, error)
	ListByTrainer(ctx context.Context, trainerID string) ([]model.Client, error)
	Upsert(ctx context.Context, c model.Client) error
}

type ContactsRepository interface {
	Get(ctx context.Context, id string) (*model.Contact, error)
	GetByUser(ctx context.Context, userID string) (*model.Contact, error)
	GetByCRMID(ctx context.Context, crmID string) (*model.Contact, error)
	// Upsert is keyed by CRM id; c.ID is set to the stored id.
	Upsert(ctx context.Context, c *model.Contact) error
}

type AppointmentsRepository interface {
	Get(ctx context.Context, id string) (*model.Appointment, error)
	GetByCRMID(ctx context.Context, crmID string) (*model.Appointment, error)
	// Upsert is keyed by CRM id; a.ID is set to the stored id.
	Upsert(ctx context.Context, a *model.Appointment) error
	// ListUpcomingBetween returns scheduled or confirmed appointments with from <= starts_at < to.
	ListUpcomingBetween(ctx context.Context, from, to time.Time) ([]model.Appointment, error)
	ListForClientBetween(ctx context.Context, clientID string, from, to time.Time) ([]model.Appointment, error)
}

type GoalsRepository interface {
	CountGoals(ctx context.Context, clientID string) (int, error)
	CountEntriesSince(ctx context.Context, clientID string, since time.Time) (int, error)
	InsertGoal(ctx context.Context, g model.Goal) error
	InsertEntry(ctx context.Context, e model.GoalEntry) error
}

type InsightsRepository interface {
	Insert(ctx context.Context, in model.Insight) error
	Get(ctx context.Context, id string) (*model.Insight, error)
	ListPending(ctx context.Context, trainerID string, limit int) ([]model.Insight, error)
	MarkConsumed(ctx context.Context, ids []string) error
}

type WebhookEventsRepository interface {
	// Insert returns ErrDuplicate when the event id was already recorded.
	Insert(ctx context.Context, e model.WebhookEvent) error
	// Delete forgets an event id so a redelivery is applied again.
	Delete(ctx context.Context, eventID string) error
}

type SyncRetriesRepository interface {
	Enqueue(ctx context.Context, r model.SyncRetry) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.SyncRetry, error)
	Update(ctx context.Context, r model.SyncRetry) error
}

// Store bundles every relational repository.
type Store struct {
	Messages      MessagesRepository
	Trainers      TrainersRepository
	Clients       ClientsRepository
	Contacts      ContactsRepository
	Appointments  AppointmentsRepository
	Goals         GoalsRepository
	Insights      InsightsRepository
	WebhookEvents WebhookEventsRepository
	Retries       SyncRetriesRepository
	Outbox        OutboxRepository
}

// NewMySQLStore wires the sqlx implementations onto one connection pool.
func NewMySQLStore(db *sqlx.DB) *Store {
	return &Store{
		Messages:      NewMessagesRepository(db),
		Trainers:      NewTrainersRepository(db),
		Clients:       NewClientsRepository(db),
		Contacts:      NewContactsRepository(db),
		Appointments:  NewAppointmentsRepository(db),
		Goals:         NewGoalsRepository(db),
		Insights:      NewInsightsRepository(db),
		WebhookEvents: NewWebhookEventsRepository(db),
		Retries:       NewSyncRetriesRepository(db),
		Outbox:        NewOutboxRepository(db),
	}
}
