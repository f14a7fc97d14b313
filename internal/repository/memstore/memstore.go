// Package memstore is an in-memory implementation of every repository interface,
// used by tests and by storage.driver=memory.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/repository"
	"github.com/trainu/coach-inbox/internal/util"
)

type Memory struct {
	mu sync.Mutex

	messages map[string]model.Message
	audits   map[string][]model.MessageAudit
	idemKeys map[string]string

	trainers     map[string]model.Trainer
	clients      map[string]model.Client
	contacts     map[string]model.Contact
	appointments map[string]model.Appointment
	goals        map[string]model.Goal
	entries      []model.GoalEntry
	insights     map[string]model.Insight
	webhooks     map[string]model.WebhookEvent
	retries      map[string]model.SyncRetry

	outbox       []model.OutboxEvent
	nextOutboxID int64
}

func New() *Memory {
	return &Memory{
		messages:     map[string]model.Message{},
		audits:       map[string][]model.MessageAudit{},
		idemKeys:     map[string]string{},
		trainers:     map[string]model.Trainer{},
		clients:      map[string]model.Client{},
		contacts:     map[string]model.Contact{},
		appointments: map[string]model.Appointment{},
		goals:        map[string]model.Goal{},
		insights:     map[string]model.Insight{},
		webhooks:     map[string]model.WebhookEvent{},
		retries:      map[string]model.SyncRetry{},
	}
}

// Store exposes the memory as a repository bundle.
func (m *Memory) Store() *repository.Store {
	return &repository.Store{
		Messages:      messages{m},
		Trainers:      trainers{m},
		Clients:       clients{m},
		Contacts:      contacts{m},
		Appointments:  appointments{m},
		Goals:         goals{m},
		Insights:      insights{m},
		WebhookEvents: webhooks{m},
		Retries:       retries{m},
		Outbox:        outbox{m},
	}
}

// Messages returns a snapshot of every stored message.
func (m *Memory) Messages() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Message, 0, len(m.messages))
	for _, v := range m.messages {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Retries returns a snapshot of every sync retry row.
func (m *Memory) Retries() []model.SyncRetry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.SyncRetry, 0, len(m.retries))
	for _, v := range m.retries {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ---- messages ----

type messages struct{ *Memory }

func (s messages) Create(_ context.Context, msg *model.Message, audit model.MessageAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; ok {
		return repository.ErrDuplicate
	}
	if msg.IdempotencyKey != nil {
		if _, ok := s.idemKeys[*msg.IdempotencyKey]; ok {
			return repository.ErrDuplicate
		}
		s.idemKeys[*msg.IdempotencyKey] = msg.ID
	}
	s.messages[msg.ID] = *msg
	s.audits[msg.ID] = append(s.audits[msg.ID], audit)
	return nil
}

func (s messages) Save(_ context.Context, msg *model.Message, audits ...model.MessageAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; !ok {
		return repository.ErrNotFound
	}
	s.messages[msg.ID] = *msg
	s.audits[msg.ID] = append(s.audits[msg.ID], audits...)
	return nil
}

func (s messages) Get(_ context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &msg, nil
}

func (s messages) ListBySender(_ context.Context, senderID string, status model.Status, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, msg := range s.messages {
		if msg.SenderID != senderID || (status != "" && msg.Status != status) {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s messages) ExistsByIdempotencyKey(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.idemKeys[key]
	return ok, nil
}

func (s messages) ListSnoozedDue(_ context.Context, now time.Time, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, msg := range s.messages {
		if msg.Status == model.StatusSnoozed && msg.SnoozedUntil != nil && !msg.SnoozedUntil.After(now) {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnoozedUntil.Before(*out[j].SnoozedUntil) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s messages) ListAudit(_ context.Context, messageID string) ([]model.MessageAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.MessageAudit, len(s.audits[messageID]))
	copy(out, s.audits[messageID])
	return out, nil
}

// ---- roster ----

type trainers struct{ *Memory }

func (s trainers) Get(_ context.Context, userID string) (*model.Trainer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trainers[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (s trainers) GetByAPIKey(_ context.Context, apiKey string) (*model.Trainer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trainers {
		if t.APIKey == apiKey {
			return &t, nil
		}
	}
	return nil, nil
}

func (s trainers) GetByCRMUserID(_ context.Context, crmUserID string) (*model.Trainer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trainers {
		if t.CRMUserID != nil && *t.CRMUserID == crmUserID {
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s trainers) ListActive(_ context.Context) ([]model.Trainer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Trainer
	for _, t := range s.trainers {
		if t.Active {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s trainers) Upsert(_ context.Context, t model.Trainer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trainers[t.UserID] = t
	return nil
}

type clients struct{ *Memory }

func (s clients) Get(_ context.Context, userID string) (*model.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (s clients) ListByTrainer(_ context.Context, trainerID string) ([]model.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Client
	for _, c := range s.clients {
		if c.TrainerID == trainerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s clients) Upsert(_ context.Context, c model.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.UserID] = c
	return nil
}

type contacts struct{ *Memory }

func (s contacts) find(match func(model.Contact) bool) (*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if match(c) {
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s contacts) Get(_ context.Context, id string) (*model.Contact, error) {
	return s.find(func(c model.Contact) bool { return c.ID == id })
}

func (s contacts) GetByUser(_ context.Context, userID string) (*model.Contact, error) {
	return s.find(func(c model.Contact) bool { return c.UserID != nil && *c.UserID == userID })
}

func (s contacts) GetByCRMID(_ context.Context, crmID string) (*model.Contact, error) {
	return s.find(func(c model.Contact) bool { return c.CRMContactID == crmID })
}

func (s contacts) Upsert(_ context.Context, c *model.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for id, existing := range s.contacts {
		if existing.CRMContactID != c.CRMContactID {
			continue
		}
		c.ID = id
		c.CreatedAt = existing.CreatedAt
		if c.UserID == nil {
			c.UserID = existing.UserID
		}
		c.UpdatedAt = now
		s.contacts[id] = *c
		return nil
	}
	if c.ID == "" {
		c.ID = util.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.contacts[c.ID] = *c
	return nil
}

// ---- appointments & goals ----

type appointments struct{ *Memory }

func (s appointments) Get(_ context.Context, id string) (*model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (s appointments) GetByCRMID(_ context.Context, crmID string) (*model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.appointments {
		if a.CRMAppointmentID == crmID {
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s appointments) Upsert(_ context.Context, a *model.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for id, existing := range s.appointments {
		if existing.CRMAppointmentID != a.CRMAppointmentID {
			continue
		}
		a.ID = id
		a.CreatedAt = existing.CreatedAt
		if a.ClientID == nil {
			a.ClientID = existing.ClientID
		}
		if a.ContactID == nil {
			a.ContactID = existing.ContactID
		}
		a.UpdatedAt = now
		s.appointments[id] = *a
		return nil
	}
	if a.ID == "" {
		a.ID = util.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	s.appointments[a.ID] = *a
	return nil
}

func (s appointments) ListUpcomingBetween(_ context.Context, from, to time.Time) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appointments {
		if a.Status.Upcoming() && !a.StartsAt.Before(from) && a.StartsAt.Before(to) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s appointments) ListForClientBetween(_ context.Context, clientID string, from, to time.Time) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appointments {
		if a.ClientID != nil && *a.ClientID == clientID && !a.StartsAt.Before(from) && a.StartsAt.Before(to) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

type goals struct{ *Memory }

func (s goals) CountGoals(_ context.Context, clientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, g := range s.goals {
		if g.ClientID == clientID {
			n++
		}
	}
	return n, nil
}

func (s goals) CountEntriesSince(_ context.Context, clientID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		g, ok := s.goals[e.GoalID]
		if ok && g.ClientID == clientID && !e.EntryDate.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s goals) InsertGoal(_ context.Context, g model.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.goals[g.ID]; !ok {
		s.goals[g.ID] = g
	}
	return nil
}

func (s goals) InsertEntry(_ context.Context, e model.GoalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.entries {
		if existing.ID == e.ID {
			return nil
		}
	}
	s.entries = append(s.entries, e)
	return nil
}

// ---- insights, webhooks, retries ----

type insights struct{ *Memory }

func (s insights) Insert(_ context.Context, in model.Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.insights[in.ID]; ok {
		return repository.ErrDuplicate
	}
	s.insights[in.ID] = in
	return nil
}

func (s insights) Get(_ context.Context, id string) (*model.Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.insights[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &in, nil
}

func (s insights) ListPending(_ context.Context, trainerID string, limit int) ([]model.Insight, error) {
	if limit <= 0 {
		limit = 5
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Insight
	for _, in := range s.insights {
		if in.TrainerID == trainerID && in.Status == model.InsightPending {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RiskScore != out[j].RiskScore {
			return out[i].RiskScore > out[j].RiskScore
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s insights) MarkConsumed(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if in, ok := s.insights[id]; ok {
			in.Status = model.InsightConsumed
			s.insights[id] = in
		}
	}
	return nil
}

type webhooks struct{ *Memory }

func (s webhooks) Insert(_ context.Context, e model.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.webhooks[e.EventID]; ok {
		return repository.ErrDuplicate
	}
	s.webhooks[e.EventID] = e
	return nil
}

func (s webhooks) Delete(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.webhooks, eventID)
	return nil
}

type retries struct{ *Memory }

func (s retries) Enqueue(_ context.Context, r model.SyncRetry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.retries[r.ID]; ok {
		return repository.ErrDuplicate
	}
	s.retries[r.ID] = r
	return nil
}

func (s retries) ListDue(_ context.Context, now time.Time, limit int) ([]model.SyncRetry, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SyncRetry
	for _, r := range s.retries {
		if r.Status == model.RetryPending && !r.NextAttemptAt.After(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s retries) Update(_ context.Context, r model.SyncRetry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.retries[r.ID]; !ok {
		return repository.ErrNotFound
	}
	s.retries[r.ID] = r
	return nil
}

// ---- outbox ----

type outbox struct{ *Memory }

func (s outbox) Insert(_ context.Context, _ *sqlx.Tx, aggregate, aggregateID, topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOutboxID++
	now := time.Now().UTC()
	s.outbox = append(s.outbox, model.OutboxEvent{
		ID:          s.nextOutboxID,
		Aggregate:   aggregate,
		AggregateID: aggregateID,
		Topic:       topic,
		Payload:     append([]byte(nil), payload...),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	return nil
}

func (s outbox) ListUnpublished(_ context.Context, limit int) ([]model.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OutboxEvent
	for _, e := range s.outbox {
		if e.PublishedAt == nil {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s outbox) MarkPublished(_ context.Context, ids []int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	for i := range s.outbox {
		if set[s.outbox[i].ID] {
			t := at
			s.outbox[i].PublishedAt = &t
		}
	}
	return nil
}

func (s outbox) IncrementAttempts(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	for i := range s.outbox {
		if set[s.outbox[i].ID] {
			s.outbox[i].Attempts++
		}
	}
	return nil
}
