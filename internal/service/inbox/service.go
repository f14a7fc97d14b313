// Package inbox is the review gate: draft creation, the human actions on a
// draft and delivery of the approved content.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/dispatcher"
	"github.com/trainu/coach-inbox/internal/drafting"
	"github.com/trainu/coach-inbox/internal/errtrack"
	"github.com/trainu/coach-inbox/internal/events"
	"github.com/trainu/coach-inbox/internal/metrics"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/policy"
	"github.com/trainu/coach-inbox/internal/repository"
	"github.com/trainu/coach-inbox/internal/screener"
	"github.com/trainu/coach-inbox/internal/util"
)

// SystemActor is the audit actor for scheduler-driven changes.
const SystemActor = "system"

type Drafter interface {
	Draft(ctx context.Context, req drafting.Request) (drafting.Draft, error)
}

type Sender interface {
	Send(ctx context.Context, d dispatcher.Delivery) (string, error)
}

type Deps struct {
	Store    *repository.Store
	Drafter  Drafter
	Sender   Sender
	Policy   *policy.Policy
	Screener *screener.Screener
	Events   *events.Emitter
	Tracker  errtrack.Reporter
	Log      *zap.Logger
}

type Service struct {
	store    *repository.Store
	drafter  Drafter
	sender   Sender
	policy   *policy.Policy
	screener *screener.Screener
	events   *events.Emitter
	tracker  errtrack.Reporter
	log      *zap.Logger
	now      func() time.Time
}

func New(d Deps) *Service {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Tracker == nil {
		d.Tracker = errtrack.NewLogReporter(d.Log)
	}
	if d.Screener == nil {
		d.Screener = screener.New(nil)
	}
	return &Service{
		store:    d.Store,
		drafter:  d.Drafter,
		sender:   d.Sender,
		policy:   d.Policy,
		screener: d.Screener,
		events:   d.Events,
		tracker:  d.Tracker,
		log:      d.Log,
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Store() *repository.Store { return s.store }

// DraftInput asks for one AI draft. Exactly one of ClientID and ContactID is set.
type DraftInput struct {
	TrainerID     string
	Type          model.MessageType
	ClientID      string
	ContactID     string
	Context       drafting.Context
	AutoApprove   bool
	Provenance    model.Provenance
	ImpactScore   int
	CorrelationID string
}

// GenerateDraft drafts and stores a message. A provenance whose idempotency key
// is already on record yields ErrDuplicate before the model is called.
func (s *Service) GenerateDraft(ctx context.Context, in DraftInput) (*model.Message, error) {
	if !in.Type.Valid() {
		return nil, invalid("messageType", fmt.Sprintf("unsupported message type %q", in.Type))
	}
	if (in.ClientID == "") == (in.ContactID == "") {
		return nil, &ValidationError{Field: "recipient", Reason: model.ErrRecipient.Error(), Err: model.ErrRecipient}
	}

	trainer, err := s.store.Trainers.Get(ctx, in.TrainerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, invalid("trainerId", "unknown trainer")
	}
	if err != nil {
		return nil, err
	}

	recipientName, err := s.recipientName(ctx, in)
	if err != nil {
		return nil, err
	}

	if in.Provenance == nil {
		in.Provenance = model.ManualProvenance{}
	}
	if key := in.Provenance.IdempotencyKey(); key != "" {
		exists, err := s.store.Messages.ExistsByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrDuplicate
		}
	}

	dc := in.Context
	if dc.ClientName == "" {
		dc.ClientName = recipientName
	}
	if dc.TrainerName == "" {
		dc.TrainerName = trainer.FirstName
	}

	d, err := s.drafter.Draft(ctx, drafting.Request{
		Type:        in.Type,
		TrainerID:   in.TrainerID,
		Context:     dc,
		AutoApprove: in.AutoApprove,
	})
	if err != nil {
		return nil, err
	}

	meta := d.Metadata
	meta.Provenance = in.Provenance
	meta.ImpactScore = in.ImpactScore
	meta.CorrelationID = in.CorrelationID
	if meta.CorrelationID == "" {
		meta.CorrelationID = util.NewThreadID()
	}

	now := s.now().UTC()
	m := &model.Message{
		ID:                     util.New(),
		ThreadID:               util.NewThreadID(),
		SenderID:               in.TrainerID,
		Type:                   in.Type,
		Subject:                d.Subject,
		Body:                   d.Body,
		Status:                 model.InitialStatus(d.RequiresApproval),
		IsAIGenerated:          true,
		RequiresApproval:       d.RequiresApproval,
		SensitiveTopicDetected: d.SensitiveTopicDetected,
		Metadata:               meta,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if in.ClientID != "" {
		m.RecipientUserID = model.Ptr(in.ClientID)
	} else {
		m.RecipientContactID = model.Ptr(in.ContactID)
	}
	m.SyncDenormalized()

	return m, s.create(ctx, m, in.TrainerID, "AI-generated draft")
}

func (s *Service) recipientName(ctx context.Context, in DraftInput) (string, error) {
	if in.ClientID != "" {
		c, err := s.store.Clients.Get(ctx, in.ClientID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && c.TrainerID != in.TrainerID) {
			return "", invalid("clientId", "unknown client")
		}
		if err != nil {
			return "", err
		}
		return c.FirstName, nil
	}
	c, err := s.store.Contacts.Get(ctx, in.ContactID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && c.TrainerID != in.TrainerID) {
		return "", invalid("contactId", "unknown contact")
	}
	if err != nil {
		return "", err
	}
	return c.FirstName, nil
}

// CreateSelfAddressed stores a non-AI message from a trainer to themself
// (weekly digest). It starts as a draft so it can be auto-queued.
func (s *Service) CreateSelfAddressed(ctx context.Context, trainerID string, t model.MessageType, subject, body string, meta model.Metadata) (*model.Message, error) {
	now := s.now().UTC()
	meta.MessageType = t
	m := &model.Message{
		ID:              util.New(),
		ThreadID:        util.NewThreadID(),
		SenderID:        trainerID,
		RecipientUserID: model.Ptr(trainerID),
		Type:            t,
		Subject:         subject,
		Body:            body,
		Status:          model.StatusDraft,
		Metadata:        meta,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.SyncDenormalized()
	return m, s.create(ctx, m, SystemActor, "Generated summary")
}

func (s *Service) create(ctx context.Context, m *model.Message, actor, note string) error {
	if err := m.ValidateRecipient(); err != nil {
		return &ValidationError{Field: "recipient", Reason: err.Error(), Err: err}
	}
	err := s.store.Messages.Create(ctx, m, s.audit(m.ID, model.AuditCreated, actor, note, nil))
	if errors.Is(err, repository.ErrDuplicate) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	metrics.TransitionsTotal.WithLabelValues(string(model.ActionCreate), m.Status.String()).Inc()
	return nil
}

func (s *Service) audit(messageID string, action model.AuditAction, actor, note string, changes *model.Changes) model.MessageAudit {
	a := model.MessageAudit{
		ID:        util.New(),
		MessageID: messageID,
		Action:    action,
		ActorID:   actor,
		Changes:   changes,
		CreatedAt: s.now().UTC(),
	}
	if note != "" {
		a.Note = model.Ptr(note)
	}
	return a
}

// owned loads a message and hides it from anyone but its sender.
func (s *Service) owned(ctx context.Context, messageID, trainerID string) (*model.Message, error) {
	m, err := s.store.Messages.Get(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if m.SenderID != trainerID {
		return nil, ErrNotFound
	}
	return m, nil
}

// ResolveContact finds the CRM contact a message delivers to.
func (s *Service) ResolveContact(ctx context.Context, m *model.Message) (*model.Contact, error) {
	var (
		c   *model.Contact
		err error
	)
	switch {
	case m.RecipientContactID != nil:
		c, err = s.store.Contacts.Get(ctx, *m.RecipientContactID)
	case m.RecipientUserID != nil:
		c, err = s.store.Contacts.GetByUser(ctx, *m.RecipientUserID)
	default:
		return nil, &ValidationError{Field: "recipient", Reason: model.ErrRecipient.Error(), Err: model.ErrRecipient}
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &ValidationError{Field: "recipient", Reason: "recipient has no CRM contact", Err: dispatcher.ErrNoRecipient}
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Reachable validates that c can receive on ch.
func Reachable(c *model.Contact, ch model.Channel) error {
	switch ch {
	case model.ChannelSMS:
		if strings.TrimSpace(c.Phone) == "" {
			return invalid("channel", "contact has no phone number")
		}
	case model.ChannelEmail:
		if strings.TrimSpace(c.Email) == "" {
			return invalid("channel", "contact has no email address")
		}
	default:
		return &ValidationError{Field: "channel", Reason: fmt.Sprintf("unsupported channel %q", ch), Err: dispatcher.ErrUnsupportedChannel}
	}
	return nil
}

// PreferredChannel picks pref when the contact can take it, else the other outbound channel.
func PreferredChannel(c *model.Contact, pref model.Channel) (model.Channel, error) {
	if Reachable(c, pref) == nil {
		return pref, nil
	}
	for _, ch := range []model.Channel{model.ChannelSMS, model.ChannelEmail} {
		if Reachable(c, ch) == nil {
			return ch, nil
		}
	}
	return "", invalid("channel", "contact has neither phone nor email")
}

// CheckSendPolicy applies quiet hours and the daily cap for c.
func (s *Service) CheckSendPolicy(ctx context.Context, c *model.Contact) error {
	if s.policy == nil {
		return nil
	}
	return s.policy.Check(ctx, c.ID, c.Timezone)
}
