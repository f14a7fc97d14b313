// Package crmsync mirrors CRM contacts and appointments into the local store,
// from signed webhooks and from on-demand reconciliation.
package crmsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/crm"
	"github.com/trainu/coach-inbox/internal/errtrack"
	"github.com/trainu/coach-inbox/internal/events"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/repository"
	"github.com/trainu/coach-inbox/internal/triggers"
	"github.com/trainu/coach-inbox/internal/util"
)

var (
	// ErrUnassigned means the CRM record belongs to no known trainer; it is skipped, not retried.
	ErrUnassigned = errors.New("crm record is not assigned to a known trainer")
	ErrBadPayload = errors.New("malformed webhook payload")
)

// Source lists CRM records page by page.
type Source interface {
	ListContacts(ctx context.Context, cursor string, since time.Time) ([]crm.Contact, string, error)
	ListAppointments(ctx context.Context, cursor string, since time.Time) ([]crm.Appointment, string, error)
}

// NoShowHandler drafts recovery messages for appointments that flip to no-show.
type NoShowHandler interface {
	NoShowRecovery(ctx context.Context, trainerID, appointmentID string) (triggers.Outcome, *model.Message, error)
}

type Syncer struct {
	store   *repository.Store
	source  Source
	noShow  NoShowHandler
	events  *events.Emitter
	tracker errtrack.Reporter
	log     *zap.Logger
	now     func() time.Time
}

func New(store *repository.Store, source Source, noShow NoShowHandler, em *events.Emitter, tracker errtrack.Reporter, log *zap.Logger) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	if tracker == nil {
		tracker = errtrack.NewLogReporter(log)
	}
	return &Syncer{
		store:   store,
		source:  source,
		noShow:  noShow,
		events:  em,
		tracker: tracker,
		log:     log,
		now:     time.Now,
	}
}

func (s *Syncer) WithClock(now func() time.Time) *Syncer {
	s.now = now
	return s
}

// Now is the syncer's clock, used to resolve reconciliation windows.
func (s *Syncer) Now() time.Time { return s.now().UTC() }

func (s *Syncer) trainerFor(ctx context.Context, crmUserID string) (*model.Trainer, error) {
	if crmUserID == "" {
		return nil, ErrUnassigned
	}
	t, err := s.store.Trainers.GetByCRMUserID(ctx, crmUserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUnassigned
	}
	return t, err
}

// applyContact upserts the local mirror of a CRM contact.
func (s *Syncer) applyContact(ctx context.Context, in crm.Contact) (*model.Contact, error) {
	if in.ID == "" {
		return nil, fmt.Errorf("%w: contact without id", ErrBadPayload)
	}
	t, err := s.trainerFor(ctx, in.AssignedTo)
	if err != nil {
		return nil, err
	}
	c := &model.Contact{
		CRMContactID: in.ID,
		TrainerID:    t.UserID,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		Phone:        util.NormalizePhone(in.Phone),
		Timezone:     in.Timezone,
	}
	if err := s.store.Contacts.Upsert(ctx, c); err != nil {
		return nil, fmt.Errorf("upsert contact %s: %w", in.ID, err)
	}
	return c, nil
}

// applyAppointment upserts a CRM appointment. The contact must already be
// mirrored; a missing one is a transient ordering failure and is retried.
// A transition into no-show fires the recovery workflow.
func (s *Syncer) applyAppointment(ctx context.Context, in crm.Appointment, status model.AppointmentStatus) (*model.Appointment, error) {
	if in.ID == "" {
		return nil, fmt.Errorf("%w: appointment without id", ErrBadPayload)
	}
	t, err := s.trainerFor(ctx, in.AssignedUserID)
	if err != nil {
		return nil, err
	}
	contact, err := s.store.Contacts.GetByCRMID(ctx, in.ContactID)
	if err != nil {
		return nil, fmt.Errorf("appointment %s: contact %s: %w", in.ID, in.ContactID, err)
	}

	prev := model.AppointmentStatus("")
	if existing, err := s.store.Appointments.GetByCRMID(ctx, in.ID); err == nil {
		prev = existing.Status
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	a := &model.Appointment{
		CRMAppointmentID: in.ID,
		TrainerID:        t.UserID,
		ContactID:        &contact.ID,
		ClientID:         contact.UserID,
		Title:            in.Title,
		StartsAt:         in.StartTime.UTC(),
		Status:           status,
	}
	if err := s.store.Appointments.Upsert(ctx, a); err != nil {
		return nil, fmt.Errorf("upsert appointment %s: %w", in.ID, err)
	}

	if a.Status == model.AppointmentNoShow && prev != model.AppointmentNoShow && s.noShow != nil {
		o, _, err := s.noShow.NoShowRecovery(ctx, a.TrainerID, a.ID)
		if err != nil {
			s.tracker.Report(ctx, err, errtrack.SEV2, errtrack.CategoryTrigger, map[string]string{
				"appointment_id": a.ID,
				"workflow":       string(model.WorkflowNoShowRecovery),
			})
		} else {
			s.log.Info("no-show recovery", zap.String("appointment_id", a.ID), zap.String("outcome", string(o)))
		}
	}
	return a, nil
}
