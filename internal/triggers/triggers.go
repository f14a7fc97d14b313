// Package triggers synthesizes drafts from appointments, goals and risk scores.
package triggers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/config"
	"github.com/trainu/coach-inbox/internal/errtrack"
	"github.com/trainu/coach-inbox/internal/events"
	"github.com/trainu/coach-inbox/internal/metrics"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/policy"
	"github.com/trainu/coach-inbox/internal/repository"
	"github.com/trainu/coach-inbox/internal/service/inbox"
	"github.com/trainu/coach-inbox/internal/util"
)

// Result is the summary a batch run hands back to cron callers.
type Result struct {
	Processed     int      `json:"processed"`
	Skipped       int      `json:"skipped"`
	Errors        []string `json:"errors"`
	CorrelationID string   `json:"correlationId"`
}

func newResult() *Result {
	return &Result{Errors: []string{}, CorrelationID: util.NewThreadID()}
}

func (r *Result) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Outcome describes what a single trigger invocation did.
type Outcome string

const (
	OutcomeCreated     Outcome = "created"
	OutcomeSent        Outcome = "sent"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeQuietHours  Outcome = "skipped_quiet_hours"
	OutcomeDailyCap    Outcome = "skipped_daily_cap"
	OutcomeNoRecipient Outcome = "skipped_no_recipient"
)

// Skipped reports outcomes that created nothing.
func (o Outcome) Skipped() bool {
	return o != OutcomeCreated && o != OutcomeSent
}

var ErrNotNoShow = errors.New("appointment is not marked as a no-show")

type Runner struct {
	svc     *inbox.Service
	store   *repository.Store
	policy  *policy.Policy
	events  *events.Emitter
	tracker errtrack.Reporter
	log     *zap.Logger
	cfg     config.TriggersConfig
	baseURL string
	now     func() time.Time
}

func NewRunner(
	svc *inbox.Service,
	pol *policy.Policy,
	em *events.Emitter,
	tracker errtrack.Reporter,
	log *zap.Logger,
	cfg config.TriggersConfig,
	baseURL string,
) *Runner {
	if cfg.NudgeWindowStartHours <= 0 {
		cfg.NudgeWindowStartHours = 24
	}
	if cfg.NudgeWindowEndHours <= cfg.NudgeWindowStartHours {
		cfg.NudgeWindowEndHours = cfg.NudgeWindowStartHours + 4
	}
	if cfg.DigestTopN <= 0 {
		cfg.DigestTopN = 5
	}
	if cfg.DefaultChannel == "" {
		cfg.DefaultChannel = string(model.ChannelSMS)
	}
	return &Runner{
		svc:     svc,
		store:   svc.Store(),
		policy:  pol,
		events:  em,
		tracker: tracker,
		log:     log,
		cfg:     cfg,
		baseURL: baseURL,
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

func (r *Runner) record(wf model.WorkflowType, o Outcome) {
	metrics.TriggerRunsTotal.WithLabelValues(string(wf), string(o)).Inc()
}

// recipient is the resolved addressee of an appointment-bound workflow.
type recipient struct {
	clientID  string
	contactID string
	name      string
	contact   *model.Contact
}

func (rc recipient) draftInput(in inbox.DraftInput) inbox.DraftInput {
	if rc.clientID != "" {
		in.ClientID = rc.clientID
	} else {
		in.ContactID = rc.contactID
	}
	return in
}

// appointmentRecipient prefers the registered client and falls back to the CRM contact.
func (r *Runner) appointmentRecipient(ctx context.Context, a *model.Appointment) (recipient, error) {
	var rc recipient
	switch {
	case a.ClientID != nil && *a.ClientID != "":
		rc.clientID = *a.ClientID
		c, err := r.store.Contacts.GetByUser(ctx, rc.clientID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return rc, err
		}
		rc.contact = c
		if cl, err := r.store.Clients.Get(ctx, rc.clientID); err == nil {
			rc.name = cl.FirstName
		}
	case a.ContactID != nil && *a.ContactID != "":
		rc.contactID = *a.ContactID
		c, err := r.store.Contacts.Get(ctx, rc.contactID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return rc, err
		}
		rc.contact = c
	}
	if rc.name == "" && rc.contact != nil {
		rc.name = rc.contact.FirstName
	}
	return rc, nil
}

// gate applies the send policy; violations become a silent skip.
func (r *Runner) gate(ctx context.Context, wf model.WorkflowType, c *model.Contact) (Outcome, bool) {
	err := r.svc.CheckSendPolicy(ctx, c)
	switch {
	case err == nil:
		return "", true
	case errors.Is(err, policy.ErrQuietHours):
		r.log.Info("trigger skipped: quiet hours", zap.String("workflow", string(wf)), zap.String("contact_id", c.ID))
		return OutcomeQuietHours, false
	case errors.Is(err, policy.ErrDailyCap):
		r.log.Info("trigger skipped: daily cap", zap.String("workflow", string(wf)), zap.String("contact_id", c.ID))
		return OutcomeDailyCap, false
	default:
		r.log.Warn("send policy check failed", zap.String("workflow", string(wf)), zap.Error(err))
		return "", true
	}
}

func (r *Runner) formatTime(t time.Time, tz string) string {
	return t.In(r.policy.Location(tz)).Format("Monday, January 2 at 3:04 PM")
}

func isoWeek(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}

// SnoozeWakeups returns due snoozed messages to review.
func (r *Runner) SnoozeWakeups(ctx context.Context) Result {
	res := newResult()
	n, err := r.svc.WakeSnoozed(ctx, 500)
	res.Processed = n
	if err != nil {
		res.fail("%v", err)
	}
	r.log.Info("snooze wakeups", zap.Int("woken", n), zap.String("correlation_id", res.CorrelationID))
	return *res
}
