package inbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/config"
	"github.com/trainu/coach-inbox/internal/dispatcher"
	"github.com/trainu/coach-inbox/internal/drafting"
	"github.com/trainu/coach-inbox/internal/errtrack"
	"github.com/trainu/coach-inbox/internal/events"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/policy"
	"github.com/trainu/coach-inbox/internal/repository/memstore"
	"github.com/trainu/coach-inbox/internal/screener"
)

const missedSession = "Subject: Missed you today\nBody: Hi Mike, sorry we missed you at 3pm. Want to grab a new slot this week?"

type fakeSender struct {
	mu         sync.Mutex
	deliveries []dispatcher.Delivery
	err        error
}

func (f *fakeSender) Send(_ context.Context, d dispatcher.Delivery) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, d)
	if f.err != nil {
		return "", f.err
	}
	return "pm-1", nil
}

func (f *fakeSender) sent() []dispatcher.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatcher.Delivery(nil), f.deliveries...)
}

type fixture struct {
	svc     *Service
	mem     *memstore.Memory
	llm     *drafting.StaticCompleter
	sender  *fakeSender
	tracker *errtrack.Recorder
	events  *events.Recorder
	now     time.Time
}

func newFixture(t *testing.T, completion string) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		mem:     memstore.New(),
		llm:     &drafting.StaticCompleter{Text: completion, Tokens: 120},
		sender:  &fakeSender{},
		tracker: &errtrack.Recorder{},
		events:  &events.Recorder{},
		now:     time.Date(2026, 10, 19, 16, 0, 0, 0, time.UTC), // noon in New York
	}
	clock := func() time.Time { return f.now }

	store := f.mem.Store()
	require.NoError(t, store.Trainers.Upsert(ctx, model.Trainer{UserID: "t1", FirstName: "Sam", APIKey: "k1", Active: true}))
	require.NoError(t, store.Clients.Upsert(ctx, model.Client{UserID: "u-mike", TrainerID: "t1", FirstName: "Mike"}))
	require.NoError(t, store.Contacts.Upsert(ctx, &model.Contact{
		ID:           "ct-mike",
		CRMContactID: "crm-mike",
		TrainerID:    "t1",
		UserID:       model.Ptr("u-mike"),
		FirstName:    "Mike",
		Phone:        "+15551234567",
		Email:        "mike@example.com",
	}))

	pol, err := policy.New(config.PolicyConfig{
		QuietHoursStart:    21,
		QuietHoursEnd:      8,
		DefaultTimezone:    "America/New_York",
		DailyCapPerContact: 3,
	}, policy.NewMemoryCounter(), nil)
	require.NoError(t, err)
	pol.WithClock(clock)

	emitter := events.NewEmitter(f.events, zap.NewNop())
	scr := screener.New(nil)
	f.svc = New(Deps{
		Store:    store,
		Drafter:  drafting.NewGenerator(f.llm, scr, emitter, f.tracker, zap.NewNop()),
		Sender:   f.sender,
		Policy:   pol,
		Screener: scr,
		Events:   emitter,
		Tracker:  f.tracker,
	}).WithClock(clock)
	return f
}

func (f *fixture) draft(t *testing.T, typ model.MessageType, prov model.Provenance) *model.Message {
	t.Helper()
	m, err := f.svc.GenerateDraft(context.Background(), DraftInput{
		TrainerID:  "t1",
		Type:       typ,
		ClientID:   "u-mike",
		Context:    drafting.Context{AppointmentTime: "3pm"},
		Provenance: prov,
	})
	require.NoError(t, err)
	return m
}

func auditActions(t *testing.T, f *fixture, id string) []model.AuditAction {
	t.Helper()
	audits, err := f.svc.ListAudit(context.Background(), id, "t1")
	require.NoError(t, err)
	out := make([]model.AuditAction, 0, len(audits))
	for _, a := range audits {
		out = append(out, a.Action)
	}
	return out
}

func TestNoShowRecovery_EndToEnd(t *testing.T) {
	f := newFixture(t, missedSession)
	ctx := context.Background()

	m := f.draft(t, model.TypeNoShowRecovery, model.NoShowProvenance{AppointmentID: "appt-3pm"})
	assert.Equal(t, model.StatusNeedsReview, m.Status)
	assert.True(t, m.RequiresApproval)
	assert.Equal(t, "Missed you today", m.Subject)
	assert.Contains(t, f.llm.Requests()[0].User, "Mike")

	sent, err := f.svc.ApproveAndSend(ctx, ApproveInput{
		MessageID:    m.ID,
		TrainerID:    "t1",
		ApprovalNote: "client asked for reschedule",
		Channel:      model.ChannelSMS,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, sent.Status)
	require.NotNil(t, sent.ProviderMessageID)
	assert.Equal(t, "pm-1", *sent.ProviderMessageID)

	stored, err := f.svc.Get(ctx, m.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, stored.Status)
	assert.NotNil(t, stored.SentAt)
	assert.Equal(t, "client asked for reschedule", *stored.ApprovalNote)

	assert.Equal(t, []model.AuditAction{model.AuditCreated, model.AuditApproved, model.AuditSent}, auditActions(t, f, m.ID))

	deliveries := f.sender.sent()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "crm-mike", deliveries[0].ContactID)
	assert.Equal(t, model.ChannelSMS, deliveries[0].Channel)

	assert.Contains(t, f.events.Names(), model.EventMessageSent)
}

func TestApprove_SensitiveRequiresNote(t *testing.T) {
	f := newFixture(t, "Subject: Invoice\nBody: Hi Mike, your payment for October is due Friday.")
	ctx := context.Background()

	m := f.draft(t, model.TypeGeneralReply, nil)
	require.True(t, m.SensitiveTopicDetected)

	_, err := f.svc.ApproveAndSend(ctx, ApproveInput{MessageID: m.ID, TrainerID: "t1", Channel: model.ChannelSMS})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "approvalNote", verr.Field)

	stored, err := f.svc.Get(ctx, m.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsReview, stored.Status)
	assert.Nil(t, stored.ApprovedAt)
	assert.Empty(t, f.sender.sent())
	assert.Equal(t, []model.AuditAction{model.AuditCreated}, auditActions(t, f, m.ID))
}

func TestApprove_EditIntroducingSensitiveTopicNeedsNote(t *testing.T) {
	f := newFixture(t, missedSession)
	m := f.draft(t, model.TypeGeneralReply, nil)
	require.False(t, m.SensitiveTopicDetected)

	body := "Hi Mike, how is the knee pain today?"
	_, err := f.svc.ApproveAndSend(context.Background(), ApproveInput{
		MessageID:  m.ID,
		TrainerID:  "t1",
		EditedBody: &body,
		Channel:    model.ChannelSMS,
	})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Empty(t, f.sender.sent())
}

func TestApprove_EditedBodySupersedesDraft(t *testing.T) {
	f := newFixture(t, missedSession)
	m := f.draft(t, model.TypeNoShowRecovery, nil)

	body := "Hi Mike, missed you today! Does Thursday at 6 work?"
	sent, err := f.svc.ApproveAndSend(context.Background(), ApproveInput{
		MessageID:    m.ID,
		TrainerID:    "t1",
		EditedBody:   &body,
		ApprovalNote: "ok",
		Channel:      model.ChannelSMS,
	})
	require.NoError(t, err)
	assert.Equal(t, body, sent.Body)
	assert.Equal(t, body, f.sender.sent()[0].Body)

	audits, err := f.svc.ListAudit(context.Background(), m.ID, "t1")
	require.NoError(t, err)
	require.NotNil(t, audits[1].Changes)
	assert.Equal(t, body, audits[1].Changes.NewBody)
	assert.Contains(t, audits[1].Changes.OldBody, "sorry we missed you")
}

func TestApprove_DeliveryFailure(t *testing.T) {
	f := newFixture(t, missedSession)
	f.sender.err = errors.New("crm timeout")
	ctx := context.Background()

	m := f.draft(t, model.TypeNoShowRecovery, nil)
	out, err := f.svc.ApproveAndSend(ctx, ApproveInput{MessageID: m.ID, TrainerID: "t1", ApprovalNote: "ok", Channel: model.ChannelSMS})
	require.ErrorIs(t, err, ErrDeliveryFailed)
	require.NotNil(t, out)
	assert.Equal(t, model.StatusFailed, out.Status)

	stored, err := f.svc.Get(ctx, m.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "crm timeout")
	assert.Equal(t, []model.AuditAction{model.AuditCreated, model.AuditApproved, model.AuditFailed}, auditActions(t, f, m.ID))

	reports := f.tracker.Reports()
	require.NotEmpty(t, reports)
	assert.Equal(t, errtrack.SEV1, reports[len(reports)-1].Severity)
	assert.Equal(t, errtrack.CategoryMessageSend, reports[len(reports)-1].Category)

	retries := f.mem.Retries()
	require.Len(t, retries, 1)
	assert.Equal(t, model.RetryDelivery, retries[0].Kind)
	assert.Equal(t, m.ID, retries[0].RefID)
	assert.Equal(t, f.now.Add(time.Minute), retries[0].NextAttemptAt)

	// failed is terminal for review actions
	_, err = f.svc.Dismiss(ctx, m.ID, "t1", "")
	assert.ErrorIs(t, err, model.ErrIllegalTransition)

	f.sender.err = nil
	require.NoError(t, f.svc.Redeliver(ctx, model.DeliveryRetryPayload{MessageID: m.ID, TrainerID: "t1", Channel: model.ChannelSMS}, 1))

	audits, err := f.svc.ListAudit(ctx, m.ID, "t1")
	require.NoError(t, err)
	last := audits[len(audits)-1]
	assert.Equal(t, model.AuditSent, last.Action)
	assert.Equal(t, "Redelivered on retry 1", *last.Note)

	stored, err = f.svc.Get(ctx, m.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, stored.Status)
	assert.Nil(t, stored.ErrorMessage)
}

func TestApprove_QuietHoursIsValidationError(t *testing.T) {
	f := newFixture(t, missedSession)
	m := f.draft(t, model.TypeNoShowRecovery, nil)

	f.now = time.Date(2026, 10, 20, 2, 0, 0, 0, time.UTC) // 22:00 in New York
	_, err := f.svc.ApproveAndSend(context.Background(), ApproveInput{MessageID: m.ID, TrainerID: "t1", ApprovalNote: "ok", Channel: model.ChannelSMS})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.ErrorIs(t, err, policy.ErrQuietHours)
	assert.True(t, Deferred(err))
	assert.Empty(t, f.sender.sent())
}

func TestApprove_UnsupportedChannel(t *testing.T) {
	f := newFixture(t, missedSession)
	m := f.draft(t, model.TypeNoShowRecovery, nil)

	_, err := f.svc.ApproveAndSend(context.Background(), ApproveInput{MessageID: m.ID, TrainerID: "t1", ApprovalNote: "ok", Channel: "fax"})
	assert.ErrorIs(t, err, dispatcher.ErrUnsupportedChannel)
}

func TestSnooze_RecordsResolvedTimestamp(t *testing.T) {
	f := newFixture(t, missedSession)
	ctx := context.Background()
	m := f.draft(t, model.TypeNoShowRecovery, nil)

	_, err := f.svc.Snooze(ctx, m.ID, "t1", "2h")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	snoozed, err := f.svc.Snooze(ctx, m.ID, "t1", "1h")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSnoozed, snoozed.Status)

	audits, err := f.svc.ListAudit(ctx, m.ID, "t1")
	require.NoError(t, err)
	last := audits[len(audits)-1]
	require.Equal(t, model.AuditSnoozed, last.Action)
	require.True(t, strings.HasPrefix(*last.Note, "Snoozed until "))

	until, err := time.Parse(time.RFC3339, strings.TrimPrefix(*last.Note, "Snoozed until "))
	require.NoError(t, err)
	assert.WithinDuration(t, f.now.Add(time.Hour), until, time.Second)

	// not due yet
	n, err := f.svc.WakeSnoozed(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = f.now.Add(61 * time.Minute)
	n, err = f.svc.WakeSnoozed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	woken, err := f.svc.Get(ctx, m.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsReview, woken.Status)
	assert.Nil(t, woken.SnoozedUntil)
	assert.Equal(t, model.AuditRequeued, auditActions(t, f, m.ID)[2])
}

func TestIllegalTransitions(t *testing.T) {
	f := newFixture(t, missedSession)
	ctx := context.Background()
	m := f.draft(t, model.TypeNoShowRecovery, nil)

	_, err := f.svc.Reject(ctx, m.ID, "t1", "off tone")
	require.NoError(t, err)

	_, err = f.svc.ApproveAndSend(ctx, ApproveInput{MessageID: m.ID, TrainerID: "t1", ApprovalNote: "ok", Channel: model.ChannelSMS})
	assert.ErrorIs(t, err, model.ErrIllegalTransition)
	_, err = f.svc.EditDraft(ctx, EditInput{MessageID: m.ID, TrainerID: "t1", Body: "new"})
	assert.ErrorIs(t, err, model.ErrIllegalTransition)
	_, err = f.svc.Snooze(ctx, m.ID, "t1", "4h")
	assert.ErrorIs(t, err, model.ErrIllegalTransition)
	assert.Empty(t, f.sender.sent())
}

func TestOwnershipIsNotLeaked(t *testing.T) {
	f := newFixture(t, missedSession)
	ctx := context.Background()
	m := f.draft(t, model.TypeNoShowRecovery, nil)

	_, err := f.svc.EditDraft(ctx, EditInput{MessageID: m.ID, TrainerID: "t2", Body: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.ApproveAndSend(ctx, ApproveInput{MessageID: m.ID, TrainerID: "t2", ApprovalNote: "x", Channel: model.ChannelSMS})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Snooze(ctx, m.ID, "t2", "1h")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Dismiss(ctx, m.ID, "t2", "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.ListAudit(ctx, m.ID, "t2")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Dismiss(ctx, "missing", "t1", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEditDraft_RecordsDiff(t *testing.T) {
	f := newFixture(t, missedSession)
	ctx := context.Background()
	m := f.draft(t, model.TypeNoShowRecovery, nil)

	subject := "Let's reschedule"
	edited, err := f.svc.EditDraft(ctx, EditInput{MessageID: m.ID, TrainerID: "t1", Body: "Hi Mike, when suits you?", Subject: &subject})
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsReview, edited.Status)
	assert.Equal(t, subject, edited.Subject)

	audits, err := f.svc.ListAudit(ctx, m.ID, "t1")
	require.NoError(t, err)
	require.Len(t, audits, 2)
	assert.Equal(t, model.AuditEdited, audits[1].Action)
	assert.Equal(t, "Missed you today", audits[1].Changes.OldSubject)
	assert.Equal(t, subject, audits[1].Changes.NewSubject)

	_, err = f.svc.EditDraft(ctx, EditInput{MessageID: m.ID, TrainerID: "t1", Body: "  "})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestGenerateDraft_IdempotencyKey(t *testing.T) {
	f := newFixture(t, missedSession)
	prov := model.NoShowProvenance{AppointmentID: "appt-1"}

	m := f.draft(t, model.TypeNoShowRecovery, prov)
	require.NotNil(t, m.IdempotencyKey)
	assert.Equal(t, "no_show_recovery:appt-1", *m.IdempotencyKey)

	_, err := f.svc.GenerateDraft(context.Background(), DraftInput{
		TrainerID:  "t1",
		Type:       model.TypeNoShowRecovery,
		ClientID:   "u-mike",
		Provenance: prov,
	})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Len(t, f.llm.Requests(), 1)
}

func TestGenerateDraft_Validation(t *testing.T) {
	f := newFixture(t, missedSession)
	ctx := context.Background()
	var verr *ValidationError

	_, err := f.svc.GenerateDraft(ctx, DraftInput{TrainerID: "t1", Type: model.TypeGeneralReply})
	assert.True(t, errors.As(err, &verr))
	assert.ErrorIs(t, err, model.ErrRecipient)

	_, err = f.svc.GenerateDraft(ctx, DraftInput{TrainerID: "t1", Type: model.TypeGeneralReply, ClientID: "u-mike", ContactID: "ct-mike"})
	assert.ErrorIs(t, err, model.ErrRecipient)

	_, err = f.svc.GenerateDraft(ctx, DraftInput{TrainerID: "t1", Type: "haiku", ClientID: "u-mike"})
	assert.True(t, errors.As(err, &verr))

	_, err = f.svc.GenerateDraft(ctx, DraftInput{TrainerID: "t2", Type: model.TypeGeneralReply, ClientID: "u-mike"})
	assert.True(t, errors.As(err, &verr))

	f.llm.Err = errors.New("upstream 500")
	_, err = f.svc.GenerateDraft(ctx, DraftInput{TrainerID: "t1", Type: model.TypeGeneralReply, ClientID: "u-mike"})
	assert.ErrorIs(t, err, drafting.ErrGeneration)
	assert.Empty(t, f.mem.Messages())
}

func TestListInbox_PriorityOrder(t *testing.T) {
	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	msgs := []model.Message{
		{ID: "queued", Status: model.StatusQueued, CreatedAt: base.Add(5 * time.Minute)},
		{ID: "review-low", Status: model.StatusNeedsReview, ImpactScore: 10, CreatedAt: base.Add(4 * time.Minute)},
		{ID: "review-high", Status: model.StatusNeedsReview, ImpactScore: 90, CreatedAt: base},
		{ID: "review-low-older", Status: model.StatusNeedsReview, ImpactScore: 10, CreatedAt: base.Add(time.Minute)},
		{ID: "failed", Status: model.StatusFailed, CreatedAt: base.Add(3 * time.Minute)},
		{ID: "sent", Status: model.StatusSent, ImpactScore: 100, CreatedAt: base.Add(6 * time.Minute)},
	}
	SortByPriority(msgs)

	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"review-high", "review-low", "review-low-older", "failed", "queued", "sent"}, ids)
}

func TestListInbox_FilterAndNewest(t *testing.T) {
	f := newFixture(t, missedSession)
	ctx := context.Background()

	first := f.draft(t, model.TypeNoShowRecovery, nil)
	f.now = f.now.Add(time.Minute)
	second := f.draft(t, model.TypeNoShowRecovery, nil)
	_, err := f.svc.Dismiss(ctx, second.ID, "t1", "duplicate")
	require.NoError(t, err)

	all, err := f.svc.ListInbox(ctx, ListInput{TrainerID: "t1", Sort: SortNewest})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	prio, err := f.svc.ListInbox(ctx, ListInput{TrainerID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, prio[0].ID)

	review, err := f.svc.ListInbox(ctx, ListInput{TrainerID: "t1", Status: model.StatusNeedsReview})
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, first.ID, review[0].ID)

	_, err = f.svc.ListInbox(ctx, ListInput{TrainerID: "t1", Status: "bogus"})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}
