package triggers

import (
	"context"
	"errors"
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
	"github.com/trainu/coach-inbox/internal/service/inbox"
)

type recordingSender struct {
	mu  sync.Mutex
	got []dispatcher.Delivery
}

func (s *recordingSender) Send(_ context.Context, d dispatcher.Delivery) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, d)
	return "pm-nudge", nil
}

type harness struct {
	runner *Runner
	mem    *memstore.Memory
	sender *recordingSender
	events *events.Recorder
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		mem:    memstore.New(),
		sender: &recordingSender{},
		events: &events.Recorder{},
		now:    time.Date(2026, 10, 19, 16, 0, 0, 0, time.UTC), // Monday noon in New York
	}
	clock := func() time.Time { return h.now }

	store := h.mem.Store()
	require.NoError(t, store.Trainers.Upsert(ctx, model.Trainer{UserID: "t1", FirstName: "Sam", LastName: "Lee", Active: true}))
	require.NoError(t, store.Clients.Upsert(ctx, model.Client{UserID: "u-ana", TrainerID: "t1", FirstName: "Ana", LastName: "Diaz"}))
	require.NoError(t, store.Contacts.Upsert(ctx, &model.Contact{
		ID:           "ct-ana",
		CRMContactID: "crm-ana",
		TrainerID:    "t1",
		UserID:       model.Ptr("u-ana"),
		FirstName:    "Ana",
		Phone:        "+15550001111",
	}))

	pol, err := policy.New(config.PolicyConfig{
		QuietHoursStart:    21,
		QuietHoursEnd:      8,
		DefaultTimezone:    "America/New_York",
		DailyCapPerContact: 3,
	}, policy.NewMemoryCounter(), nil)
	require.NoError(t, err)
	pol.WithClock(clock)

	log := zap.NewNop()
	tracker := &errtrack.Recorder{}
	emitter := events.NewEmitter(h.events, log)
	scr := screener.New(nil)
	completer := &drafting.StaticCompleter{Text: "Subject: See you tomorrow\nBody: Hi Ana! Reply YES to confirm or RESCHEDULE to pick a new time."}

	svc := inbox.New(inbox.Deps{
		Store:    store,
		Drafter:  drafting.NewGenerator(completer, scr, emitter, tracker, log),
		Sender:   h.sender,
		Policy:   pol,
		Screener: scr,
		Events:   emitter,
		Tracker:  tracker,
		Log:      log,
	}).WithClock(clock)

	h.runner = NewRunner(svc, pol, emitter, tracker, log, config.TriggersConfig{
		NudgeWindowStartHours: 24,
		NudgeWindowEndHours:   28,
		DefaultChannel:        "sms",
		DigestTopN:            5,
		RiskThreshold:         30,
	}, "https://app.example.com/").WithClock(clock)
	return h
}

func (h *harness) appointment(t *testing.T, id string, startsAt time.Time, st model.AppointmentStatus) {
	t.Helper()
	require.NoError(t, h.mem.Store().Appointments.Upsert(context.Background(), &model.Appointment{
		ID:               id,
		CRMAppointmentID: "crm-" + id,
		TrainerID:        "t1",
		ClientID:         model.Ptr("u-ana"),
		StartsAt:         startsAt,
		Status:           st,
	}))
}

func TestRiskScore(t *testing.T) {
	score, reasons := RiskScore(RiskInputs{Bookings30d: 0, NoShows30d: 2, HasGoals: true, GoalEntries14d: 0})
	assert.Equal(t, 95, score)
	assert.Len(t, reasons, 3)

	score, _ = RiskScore(RiskInputs{NoShows30d: 3, Cancellations30d: 2, HasGoals: true})
	assert.Equal(t, 100, score)

	score, reasons = RiskScore(RiskInputs{Bookings30d: 4, HasGoals: true, GoalEntries14d: 3})
	assert.Zero(t, score)
	assert.Empty(t, reasons)

	// no goals set means nothing to track
	score, _ = RiskScore(RiskInputs{Bookings30d: 1})
	assert.Zero(t, score)

	assert.Contains(t, SuggestedAction(95), "flexible scheduling")
	assert.Contains(t, SuggestedAction(35), "touchpoint")
	assert.Contains(t, SuggestedAction(10), "Celebrate")
}

func TestBookingNudges_CreatesOneAutoSentMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.appointment(t, "appt-26h", h.now.Add(26*time.Hour), model.AppointmentScheduled)
	h.appointment(t, "appt-40h", h.now.Add(40*time.Hour), model.AppointmentScheduled)
	h.appointment(t, "appt-cancelled", h.now.Add(25*time.Hour), model.AppointmentCancelled)

	res := h.runner.BookingNudges(ctx)
	assert.Equal(t, 1, res.Processed)
	assert.Empty(t, res.Errors)
	assert.NotEmpty(t, res.CorrelationID)

	msgs := h.mem.Messages()
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, model.StatusSent, m.Status)
	assert.False(t, m.RequiresApproval)
	assert.Equal(t, model.TypeBookingConfirmation, m.Type)
	require.NotNil(t, m.WorkflowType)
	assert.Equal(t, model.WorkflowBookingNudge, *m.WorkflowType)
	assert.Equal(t, model.BookingNudgeProvenance{AppointmentID: "appt-26h"}, m.Metadata.Provenance)

	require.Len(t, h.sender.got, 1)
	assert.Equal(t, "crm-ana", h.sender.got[0].ContactID)
	assert.Equal(t, model.ChannelSMS, h.sender.got[0].Channel)

	// second run: already nudged
	res = h.runner.BookingNudges(ctx)
	assert.Zero(t, res.Processed)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, h.mem.Messages(), 1)
}

func TestBookingNudges_QuietHoursSkipSilently(t *testing.T) {
	h := newHarness(t)
	h.now = time.Date(2026, 10, 20, 2, 0, 0, 0, time.UTC) // 22:00 in New York
	h.appointment(t, "appt-26h", h.now.Add(26*time.Hour), model.AppointmentConfirmed)

	res := h.runner.BookingNudges(context.Background())
	assert.Zero(t, res.Processed)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.Errors)
	assert.Empty(t, h.mem.Messages())
}

func TestNoShowRecovery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.appointment(t, "appt-missed", h.now.Add(-time.Hour), model.AppointmentNoShow)
	h.appointment(t, "appt-ok", h.now.Add(-2*time.Hour), model.AppointmentCompleted)

	o, m, err := h.runner.NoShowRecovery(ctx, "t1", "appt-missed")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, o)
	assert.Equal(t, model.StatusNeedsReview, m.Status)
	assert.True(t, m.RequiresApproval)
	assert.Empty(t, h.sender.got)

	o, _, err = h.runner.NoShowRecovery(ctx, "t1", "appt-missed")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, o)

	_, _, err = h.runner.NoShowRecovery(ctx, "t1", "appt-ok")
	assert.ErrorIs(t, err, ErrNotNoShow)

	_, _, err = h.runner.NoShowRecovery(ctx, "t2", "appt-missed")
	assert.ErrorIs(t, err, inbox.ErrNotFound)
}

func TestProgressCelebration_AutoSends(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := ProgressInput{TrainerID: "t1", ClientID: "u-ana", Achievement: model.AchievementStreak, Ref: "streak-10", Count: 10}
	o, m, err := h.runner.ProgressCelebration(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, o)
	assert.Equal(t, model.StatusSent, m.Status)
	assert.Equal(t, "progress_celebration:u-ana:streak:streak-10", *m.IdempotencyKey)

	o, _, err = h.runner.ProgressCelebration(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, o)

	_, _, err = h.runner.ProgressCelebration(ctx, ProgressInput{TrainerID: "t1", ClientID: "u-ana", Achievement: "pr"})
	var verr *inbox.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestWeeklyDigest_ScoresAndSummarizes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	store := h.mem.Store()

	// two no-shows, nothing else booked, a goal with no recent entries: 50+30+15
	h.appointment(t, "ns-1", h.now.Add(-10*24*time.Hour), model.AppointmentNoShow)
	h.appointment(t, "ns-2", h.now.Add(-3*24*time.Hour), model.AppointmentNoShow)
	require.NoError(t, store.Goals.InsertGoal(ctx, model.Goal{ID: "g1", ClientID: "u-ana", Title: "Run 5k"}))
	require.NoError(t, store.Goals.InsertEntry(ctx, model.GoalEntry{ID: "e1", GoalID: "g1", EntryDate: h.now.Add(-20 * 24 * time.Hour)}))

	// an engaged client stays out of the digest
	require.NoError(t, store.Clients.Upsert(ctx, model.Client{UserID: "u-ben", TrainerID: "t1", FirstName: "Ben"}))
	require.NoError(t, store.Appointments.Upsert(ctx, &model.Appointment{
		ID: "ben-1", CRMAppointmentID: "crm-ben-1", TrainerID: "t1", ClientID: model.Ptr("u-ben"),
		StartsAt: h.now.Add(-2 * 24 * time.Hour), Status: model.AppointmentCompleted,
	}))

	scored, err := h.runner.ScoreClients(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "u-ana", scored[0].Client.UserID)
	assert.Equal(t, 95, scored[0].Score)

	res := h.runner.WeeklyDigest(ctx)
	assert.Equal(t, 1, res.Processed)
	assert.Empty(t, res.Errors)

	msgs := h.mem.Messages()
	require.Len(t, msgs, 1)
	digest := msgs[0]
	assert.Equal(t, model.TypeWeeklyDigest, digest.Type)
	assert.Equal(t, model.StatusSent, digest.Status)
	assert.Equal(t, "t1", *digest.RecipientUserID)
	assert.Equal(t, "Weekly Digest: 1 Clients Need Attention", digest.Subject)
	assert.Contains(t, digest.Body, "1. Ana Diaz (Risk Score: 95)")
	assert.Contains(t, digest.Body, "https://app.example.com/dashboard/inbox")
	assert.Empty(t, h.sender.got, "digest is delivered in app")

	pending, err := store.Insights.ListPending(ctx, "t1", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.Contains(t, h.events.Names(), model.EventInsightCreated)
	assert.Contains(t, h.events.Names(), model.EventWeeklyDigestGenerated)

	// same ISO week
	res = h.runner.WeeklyDigest(ctx)
	assert.Zero(t, res.Processed)
	assert.Len(t, h.mem.Messages(), 1)
}

func TestScoreClients_UpcomingBookingIsNotAtRisk(t *testing.T) {
	h := newHarness(t)
	h.appointment(t, "next-week", h.now.Add(5*24*time.Hour), model.AppointmentScheduled)

	scored, err := h.runner.ScoreClients(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, scored)

	// a future cancellation is neither a booking nor a strike
	h.appointment(t, "next-week", h.now.Add(5*24*time.Hour), model.AppointmentCancelled)
	scored, err = h.runner.ScoreClients(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, 50, scored[0].Score)
	assert.Equal(t, []string{"No bookings in 30 days"}, scored[0].Reasons)
}

func TestAtRiskOutreach_FromInsight(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.mem.Store().Insights.Insert(ctx, model.Insight{
		ID: "ins-1", TrainerID: "t1", ClientID: "u-ana", Type: model.InsightAtRisk,
		RiskScore: 80, Reason: "No bookings in 30 days", SuggestedAction: SuggestedAction(80),
		Status: model.InsightPending, CreatedAt: h.now,
	}))

	m, err := h.runner.AtRiskOutreach(ctx, "t1", "ins-1")
	require.NoError(t, err)
	assert.Equal(t, model.TypeAtRiskOutreach, m.Type)
	assert.Equal(t, model.StatusNeedsReview, m.Status)
	assert.Equal(t, 80, m.ImpactScore)

	_, err = h.runner.AtRiskOutreach(ctx, "t2", "ins-1")
	assert.ErrorIs(t, err, inbox.ErrNotFound)
}

func TestWeeklyCheckins_OnePerClientPerWeek(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.appointment(t, "done-1", h.now.Add(-2*24*time.Hour), model.AppointmentCompleted)

	res := h.runner.WeeklyCheckins(ctx)
	assert.Equal(t, 1, res.Processed)

	msgs := h.mem.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, model.StatusNeedsReview, msgs[0].Status)
	assert.Equal(t, "weekly_checkin:u-ana:2026-W43", *msgs[0].IdempotencyKey)

	res = h.runner.WeeklyCheckins(ctx)
	assert.Zero(t, res.Processed)
	assert.Equal(t, 1, res.Skipped)
}

func TestWeeklyCheckins_QuietHoursSkipSilently(t *testing.T) {
	h := newHarness(t)
	h.now = time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC) // 02:00 in New York
	h.appointment(t, "done-1", h.now.Add(-2*24*time.Hour), model.AppointmentCompleted)

	res := h.runner.WeeklyCheckins(context.Background())
	assert.Zero(t, res.Processed)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.Errors)
	assert.Empty(t, h.mem.Messages())

	// the same week, once the contact is awake
	h.now = time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)
	res = h.runner.WeeklyCheckins(context.Background())
	assert.Equal(t, 1, res.Processed)
	assert.Len(t, h.mem.Messages(), 1)
}
