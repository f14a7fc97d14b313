package triggers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/drafting"
	"github.com/trainu/coach-inbox/internal/errtrack"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/repository"
	"github.com/trainu/coach-inbox/internal/service/inbox"
)

// BookingNudges drafts an auto-approved confirmation for every appointment
// starting inside the nudge window and delivers it right away.
func (r *Runner) BookingNudges(ctx context.Context) Result {
	const wf = model.WorkflowBookingNudge
	res := newResult()
	now := r.now().UTC()

	appts, err := r.store.Appointments.ListUpcomingBetween(ctx,
		now.Add(time.Duration(r.cfg.NudgeWindowStartHours)*time.Hour),
		now.Add(time.Duration(r.cfg.NudgeWindowEndHours)*time.Hour),
	)
	if err != nil {
		res.fail("list appointments: %v", err)
		return *res
	}

	for i := range appts {
		a := &appts[i]
		o, err := r.nudge(ctx, a, res.CorrelationID)
		if err != nil {
			r.record(wf, "error")
			res.fail("appointment %s: %v", a.ID, err)
			r.tracker.Report(ctx, err, errtrack.SEV3, errtrack.CategoryTrigger, map[string]string{
				"workflow":       string(wf),
				"appointment_id": a.ID,
			})
			continue
		}
		r.record(wf, o)
		if o.Skipped() {
			res.Skipped++
			continue
		}
		res.Processed++
	}

	r.log.Info("booking nudges finished",
		zap.Int("candidates", len(appts)),
		zap.Int("processed", res.Processed),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", len(res.Errors)),
		zap.String("correlation_id", res.CorrelationID),
	)
	return *res
}

func (r *Runner) nudge(ctx context.Context, a *model.Appointment, correlationID string) (Outcome, error) {
	prov := model.BookingNudgeProvenance{AppointmentID: a.ID}
	exists, err := r.store.Messages.ExistsByIdempotencyKey(ctx, prov.IdempotencyKey())
	if err != nil {
		return "", err
	}
	if exists {
		return OutcomeDuplicate, nil
	}

	rc, err := r.appointmentRecipient(ctx, a)
	if err != nil {
		return "", err
	}
	if rc.contact == nil {
		r.log.Info("nudge skipped: no CRM contact", zap.String("appointment_id", a.ID))
		return OutcomeNoRecipient, nil
	}
	ch, err := inbox.PreferredChannel(rc.contact, model.Channel(r.cfg.DefaultChannel))
	if err != nil {
		return OutcomeNoRecipient, nil
	}
	if o, ok := r.gate(ctx, prov.Workflow(), rc.contact); !ok {
		return o, nil
	}

	m, err := r.svc.GenerateDraft(ctx, rc.draftInput(inbox.DraftInput{
		TrainerID: a.TrainerID,
		Type:      model.TypeBookingConfirmation,
		Context: drafting.Context{
			ClientName:      rc.name,
			AppointmentTime: r.formatTime(a.StartsAt, rc.contact.Timezone),
			CustomContext:   "Session is in 24 hours. Client should confirm or reschedule.",
		},
		AutoApprove:   true,
		Provenance:    prov,
		CorrelationID: correlationID,
	}))
	if errors.Is(err, inbox.ErrDuplicate) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}
	if m.RequiresApproval {
		// the screener flagged it; leave it for the trainer
		return OutcomeCreated, nil
	}
	if err := r.svc.AutoSend(ctx, m, ch); err != nil {
		return "", err
	}
	return OutcomeSent, nil
}

// NoShowRecovery drafts a recovery message for an appointment marked no-show.
// The draft always waits for review.
func (r *Runner) NoShowRecovery(ctx context.Context, trainerID, appointmentID string) (Outcome, *model.Message, error) {
	const wf = model.WorkflowNoShowRecovery
	a, err := r.store.Appointments.Get(ctx, appointmentID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && trainerID != "" && a.TrainerID != trainerID) {
		return "", nil, inbox.ErrNotFound
	}
	if err != nil {
		return "", nil, err
	}
	if a.Status != model.AppointmentNoShow {
		return "", nil, ErrNotNoShow
	}

	o, m, err := r.noShow(ctx, a)
	if err != nil {
		r.record(wf, "error")
		return "", nil, err
	}
	r.record(wf, o)
	return o, m, nil
}

func (r *Runner) noShow(ctx context.Context, a *model.Appointment) (Outcome, *model.Message, error) {
	prov := model.NoShowProvenance{AppointmentID: a.ID}
	exists, err := r.store.Messages.ExistsByIdempotencyKey(ctx, prov.IdempotencyKey())
	if err != nil {
		return "", nil, err
	}
	if exists {
		return OutcomeDuplicate, nil, nil
	}

	rc, err := r.appointmentRecipient(ctx, a)
	if err != nil {
		return "", nil, err
	}
	if rc.clientID == "" && rc.contactID == "" {
		return OutcomeNoRecipient, nil, nil
	}
	tz := ""
	if rc.contact != nil {
		if o, ok := r.gate(ctx, prov.Workflow(), rc.contact); !ok {
			return o, nil, nil
		}
		tz = rc.contact.Timezone
	}

	m, err := r.svc.GenerateDraft(ctx, rc.draftInput(inbox.DraftInput{
		TrainerID: a.TrainerID,
		Type:      model.TypeNoShowRecovery,
		Context: drafting.Context{
			ClientName:      rc.name,
			AppointmentTime: r.formatTime(a.StartsAt, tz),
			CustomContext:   "Client missed their session. Be understanding and offer easy rescheduling.",
		},
		Provenance: prov,
	}))
	if errors.Is(err, inbox.ErrDuplicate) {
		return OutcomeDuplicate, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	return OutcomeCreated, m, nil
}

type ProgressInput struct {
	TrainerID   string
	ClientID    string
	Achievement model.AchievementKind
	Ref         string
	Count       int
	GoalTitle   string
	Description string
}

// ProgressCelebration drafts and, unless screened, sends a celebration.
func (r *Runner) ProgressCelebration(ctx context.Context, in ProgressInput) (Outcome, *model.Message, error) {
	const wf = model.WorkflowProgressCelebration
	switch in.Achievement {
	case model.AchievementStreak, model.AchievementGoalCompleted, model.AchievementMilestone:
	default:
		return "", nil, &inbox.ValidationError{Field: "achievementType", Reason: "must be streak, goal_completed or milestone"}
	}

	o, m, err := r.progress(ctx, in)
	if err != nil {
		r.record(wf, "error")
		return "", m, err
	}
	r.record(wf, o)
	return o, m, nil
}

func (r *Runner) progress(ctx context.Context, in ProgressInput) (Outcome, *model.Message, error) {
	prov := model.ProgressProvenance{
		ClientID:    in.ClientID,
		Achievement: in.Achievement,
		Ref:         in.Ref,
		Count:       in.Count,
		GoalTitle:   in.GoalTitle,
		Description: in.Description,
	}

	contact, err := r.store.Contacts.GetByUser(ctx, in.ClientID)
	if errors.Is(err, repository.ErrNotFound) {
		return OutcomeNoRecipient, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	ch, err := inbox.PreferredChannel(contact, model.Channel(r.cfg.DefaultChannel))
	if err != nil {
		return OutcomeNoRecipient, nil, nil
	}
	if o, ok := r.gate(ctx, prov.Workflow(), contact); !ok {
		return o, nil, nil
	}

	progress := map[string]any{"achievementType": in.Achievement}
	switch in.Achievement {
	case model.AchievementStreak:
		progress["streakDays"] = in.Count
	case model.AchievementGoalCompleted:
		progress["goalTitle"] = in.GoalTitle
	case model.AchievementMilestone:
		progress["milestone"] = in.Description
	}

	m, err := r.svc.GenerateDraft(ctx, inbox.DraftInput{
		TrainerID:   in.TrainerID,
		Type:        model.TypeProgressCelebration,
		ClientID:    in.ClientID,
		Context:     drafting.Context{GoalProgress: progress},
		AutoApprove: true,
		Provenance:  prov,
	})
	if errors.Is(err, inbox.ErrDuplicate) {
		return OutcomeDuplicate, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	if m.RequiresApproval {
		return OutcomeCreated, m, nil
	}
	if err := r.svc.AutoSend(ctx, m, ch); err != nil {
		return "", m, err
	}
	return OutcomeSent, m, nil
}

// WeeklyCheckins drafts one check-in per client per ISO week for review.
func (r *Runner) WeeklyCheckins(ctx context.Context) Result {
	const wf = model.WorkflowWeeklyCheckin
	res := newResult()
	now := r.now().UTC()
	week := isoWeek(now)

	trainers, err := r.store.Trainers.ListActive(ctx)
	if err != nil {
		res.fail("list trainers: %v", err)
		return *res
	}
	for _, t := range trainers {
		clients, err := r.store.Clients.ListByTrainer(ctx, t.UserID)
		if err != nil {
			res.fail("trainer %s: %v", t.UserID, err)
			continue
		}
		for _, c := range clients {
			o, err := r.checkin(ctx, t, c, week, now, res.CorrelationID)
			if err != nil {
				r.record(wf, "error")
				res.fail("client %s: %v", c.UserID, err)
				continue
			}
			r.record(wf, o)
			if o.Skipped() {
				res.Skipped++
				continue
			}
			res.Processed++
		}
	}
	r.log.Info("weekly check-ins finished",
		zap.String("week", week),
		zap.Int("processed", res.Processed),
		zap.Int("errors", len(res.Errors)),
		zap.String("correlation_id", res.CorrelationID),
	)
	return *res
}

func (r *Runner) checkin(ctx context.Context, t model.Trainer, c model.Client, week string, now time.Time, correlationID string) (Outcome, error) {
	contact, err := r.store.Contacts.GetByUser(ctx, c.UserID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		// still drafted for review; the trainer picks the channel at approval
	case err != nil:
		return "", err
	default:
		if o, ok := r.gate(ctx, model.WorkflowWeeklyCheckin, contact); !ok {
			return o, nil
		}
	}

	appts, err := r.store.Appointments.ListForClientBetween(ctx, c.UserID, now.Add(-7*24*time.Hour), now)
	if err != nil {
		return "", err
	}
	sessions := 0
	for _, a := range appts {
		if a.Status == model.AppointmentCompleted || a.Status.Upcoming() {
			sessions++
		}
	}

	prov := model.WeeklyCheckinProvenance{ClientID: c.UserID, Week: week, SessionsThisWeek: sessions}
	_, err = r.svc.GenerateDraft(ctx, inbox.DraftInput{
		TrainerID: t.UserID,
		Type:      model.TypeWeeklyCheckin,
		ClientID:  c.UserID,
		Context: drafting.Context{
			RecentActivity: map[string]any{"sessionsThisWeek": sessions},
		},
		Provenance:    prov,
		CorrelationID: correlationID,
	})
	if errors.Is(err, inbox.ErrDuplicate) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}
	return OutcomeCreated, nil
}

// AtRiskOutreach drafts an outreach message from a stored insight.
func (r *Runner) AtRiskOutreach(ctx context.Context, trainerID, insightID string) (*model.Message, error) {
	in, err := r.store.Insights.Get(ctx, insightID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && in.TrainerID != trainerID) {
		return nil, inbox.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m, err := r.svc.GenerateDraft(ctx, inbox.DraftInput{
		TrainerID: trainerID,
		Type:      model.TypeAtRiskOutreach,
		ClientID:  in.ClientID,
		Context: drafting.Context{
			CustomContext: fmt.Sprintf("%s. Suggested: %s", in.Reason, in.SuggestedAction),
			RecentActivity: map[string]any{
				"riskScore": strconv.Itoa(in.RiskScore),
			},
		},
		Provenance:  model.AtRiskProvenance{InsightID: in.ID, RiskScore: in.RiskScore},
		ImpactScore: in.RiskScore,
	})
	if err != nil {
		r.record(model.WorkflowAtRiskOutreach, "error")
		return nil, err
	}
	r.record(model.WorkflowAtRiskOutreach, OutcomeCreated)
	return m, nil
}
