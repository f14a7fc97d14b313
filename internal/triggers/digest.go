package triggers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/errtrack"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/service/inbox"
	"github.com/trainu/coach-inbox/internal/util"
)

// RiskInputs are the activity counts a risk score is computed from.
type RiskInputs struct {
	Bookings30d      int // past 30 days plus upcoming, excluding no-shows and cancellations
	NoShows30d       int
	Cancellations30d int
	HasGoals         bool
	GoalEntries14d   int
}

// RiskScore applies the disengagement rubric, capped at 100.
func RiskScore(in RiskInputs) (int, []string) {
	score := 0
	var reasons []string
	if in.Bookings30d == 0 {
		score += 50
		reasons = append(reasons, "No bookings in 30 days")
	}
	if in.NoShows30d >= 2 {
		score += 30
		reasons = append(reasons, fmt.Sprintf("%d no-shows this month", in.NoShows30d))
	}
	if in.Cancellations30d >= 2 {
		score += 20
		reasons = append(reasons, fmt.Sprintf("%d cancellations", in.Cancellations30d))
	}
	if in.HasGoals && in.GoalEntries14d == 0 {
		score += 15
		reasons = append(reasons, "No goal tracking in 14 days")
	}
	if score > 100 {
		score = 100
	}
	return score, reasons
}

func SuggestedAction(score int) string {
	switch {
	case score >= 50:
		return "Reach out with a personal check-in and offer flexible scheduling"
	case score >= 30:
		return "Send a quick touchpoint to keep them engaged"
	default:
		return "Celebrate recent progress"
	}
}

// ScoredClient is one client's risk assessment.
type ScoredClient struct {
	Client  model.Client
	Score   int
	Reasons []string
}

func (r *Runner) riskInputs(ctx context.Context, clientID string, now time.Time) (RiskInputs, error) {
	var in RiskInputs
	const month = 30 * 24 * time.Hour
	appts, err := r.store.Appointments.ListForClientBetween(ctx, clientID, now.Add(-month), now.Add(month))
	if err != nil {
		return in, err
	}
	for _, a := range appts {
		if !a.StartsAt.Before(now) {
			// an upcoming session counts as booked; future cancellations are not held against the client
			if a.Status.Upcoming() {
				in.Bookings30d++
			}
			continue
		}
		switch a.Status {
		case model.AppointmentNoShow:
			in.NoShows30d++
		case model.AppointmentCancelled:
			in.Cancellations30d++
		default:
			in.Bookings30d++
		}
	}
	goals, err := r.store.Goals.CountGoals(ctx, clientID)
	if err != nil {
		return in, err
	}
	in.HasGoals = goals > 0
	if in.HasGoals {
		in.GoalEntries14d, err = r.store.Goals.CountEntriesSince(ctx, clientID, now.Add(-14*24*time.Hour))
		if err != nil {
			return in, err
		}
	}
	return in, nil
}

// ScoreClients returns the trainer's clients above the risk threshold,
// highest score first, at most DigestTopN.
func (r *Runner) ScoreClients(ctx context.Context, trainerID string) ([]ScoredClient, error) {
	now := r.now().UTC()
	clients, err := r.store.Clients.ListByTrainer(ctx, trainerID)
	if err != nil {
		return nil, err
	}
	var out []ScoredClient
	for _, c := range clients {
		in, err := r.riskInputs(ctx, c.UserID, now)
		if err != nil {
			return nil, fmt.Errorf("client %s: %w", c.UserID, err)
		}
		score, reasons := RiskScore(in)
		if score > r.cfg.RiskThreshold {
			out = append(out, ScoredClient{Client: c, Score: score, Reasons: reasons})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > r.cfg.DigestTopN {
		out = out[:r.cfg.DigestTopN]
	}
	return out, nil
}

// WeeklyDigest scores every active trainer's clients, stores insights for the
// top at-risk ones and delivers one in-app summary per trainer.
func (r *Runner) WeeklyDigest(ctx context.Context) Result {
	const wf = model.WorkflowWeeklyDigest
	res := newResult()

	trainers, err := r.store.Trainers.ListActive(ctx)
	if err != nil {
		res.fail("list trainers: %v", err)
		return *res
	}
	for _, t := range trainers {
		o, err := r.digest(ctx, t, res.CorrelationID)
		if err != nil {
			r.record(wf, "error")
			res.fail("trainer %s: %v", t.UserID, err)
			r.tracker.Report(ctx, err, errtrack.SEV3, errtrack.CategoryTrigger, map[string]string{
				"workflow":   string(wf),
				"trainer_id": t.UserID,
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

	r.events.Emit(ctx, model.EventWeeklyDigestGenerated, "", "", map[string]string{
		"correlation_id":     res.CorrelationID,
		"trainers_processed": strconv.Itoa(res.Processed),
		"errors":             strconv.Itoa(len(res.Errors)),
	})
	r.log.Info("weekly digest finished",
		zap.Int("processed", res.Processed),
		zap.Int("errors", len(res.Errors)),
		zap.String("correlation_id", res.CorrelationID),
	)
	return *res
}

const outcomeNothingAtRisk Outcome = "skipped_nothing_at_risk"

func (r *Runner) digest(ctx context.Context, t model.Trainer, correlationID string) (Outcome, error) {
	now := r.now().UTC()
	week := isoWeek(now)
	prov := model.WeeklyDigestProvenance{TrainerID: t.UserID, Week: week}
	exists, err := r.store.Messages.ExistsByIdempotencyKey(ctx, prov.IdempotencyKey())
	if err != nil {
		return "", err
	}
	if exists {
		return OutcomeDuplicate, nil
	}

	scored, err := r.ScoreClients(ctx, t.UserID)
	if err != nil {
		return "", err
	}
	if len(scored) == 0 {
		return outcomeNothingAtRisk, nil
	}

	insights := make([]model.Insight, 0, len(scored))
	for _, sc := range scored {
		in := model.Insight{
			ID:              util.New(),
			TrainerID:       t.UserID,
			ClientID:        sc.Client.UserID,
			Type:            model.InsightAtRisk,
			RiskScore:       sc.Score,
			Reason:          strings.Join(sc.Reasons, ", "),
			SuggestedAction: SuggestedAction(sc.Score),
			Status:          model.InsightPending,
			CreatedAt:       now,
		}
		if err := r.store.Insights.Insert(ctx, in); err != nil {
			r.log.Error("store insight", zap.String("client_id", in.ClientID), zap.Error(err))
			continue
		}
		insights = append(insights, in)
		r.events.Emit(ctx, model.EventInsightCreated, t.UserID, "", map[string]string{
			"insight_id": in.ID,
			"type":       in.Type,
			"risk_score": strconv.Itoa(in.RiskScore),
		})
	}
	if len(insights) == 0 {
		return "", errors.New("no insight could be stored")
	}

	names := make(map[string]string, len(scored))
	for _, sc := range scored {
		names[sc.Client.UserID] = sc.Client.DisplayName()
	}
	prov.InsightCount = len(insights)
	subject := fmt.Sprintf("Weekly Digest: %d Clients Need Attention", len(insights))
	body := r.digestBody(t, insights, names)

	m, err := r.svc.CreateSelfAddressed(ctx, t.UserID, model.TypeWeeklyDigest, subject, body, model.Metadata{
		CorrelationID: correlationID,
		Provenance:    prov,
	})
	if errors.Is(err, inbox.ErrDuplicate) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}
	if err := r.svc.AutoSend(ctx, m, model.ChannelInApp); err != nil {
		return "", err
	}

	ids := make([]string, len(insights))
	for i, in := range insights {
		ids[i] = in.ID
	}
	if err := r.store.Insights.MarkConsumed(ctx, ids); err != nil {
		r.log.Warn("mark insights consumed", zap.String("trainer_id", t.UserID), zap.Error(err))
	}
	return OutcomeSent, nil
}

func (r *Runner) digestBody(t model.Trainer, insights []model.Insight, names map[string]string) string {
	trainerName := t.FirstName
	if trainerName == "" {
		trainerName = "Trainer"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Weekly Client Insights for %s\n\n", trainerName)
	fmt.Fprintf(&b, "Here are your top %d clients who could use extra attention this week:\n\n", len(insights))
	for i, in := range insights {
		name := names[in.ClientID]
		if name == "" {
			name = "Client"
		}
		fmt.Fprintf(&b, "%d. %s (Risk Score: %d)\n", i+1, name, in.RiskScore)
		fmt.Fprintf(&b, "   Reason: %s\n", in.Reason)
		fmt.Fprintf(&b, "   Suggested Action: %s\n\n", in.SuggestedAction)
	}
	fmt.Fprintf(&b, "View full details in your AI Inbox: %s/dashboard/inbox\n", strings.TrimRight(r.baseURL, "/"))
	return b.String()
}
