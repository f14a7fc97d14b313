package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/crm"
	"github.com/trainu/coach-inbox/internal/dispatcher"
	"github.com/trainu/coach-inbox/internal/errtrack"
	"github.com/trainu/coach-inbox/internal/metrics"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/policy"
	"github.com/trainu/coach-inbox/internal/util"
)

var snoozeDurations = map[string]time.Duration{
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"24h": 24 * time.Hour,
	"3d":  72 * time.Hour,
}

// ParseSnooze accepts 1h, 4h, 24h or 3d.
func ParseSnooze(s string) (time.Duration, bool) {
	d, ok := snoozeDurations[strings.TrimSpace(s)]
	return d, ok
}

// transition applies action, runs mutate and persists m with one audit row.
func (s *Service) transition(ctx context.Context, m *model.Message, action model.Action, audit model.MessageAudit, mutate func()) error {
	if err := m.Apply(action); err != nil {
		return err
	}
	if mutate != nil {
		mutate()
	}
	m.UpdatedAt = s.now().UTC()
	if err := s.store.Messages.Save(ctx, m, audit); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	metrics.TransitionsTotal.WithLabelValues(string(action), m.Status.String()).Inc()
	return nil
}

type EditInput struct {
	MessageID string
	TrainerID string
	Body      string
	Subject   *string
}

// EditDraft replaces the content of a message still under review.
func (s *Service) EditDraft(ctx context.Context, in EditInput) (*model.Message, error) {
	m, err := s.owned(ctx, in.MessageID, in.TrainerID)
	if err != nil {
		return nil, err
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, invalid("body", "body is required")
	}
	subject := m.Subject
	if in.Subject != nil && strings.TrimSpace(*in.Subject) != "" {
		subject = strings.TrimSpace(*in.Subject)
	}

	changes := &model.Changes{OldBody: m.Body, NewBody: body, OldSubject: m.Subject, NewSubject: subject}
	err = s.transition(ctx, m, model.ActionEdit, s.audit(m.ID, model.AuditEdited, in.TrainerID, "", changes), func() {
		m.Body, m.Subject = body, subject
		s.flagSensitive(m)
	})
	if err != nil {
		return nil, err
	}
	s.events.Emit(ctx, model.EventMessageEdited, in.TrainerID, m.ID, nil)
	return m, nil
}

// flagSensitive re-screens edited content; the flag never clears.
func (s *Service) flagSensitive(m *model.Message) {
	if !m.SensitiveTopicDetected && s.screener.Screen(m.Body) {
		m.SensitiveTopicDetected = true
		m.Metadata.SensitiveTopicDetected = true
	}
}

type ApproveInput struct {
	MessageID     string
	TrainerID     string
	EditedBody    *string
	EditedSubject *string
	ApprovalNote  string
	Channel       model.Channel
}

// ApproveAndSend approves a draft and delivers it at once. Rule violations
// return a *ValidationError and leave the message untouched. A provider
// failure leaves the message failed and returns ErrDeliveryFailed.
func (s *Service) ApproveAndSend(ctx context.Context, in ApproveInput) (*model.Message, error) {
	m, err := s.owned(ctx, in.MessageID, in.TrainerID)
	if err != nil {
		return nil, err
	}
	if _, err := m.Status.Next(model.ActionApprove); err != nil {
		return nil, err
	}
	if in.Channel != model.ChannelSMS && in.Channel != model.ChannelEmail {
		return nil, &ValidationError{Field: "channel", Reason: "channel must be sms or email", Err: dispatcher.ErrUnsupportedChannel}
	}

	body, subject := m.Body, m.Subject
	if in.EditedBody != nil {
		body = strings.TrimSpace(*in.EditedBody)
		if body == "" {
			return nil, invalid("editedBody", "edited body is empty")
		}
	}
	if in.EditedSubject != nil && strings.TrimSpace(*in.EditedSubject) != "" {
		subject = strings.TrimSpace(*in.EditedSubject)
	}

	note := strings.TrimSpace(in.ApprovalNote)
	sensitive := m.SensitiveTopicDetected || s.screener.Screen(body)
	if sensitive && note == "" {
		return nil, invalid("approvalNote", "an approval note is required for messages with sensitive topics")
	}
	if in.Channel == model.ChannelEmail && strings.TrimSpace(subject) == "" {
		return nil, &ValidationError{Field: "subject", Reason: "email requires a subject", Err: dispatcher.ErrSubjectRequired}
	}

	contact, err := s.ResolveContact(ctx, m)
	if err != nil {
		return nil, err
	}
	if err := Reachable(contact, in.Channel); err != nil {
		return nil, err
	}
	if err := s.CheckSendPolicy(ctx, contact); err != nil {
		return nil, &ValidationError{Field: "schedule", Reason: err.Error(), Err: err}
	}

	var changes *model.Changes
	editCount := 0
	if body != m.Body || subject != m.Subject {
		changes = &model.Changes{OldBody: m.Body, NewBody: body, OldSubject: m.Subject, NewSubject: subject}
		editCount = 1
	}

	now := s.now().UTC()
	err = s.transition(ctx, m, model.ActionApprove, s.audit(m.ID, model.AuditApproved, in.TrainerID, note, changes), func() {
		m.Body, m.Subject = body, subject
		if sensitive {
			m.SensitiveTopicDetected = true
			m.Metadata.SensitiveTopicDetected = true
		}
		m.ApprovedBy = model.Ptr(in.TrainerID)
		m.ApprovedAt = &now
		if note != "" {
			m.ApprovalNote = model.Ptr(note)
		}
		m.Channel = model.Ptr(in.Channel)
	})
	if err != nil {
		return nil, err
	}
	s.events.Emit(ctx, model.EventMessageApproved, in.TrainerID, m.ID, map[string]string{
		"edit_count": strconv.Itoa(editCount),
	})

	return m, s.deliver(ctx, m, contact, in.Channel, in.TrainerID)
}

// AutoSend queues and delivers a message that needs no review. In-app
// messages are marked sent without touching the CRM.
func (s *Service) AutoSend(ctx context.Context, m *model.Message, ch model.Channel) error {
	if m.RequiresApproval {
		return invalid("status", "message requires review")
	}

	var contact *model.Contact
	if ch != model.ChannelInApp {
		c, err := s.ResolveContact(ctx, m)
		if err != nil {
			return err
		}
		if err := Reachable(c, ch); err != nil {
			return err
		}
		contact = c
	}

	wf := "manual"
	if m.WorkflowType != nil {
		wf = string(*m.WorkflowType)
	}
	err := s.transition(ctx, m, model.ActionQueue, s.audit(m.ID, model.AuditApproved, SystemActor, "Auto-approved by "+wf, nil), func() {
		m.Channel = model.Ptr(ch)
	})
	if err != nil {
		return err
	}

	if contact == nil {
		now := s.now().UTC()
		return s.transition(ctx, m, model.ActionDeliver, s.audit(m.ID, model.AuditSent, SystemActor, "Delivered in app", nil), func() {
			m.SentAt = &now
		})
	}
	return s.deliver(ctx, m, contact, ch, SystemActor)
}

func (s *Service) deliver(ctx context.Context, m *model.Message, c *model.Contact, ch model.Channel, actor string) error {
	providerID, sendErr := s.sender.Send(ctx, dispatcher.Delivery{
		Channel:   ch,
		ContactID: c.CRMContactID,
		Subject:   m.Subject,
		Body:      m.Body,
	})
	if sendErr != nil {
		return s.markFailed(ctx, m, ch, actor, sendErr)
	}

	now := s.now().UTC()
	err := s.transition(ctx, m, model.ActionDeliver, s.audit(m.ID, model.AuditSent, actor, "Sent via "+ch.String(), nil), func() {
		m.ProviderMessageID = model.Ptr(providerID)
		m.SentAt = &now
		m.ErrorMessage = nil
	})
	if err != nil {
		s.log.Error("message sent but not recorded", zap.String("message_id", m.ID), zap.String("provider_message_id", providerID), zap.Error(err))
		return err
	}
	if s.policy != nil {
		s.policy.Record(ctx, c.ID, c.Timezone)
	}
	metrics.DeliveriesTotal.WithLabelValues(ch.String(), "sent").Inc()
	s.events.Emit(ctx, model.EventMessageSent, m.SenderID, m.ID, map[string]string{"channel": ch.String()})
	return nil
}

func (s *Service) markFailed(ctx context.Context, m *model.Message, ch model.Channel, actor string, sendErr error) error {
	msg := sendErr.Error()
	err := s.transition(ctx, m, model.ActionFail, s.audit(m.ID, model.AuditFailed, actor, msg, nil), func() {
		m.ErrorMessage = model.Ptr(msg)
	})
	if err != nil {
		s.log.Error("record delivery failure", zap.String("message_id", m.ID), zap.Error(err))
	}

	metrics.DeliveriesTotal.WithLabelValues(ch.String(), "failed").Inc()
	s.events.Emit(ctx, model.EventMessageFailed, m.SenderID, m.ID, map[string]string{"error": msg})
	s.tracker.Report(ctx, sendErr, errtrack.SEV1, errtrack.CategoryMessageSend, map[string]string{
		"message_id": m.ID,
		"channel":    ch.String(),
	})

	var apiErr *crm.APIError
	if !errors.As(sendErr, &apiErr) || apiErr.Retryable() {
		s.enqueueDeliveryRetry(ctx, m, ch)
	}
	return fmt.Errorf("%w: %v", ErrDeliveryFailed, sendErr)
}

func (s *Service) enqueueDeliveryRetry(ctx context.Context, m *model.Message, ch model.Channel) {
	payload, _ := json.Marshal(model.DeliveryRetryPayload{MessageID: m.ID, TrainerID: m.SenderID, Channel: ch})
	now := s.now().UTC()
	wait, _ := dispatcher.NextRetry(0)
	r := model.SyncRetry{
		ID:            util.New(),
		Kind:          model.RetryDelivery,
		RefID:         m.ID,
		Payload:       payload,
		Status:        model.RetryPending,
		LastError:     m.ErrorMessage,
		NextAttemptAt: now.Add(wait),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Retries.Enqueue(ctx, r); err != nil {
		s.log.Error("enqueue delivery retry", zap.String("message_id", m.ID), zap.Error(err))
	}
}

// Redeliver re-sends a failed message from the retry queue. Success moves it
// to sent; a failure is audited and returned so the caller can reschedule.
func (s *Service) Redeliver(ctx context.Context, p model.DeliveryRetryPayload, attempt int) error {
	m, err := s.store.Messages.Get(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if m.Status != model.StatusFailed {
		return nil
	}
	c, err := s.ResolveContact(ctx, m)
	if err != nil {
		return err
	}
	if err := s.CheckSendPolicy(ctx, c); err != nil {
		return &ValidationError{Field: "schedule", Reason: err.Error(), Err: err}
	}

	providerID, sendErr := s.sender.Send(ctx, dispatcher.Delivery{
		Channel:   p.Channel,
		ContactID: c.CRMContactID,
		Subject:   m.Subject,
		Body:      m.Body,
	})
	now := s.now().UTC()
	if sendErr != nil {
		msg := sendErr.Error()
		m.ErrorMessage = model.Ptr(msg)
		m.UpdatedAt = now
		note := fmt.Sprintf("Retry %d failed: %s", attempt, msg)
		if err := s.store.Messages.Save(ctx, m, s.audit(m.ID, model.AuditFailed, SystemActor, note, nil)); err != nil {
			s.log.Error("record retry failure", zap.String("message_id", m.ID), zap.Error(err))
		}
		metrics.DeliveriesTotal.WithLabelValues(p.Channel.String(), "failed").Inc()
		return sendErr
	}

	note := fmt.Sprintf("Redelivered on retry %d", attempt)
	err = s.transition(ctx, m, model.ActionRedeliver, s.audit(m.ID, model.AuditSent, SystemActor, note, nil), func() {
		m.ProviderMessageID = model.Ptr(providerID)
		m.SentAt = &now
		m.ErrorMessage = nil
	})
	if err != nil {
		return err
	}
	if s.policy != nil {
		s.policy.Record(ctx, c.ID, c.Timezone)
	}
	metrics.DeliveriesTotal.WithLabelValues(p.Channel.String(), "sent").Inc()
	s.events.Emit(ctx, model.EventMessageSent, m.SenderID, m.ID, map[string]string{
		"channel": p.Channel.String(),
		"retry":   strconv.Itoa(attempt),
	})
	return nil
}

// Deferred reports whether err only means "not now" (quiet hours or daily cap).
func Deferred(err error) bool {
	return errors.Is(err, policy.ErrQuietHours) || errors.Is(err, policy.ErrDailyCap)
}

func (s *Service) Reject(ctx context.Context, messageID, trainerID, reason string) (*model.Message, error) {
	m, err := s.owned(ctx, messageID, trainerID)
	if err != nil {
		return nil, err
	}
	audit := s.audit(m.ID, model.AuditRejected, trainerID, strings.TrimSpace(reason), nil)
	if err := s.transition(ctx, m, model.ActionReject, audit, nil); err != nil {
		return nil, err
	}
	return m, nil
}

// Snooze hides a message until now+duration and records the resolved time.
func (s *Service) Snooze(ctx context.Context, messageID, trainerID, duration string) (*model.Message, error) {
	d, ok := ParseSnooze(duration)
	if !ok {
		return nil, invalid("duration", "duration must be one of 1h, 4h, 24h, 3d")
	}
	m, err := s.owned(ctx, messageID, trainerID)
	if err != nil {
		return nil, err
	}
	until := s.now().UTC().Add(d)
	audit := s.audit(m.ID, model.AuditSnoozed, trainerID, "Snoozed until "+until.Format(time.RFC3339), nil)
	if err := s.transition(ctx, m, model.ActionSnooze, audit, func() { m.SnoozedUntil = &until }); err != nil {
		return nil, err
	}
	s.events.Emit(ctx, model.EventMessageSnoozed, trainerID, m.ID, map[string]string{"duration": duration})
	return m, nil
}

func (s *Service) Dismiss(ctx context.Context, messageID, trainerID, reason string) (*model.Message, error) {
	m, err := s.owned(ctx, messageID, trainerID)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	audit := s.audit(m.ID, model.AuditDismissed, trainerID, reason, nil)
	if err := s.transition(ctx, m, model.ActionDismiss, audit, func() { m.SnoozedUntil = nil }); err != nil {
		return nil, err
	}
	s.events.Emit(ctx, model.EventMessageDismissed, trainerID, m.ID, map[string]string{"reason": reason})
	return m, nil
}

// WakeSnoozed moves every snoozed message whose time has come back to review.
// One bad row does not stop the batch.
func (s *Service) WakeSnoozed(ctx context.Context, limit int) (int, error) {
	due, err := s.store.Messages.ListSnoozedDue(ctx, s.now().UTC(), limit)
	if err != nil {
		return 0, err
	}
	var (
		woken int
		errs  []error
	)
	for i := range due {
		m := &due[i]
		audit := s.audit(m.ID, model.AuditRequeued, SystemActor, "Snooze expired", nil)
		if err := s.transition(ctx, m, model.ActionWake, audit, func() { m.SnoozedUntil = nil }); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.ID, err))
			continue
		}
		woken++
	}
	return woken, errors.Join(errs...)
}
