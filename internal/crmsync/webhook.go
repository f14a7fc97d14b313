package crmsync

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/crm"
	"github.com/trainu/coach-inbox/internal/dispatcher"
	"github.com/trainu/coach-inbox/internal/errtrack"
	"github.com/trainu/coach-inbox/internal/metrics"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/repository"
	"github.com/trainu/coach-inbox/internal/util"
)

// VerifySignature checks a hex HMAC-SHA256 of body, optionally prefixed with
// "sha256=". An empty secret rejects everything.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return false
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the hex signature VerifySignature accepts.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type webhookPayload struct {
	ID          string           `json:"id"`
	EventID     string           `json:"eventId"`
	Type        string           `json:"type"`
	Contact     *crm.Contact     `json:"contact,omitempty"`
	Appointment *crm.Appointment `json:"appointment,omitempty"`
}

func (p webhookPayload) eventID(body []byte) string {
	switch {
	case p.ID != "":
		return p.ID
	case p.EventID != "":
		return p.EventID
	default:
		sum := sha256.Sum256(body)
		return hex.EncodeToString(sum[:])
	}
}

// WebhookResult is what the CRM gets back. Every recognized delivery is
// acknowledged, including ones queued for retry.
type WebhookResult struct {
	OK        bool   `json:"ok"`
	EventID   string `json:"eventId,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
	Queued    bool   `json:"queued,omitempty"`
}

func parsePayload(body []byte) (webhookPayload, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	p.Type = strings.ToLower(strings.TrimSpace(p.Type))
	if p.Type == "" {
		return p, fmt.Errorf("%w: missing type", ErrBadPayload)
	}
	return p, nil
}

// HandleWebhook records the event id, then applies the event. A malformed
// body is returned as ErrBadPayload. When the event can neither be recorded
// nor queued for retry the error is returned and the event id is released, so
// the CRM's redelivery is processed again.
func (s *Syncer) HandleWebhook(ctx context.Context, body []byte) (WebhookResult, error) {
	p, err := parsePayload(body)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		return WebhookResult{}, err
	}
	id := p.eventID(body)
	res := WebhookResult{OK: true, EventID: id}

	err = s.store.WebhookEvents.Insert(ctx, model.WebhookEvent{
		EventID:    id,
		EventType:  p.Type,
		Payload:    body,
		ReceivedAt: s.now().UTC(),
	})
	if errors.Is(err, repository.ErrDuplicate) {
		metrics.WebhookEventsTotal.WithLabelValues(p.Type, "duplicate").Inc()
		res.Duplicate = true
		return res, nil
	}
	if err != nil {
		return WebhookResult{}, fmt.Errorf("record webhook event: %w", err)
	}

	handled, err := s.apply(ctx, p)
	switch {
	case err == nil && !handled:
		metrics.WebhookEventsTotal.WithLabelValues(p.Type, "ignored").Inc()
		res.Ignored = true
	case err == nil:
		metrics.WebhookEventsTotal.WithLabelValues(p.Type, "ok").Inc()
		s.events.Emit(ctx, model.EventSyncOK, "", "", map[string]string{"event_type": p.Type, "event_id": id})
	case permanent(err):
		s.log.Warn("webhook event skipped", zap.String("event_id", id), zap.String("type", p.Type), zap.Error(err))
		metrics.WebhookEventsTotal.WithLabelValues(p.Type, "ignored").Inc()
		res.Ignored = true
	default:
		if qerr := s.enqueueRetry(ctx, id, p.Type, body, err); qerr != nil {
			metrics.WebhookEventsTotal.WithLabelValues(p.Type, "failed").Inc()
			if derr := s.store.WebhookEvents.Delete(ctx, id); derr != nil {
				s.log.Error("release webhook event", zap.String("event_id", id), zap.Error(derr))
			}
			return WebhookResult{}, fmt.Errorf("queue webhook retry: %w", qerr)
		}
		metrics.WebhookEventsTotal.WithLabelValues(p.Type, "retry").Inc()
		res.Queued = true
	}
	return res, nil
}

// Replay re-applies a stored webhook body from the retry queue.
func (s *Syncer) Replay(ctx context.Context, body []byte) error {
	p, err := parsePayload(body)
	if err != nil {
		return err
	}
	if _, err := s.apply(ctx, p); err != nil && !permanent(err) {
		return err
	}
	s.events.Emit(ctx, model.EventSyncOK, "", "", map[string]string{"event_type": p.Type, "event_id": p.eventID(body), "replay": "true"})
	return nil
}

func permanent(err error) bool {
	return errors.Is(err, ErrUnassigned) || errors.Is(err, ErrBadPayload)
}

// apply reports whether the event type is one this service mirrors.
func (s *Syncer) apply(ctx context.Context, p webhookPayload) (bool, error) {
	switch {
	case p.Type == "contact.created" || p.Type == "contact.updated":
		if p.Contact == nil {
			return true, fmt.Errorf("%w: %s without contact", ErrBadPayload, p.Type)
		}
		_, err := s.applyContact(ctx, *p.Contact)
		return true, err

	case strings.HasPrefix(p.Type, "appointment."):
		if p.Appointment == nil {
			return true, fmt.Errorf("%w: %s without appointment", ErrBadPayload, p.Type)
		}
		status := model.ParseAppointmentStatus(p.Appointment.Status)
		if p.Type == "appointment.cancelled" {
			status = model.AppointmentCancelled
		}
		_, err := s.applyAppointment(ctx, *p.Appointment, status)
		return true, err

	case p.Type == "invoice.paid" || p.Type == "offer.purchased":
		return false, nil

	default:
		s.log.Info("unhandled webhook event type", zap.String("type", p.Type))
		return false, nil
	}
}

func (s *Syncer) enqueueRetry(ctx context.Context, eventID, eventType string, body []byte, cause error) error {
	now := s.now().UTC()
	wait, _ := dispatcher.NextRetry(0)
	msg := cause.Error()
	r := model.SyncRetry{
		ID:            util.New(),
		Kind:          model.RetryWebhook,
		RefID:         eventID,
		Payload:       body,
		Status:        model.RetryPending,
		LastError:     &msg,
		NextAttemptAt: now.Add(wait),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Retries.Enqueue(ctx, r); err != nil {
		s.log.Error("enqueue webhook retry", zap.String("event_id", eventID), zap.Error(err))
		s.tracker.Report(ctx, err, errtrack.SEV2, errtrack.CategoryWebhook, map[string]string{
			"event_id":   eventID,
			"event_type": eventType,
		})
		return err
	}
	s.tracker.Report(ctx, cause, errtrack.SEV2, errtrack.CategoryWebhook, map[string]string{
		"event_id":   eventID,
		"event_type": eventType,
	})
	s.events.Emit(ctx, model.EventSyncRetry, "", "", map[string]string{
		"event_type": eventType,
		"event_id":   eventID,
		"error":      msg,
	})
	return nil
}
