package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/crm"
	"github.com/trainu/coach-inbox/internal/dispatcher"
	"github.com/trainu/coach-inbox/internal/errtrack"
	"github.com/trainu/coach-inbox/internal/events"
	"github.com/trainu/coach-inbox/internal/metrics"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/repository"
	"github.com/trainu/coach-inbox/internal/service/inbox"
)

// Replayer re-applies a stored webhook body.
type Replayer interface {
	Replay(ctx context.Context, body []byte) error
}

// Redeliverer re-sends a failed message.
type Redeliverer interface {
	Redeliver(ctx context.Context, p model.DeliveryRetryPayload, attempt int) error
}

// Retries drains the sync_retries table on the fixed backoff schedule.
type Retries struct {
	Store     repository.SyncRetriesRepository
	Webhooks  Replayer
	Delivery  Redeliverer
	Events    *events.Emitter
	Tracker   errtrack.Reporter
	Log       *zap.Logger
	BatchSize int
	Poll      time.Duration

	now func() time.Time
}

func NewRetries(store repository.SyncRetriesRepository, webhooks Replayer, delivery Redeliverer, em *events.Emitter, tracker errtrack.Reporter, log *zap.Logger) *Retries {
	return &Retries{
		Store:     store,
		Webhooks:  webhooks,
		Delivery:  delivery,
		Events:    em,
		Tracker:   tracker,
		Log:       log,
		BatchSize: 50,
		Poll:      30 * time.Second,
		now:       time.Now,
	}
}

func (w *Retries) WithClock(now func() time.Time) *Retries {
	w.now = now
	return w
}

// Run polls until ctx is cancelled.
func (w *Retries) Run(ctx context.Context) error {
	if w.Poll <= 0 {
		w.Poll = 30 * time.Second
	}
	tick := time.NewTicker(w.Poll)
	defer tick.Stop()
	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.Log.Error("retry pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

// RunOnce processes every due row once and returns how many it touched.
func (w *Retries) RunOnce(ctx context.Context) (int, error) {
	due, err := w.Store.ListDue(ctx, w.now().UTC(), w.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, r := range due {
		w.process(ctx, r)
	}
	return len(due), nil
}

func (w *Retries) process(ctx context.Context, r model.SyncRetry) {
	err := w.attempt(ctx, r)
	now := w.now().UTC()
	r.UpdatedAt = now

	switch {
	case err == nil:
		r.Attempts++
		r.Status = model.RetryDone
		r.LastError = nil
		metrics.RetriesTotal.WithLabelValues(string(r.Kind), "ok").Inc()

	case inbox.Deferred(err):
		// quiet hours or daily cap: try again later without burning an attempt
		wait, _ := dispatcher.NextRetry(r.Attempts)
		if wait == 0 {
			wait = dispatcher.RetrySchedule[len(dispatcher.RetrySchedule)-1]
		}
		r.NextAttemptAt = now.Add(wait)
		r.LastError = errText(err)
		metrics.RetriesTotal.WithLabelValues(string(r.Kind), "rescheduled").Inc()

	default:
		r.Attempts++
		r.LastError = errText(err)
		wait, ok := dispatcher.NextRetry(r.Attempts)
		if !ok || !retryable(err) {
			r.Status = model.RetryDropped
			w.drop(ctx, r, err)
			break
		}
		r.NextAttemptAt = now.Add(wait)
		metrics.RetriesTotal.WithLabelValues(string(r.Kind), "rescheduled").Inc()
		w.Log.Warn("retry failed, rescheduled",
			zap.String("retry_id", r.ID),
			zap.String("kind", string(r.Kind)),
			zap.Int("attempts", r.Attempts),
			zap.Time("next_attempt_at", r.NextAttemptAt),
			zap.Error(err),
		)
	}

	if err := w.Store.Update(ctx, r); err != nil {
		w.Log.Error("update retry row", zap.String("retry_id", r.ID), zap.Error(err))
	}
}

func (w *Retries) attempt(ctx context.Context, r model.SyncRetry) error {
	switch r.Kind {
	case model.RetryWebhook:
		return w.Webhooks.Replay(ctx, r.Payload)
	case model.RetryDelivery:
		var p model.DeliveryRetryPayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return fmt.Errorf("%w: %v", errUnprocessable, err)
		}
		return w.Delivery.Redeliver(ctx, p, r.Attempts+1)
	default:
		return fmt.Errorf("%w: unknown retry kind %q", errUnprocessable, r.Kind)
	}
}

var errUnprocessable = errors.New("retry row cannot be processed")

func retryable(err error) bool {
	if errors.Is(err, errUnprocessable) || errors.Is(err, repository.ErrNotFound) {
		return false
	}
	var apiErr *crm.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

func (w *Retries) drop(ctx context.Context, r model.SyncRetry, cause error) {
	metrics.RetriesTotal.WithLabelValues(string(r.Kind), "dropped").Inc()
	w.Log.Error("retry dropped",
		zap.String("retry_id", r.ID),
		zap.String("kind", string(r.Kind)),
		zap.String("ref_id", r.RefID),
		zap.Int("attempts", r.Attempts),
		zap.Error(cause),
	)
	sev := errtrack.SEV2
	cat := errtrack.CategorySync
	if r.Kind == model.RetryDelivery {
		sev, cat = errtrack.SEV1, errtrack.CategoryMessageSend
	}
	w.Tracker.Report(ctx, cause, sev, cat, map[string]string{
		"retry_id": r.ID,
		"ref_id":   r.RefID,
		"attempts": strconv.Itoa(r.Attempts),
	})
	w.Events.Emit(ctx, model.EventSyncDropped, "", "", map[string]string{
		"kind":     string(r.Kind),
		"ref_id":   r.RefID,
		"attempts": strconv.Itoa(r.Attempts),
	})
}

func errText(err error) *string {
	s := err.Error()
	return &s
}
