package crmsync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/errtrack"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/util"
)

const (
	DefaultLookback = 7 * 24 * time.Hour
	MaxLookback     = 30 * 24 * time.Hour

	// maxPages bounds a single reconciliation in case the CRM keeps handing back cursors.
	maxPages = 500
)

var ErrInvalidSince = errors.New("since must be an ISO date (YYYY-MM-DD) or RFC3339 timestamp in the past")

// ResolveSince turns the optional request bound into the effective start of the
// window. Empty means seven days back; anything older than thirty days is clamped.
func ResolveSince(raw string, now time.Time) (since time.Time, clamped bool, err error) {
	raw = strings.TrimSpace(raw)
	floor := now.Add(-MaxLookback)
	if raw == "" {
		return now.Add(-DefaultLookback), false, nil
	}
	since, err = time.Parse(time.RFC3339, raw)
	if err != nil {
		since, err = time.Parse("2006-01-02", raw)
	}
	if err != nil || since.After(now) {
		return time.Time{}, false, ErrInvalidSince
	}
	if since.Before(floor) {
		return floor, true, nil
	}
	return since, false, nil
}

type EntityCount struct {
	Synced  int `json:"synced"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type ReconcileResult struct {
	Since         time.Time   `json:"since"`
	Clamped       bool        `json:"clamped"`
	Contacts      EntityCount `json:"contacts"`
	Appointments  EntityCount `json:"appointments"`
	Errors        []string    `json:"errors"`
	CorrelationID string      `json:"correlationId"`
}

// Reconcile pages through CRM contacts and then appointments changed since
// the given time and upserts them. Item failures are collected, never fatal.
func (s *Syncer) Reconcile(ctx context.Context, since time.Time, clamped bool) ReconcileResult {
	res := ReconcileResult{
		Since:         since.UTC(),
		Clamped:       clamped,
		Errors:        []string{},
		CorrelationID: util.NewThreadID(),
	}
	log := s.log.With(zap.String("correlation_id", res.CorrelationID))
	s.events.Emit(ctx, model.EventReconciliationStarted, "", "", map[string]string{
		"since":          res.Since.Format(time.RFC3339),
		"correlation_id": res.CorrelationID,
	})

	s.reconcileContacts(ctx, since, &res)
	s.reconcileAppointments(ctx, since, &res)

	log.Info("reconciliation completed",
		zap.Int("contacts", res.Contacts.Synced),
		zap.Int("appointments", res.Appointments.Synced),
		zap.Int("errors", len(res.Errors)),
	)
	s.events.Emit(ctx, model.EventReconciliationComplete, "", "", map[string]string{
		"contacts":       strconv.Itoa(res.Contacts.Synced),
		"appointments":   strconv.Itoa(res.Appointments.Synced),
		"errors":         strconv.Itoa(len(res.Errors)),
		"correlation_id": res.CorrelationID,
	})
	return res
}

func (s *Syncer) reconcileContacts(ctx context.Context, since time.Time, res *ReconcileResult) {
	cursor := ""
	for page := 0; page < maxPages; page++ {
		items, next, err := s.source.ListContacts(ctx, cursor, since)
		if err != nil {
			s.pageFailed(ctx, "contacts", err, res)
			return
		}
		for _, c := range items {
			_, err := s.applyContact(ctx, c)
			switch {
			case err == nil:
				res.Contacts.Synced++
			case permanent(err):
				res.Contacts.Skipped++
			default:
				res.Contacts.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("contact %s: %v", c.ID, err))
			}
		}
		if next == "" || next == cursor {
			return
		}
		cursor = next
	}
}

func (s *Syncer) reconcileAppointments(ctx context.Context, since time.Time, res *ReconcileResult) {
	cursor := ""
	for page := 0; page < maxPages; page++ {
		items, next, err := s.source.ListAppointments(ctx, cursor, since)
		if err != nil {
			s.pageFailed(ctx, "appointments", err, res)
			return
		}
		for _, a := range items {
			_, err := s.applyAppointment(ctx, a, model.ParseAppointmentStatus(a.Status))
			switch {
			case err == nil:
				res.Appointments.Synced++
			case permanent(err):
				res.Appointments.Skipped++
			default:
				res.Appointments.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("appointment %s: %v", a.ID, err))
			}
		}
		if next == "" || next == cursor {
			return
		}
		cursor = next
	}
}

func (s *Syncer) pageFailed(ctx context.Context, entity string, err error, res *ReconcileResult) {
	res.Errors = append(res.Errors, fmt.Sprintf("list %s: %v", entity, err))
	s.tracker.Report(ctx, err, errtrack.SEV2, errtrack.CategorySync, map[string]string{
		"entity":         entity,
		"correlation_id": res.CorrelationID,
	})
}
