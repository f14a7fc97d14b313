// Package policy holds the outbound send rules: quiet hours and the per-contact daily cap.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/config"
)

var (
	ErrQuietHours = errors.New("recipient is inside quiet hours")
	ErrDailyCap   = errors.New("daily message cap reached for recipient")
)

type Policy struct {
	quietStart int
	quietEnd   int
	defaultLoc *time.Location
	dailyCap   int
	counter    Counter
	log        *zap.Logger
	now        func() time.Time
}

func New(cfg config.PolicyConfig, counter Counter, log *zap.Logger) (*Policy, error) {
	tz := cfg.DefaultTimezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("default timezone %q: %w", tz, err)
	}
	if counter == nil {
		counter = NewMemoryCounter()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Policy{
		quietStart: cfg.QuietHoursStart,
		quietEnd:   cfg.QuietHoursEnd,
		defaultLoc: loc,
		dailyCap:   cfg.DailyCapPerContact,
		counter:    counter,
		log:        log,
		now:        time.Now,
	}, nil
}

// WithClock overrides the wall clock (tests).
func (p *Policy) WithClock(now func() time.Time) *Policy {
	p.now = now
	return p
}

// Location resolves an IANA zone name, falling back to the default zone.
func (p *Policy) Location(tz string) *time.Location {
	if tz == "" {
		return p.defaultLoc
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return p.defaultLoc
	}
	return loc
}

// InQuietHours reports whether at falls inside the quiet window in tz.
func (p *Policy) InQuietHours(at time.Time, tz string) bool {
	h := at.In(p.Location(tz)).Hour()
	switch {
	case p.quietStart == p.quietEnd:
		return false
	case p.quietStart > p.quietEnd: // wraps midnight
		return h >= p.quietStart || h < p.quietEnd
	default:
		return h >= p.quietStart && h < p.quietEnd
	}
}

func (p *Policy) capKey(recipientID string, at time.Time, tz string) string {
	return "cap:" + recipientID + ":" + at.In(p.Location(tz)).Format("2006-01-02")
}

// Check returns ErrQuietHours or ErrDailyCap when a send to recipientID must
// wait. Counter failures do not block sends.
func (p *Policy) Check(ctx context.Context, recipientID, tz string) error {
	now := p.now()
	if p.InQuietHours(now, tz) {
		return ErrQuietHours
	}
	if p.dailyCap <= 0 {
		return nil
	}
	n, err := p.counter.Count(ctx, p.capKey(recipientID, now, tz))
	if err != nil {
		p.log.Warn("daily cap lookup failed", zap.String("recipient", recipientID), zap.Error(err))
		return nil
	}
	if n >= int64(p.dailyCap) {
		return ErrDailyCap
	}
	return nil
}

// Record counts one delivered message against today's cap.
func (p *Policy) Record(ctx context.Context, recipientID, tz string) {
	if p.dailyCap <= 0 {
		return
	}
	if _, err := p.counter.Incr(ctx, p.capKey(recipientID, p.now(), tz), 48*time.Hour); err != nil {
		p.log.Warn("daily cap increment failed", zap.String("recipient", recipientID), zap.Error(err))
	}
}
