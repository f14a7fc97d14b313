package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/trainu/coach-inbox/internal/config"
	"github.com/trainu/coach-inbox/internal/crm"
	"github.com/trainu/coach-inbox/internal/model"
)

var (
	ErrNoHealthy          = errors.New("no healthy providers")
	ErrNoAcquire          = errors.New("provider not acquired")
	ErrUnsupportedChannel = errors.New("unsupported channel")
	ErrSubjectRequired    = errors.New("email requires a subject")
	ErrNoRecipient        = errors.New("recipient has no CRM contact")
)

type Dispatcher struct {
	providers         []Provider
	roundRobinCounter atomic.Uint64
	maxAttempts       int
}

func NewDispatcher(provs []Provider, maxAttempts int) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &Dispatcher{providers: provs, maxAttempts: maxAttempts}
}

// FromConfig builds one CRMProvider per enabled provider entry; BaseURL and
// Token default to the crm client settings.
func FromConfig(cfg config.DispatcherConfig, client *crm.Client) *Dispatcher {
	provs := make([]Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		provs = append(provs, NewCRMProvider(
			pc.Name,
			client.WithBaseURL(pc.BaseURL, pc.Token),
			pc.TimeoutMs, pc.Breaker.FailThreshold, pc.Breaker.OpenForMs,
		))
	}
	return NewDispatcher(provs, cfg.MaxAttempts)
}

func (d *Dispatcher) selectProvider() (Provider, error) {
	healthy := make([]Provider, 0, len(d.providers))
	for _, p := range d.providers {
		if p.Ready() {
			healthy = append(healthy, p)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}

	x := d.roundRobinCounter.Add(1)
	idx := int((x - 1) % uint64(len(healthy)))

	return healthy[idx], nil
}

func (d *Dispatcher) tryOnce(ctx context.Context, del Delivery) (string, error) {
	p, err := d.selectProvider()
	if err != nil {
		return "", err
	}

	if !p.Acquire() {
		return "", ErrNoAcquire
	}

	return p.Send(ctx, del)
}

func validate(del Delivery) error {
	switch del.Channel {
	case model.ChannelSMS:
	case model.ChannelEmail:
		if strings.TrimSpace(del.Subject) == "" {
			return ErrSubjectRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, del.Channel)
	}
	if del.ContactID == "" {
		return ErrNoRecipient
	}
	return nil
}

// Send delivers del and returns the provider message id.
func (d *Dispatcher) Send(ctx context.Context, del Delivery) (string, error) {
	if err := validate(del); err != nil {
		return "", err
	}

	var last error
	for i := 0; i < d.maxAttempts; i++ {
		id, err := d.tryOnce(ctx, del)
		if err == nil {
			return id, nil
		}
		last = err
		var apiErr *crm.APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			break
		}
	}

	if last == nil {
		last = errors.New("send failed")
	}

	return "", last
}

// RetrySchedule is the backoff between delivery and webhook retries.
var RetrySchedule = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	6 * time.Hour,
}

// NextRetry returns the wait before retry number attempts+1, or false once the
// schedule is exhausted.
func NextRetry(attempts int) (time.Duration, bool) {
	if attempts < 0 || attempts >= len(RetrySchedule) {
		return 0, false
	}
	return RetrySchedule[attempts], true
}
