package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trainu/coach-inbox/internal/crm"
	"github.com/trainu/coach-inbox/internal/model"
)

// Delivery is one outbound message addressed to a CRM contact.
type Delivery struct {
	Channel   model.Channel
	ContactID string // CRM contact id
	Subject   string
	Body      string
}

type Provider interface {
	Name() string
	Ready() bool
	Acquire() bool
	Send(ctx context.Context, d Delivery) (string, error)
}

// MessageSender is the slice of the CRM client a provider needs.
type MessageSender interface {
	SendMessage(ctx context.Context, req crm.SendRequest) (crm.SendResult, error)
}

// CRMProvider delivers through the CRM conversations API behind a breaker.
type CRMProvider struct {
	name    string
	sender  MessageSender
	timeout time.Duration
	br      *MicroBreaker
}

func NewCRMProvider(name string, sender MessageSender, timeoutMs, failThreshold, openForMs int) *CRMProvider {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}

	if failThreshold <= 0 {
		failThreshold = 3
	}

	if openForMs <= 0 {
		openForMs = 15000
	}

	return &CRMProvider{
		name:    name,
		sender:  sender,
		timeout: time.Duration(timeoutMs) * time.Millisecond,
		br:      NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

func (p *CRMProvider) Name() string  { return p.name }
func (p *CRMProvider) Ready() bool   { return p.br.Ready() }
func (p *CRMProvider) Acquire() bool { return p.br.TryAcquire() }

func (p *CRMProvider) Send(ctx context.Context, d Delivery) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := crm.SendRequest{ContactID: d.ContactID, Message: d.Body}
	switch d.Channel {
	case model.ChannelSMS:
		req.Type = crm.MessageTypeSMS
	case model.ChannelEmail:
		req.Type = crm.MessageTypeEmail
		req.Subject = d.Subject
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedChannel, d.Channel)
	}

	res, err := p.sender.SendMessage(ctx, req)
	if err != nil {
		// 4xx is the request's fault, not the provider's health
		var apiErr *crm.APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			p.br.OnSuccess()
			return "", err
		}
		p.br.OnFailure()
		return "", fmt.Errorf("provider=%s: %w", p.name, err)
	}

	p.br.OnSuccess()

	return res.MessageID, nil
}
