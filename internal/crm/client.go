// Package crm is a small REST client for the CRM that owns contacts, calendars and conversations.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/trainu/coach-inbox/internal/config"
)

// APIError is a non-2xx CRM response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crm %s %s %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Retryable reports whether the call may succeed later.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	baseURL    string
	token      string
	locationID string
	apiVersion string
	pageSize   int
	http       *http.Client
}

func New(cfg config.CRMConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		locationID: cfg.LocationID,
		apiVersion: cfg.APIVersion,
		pageSize:   pageSize,
		http:       &http.Client{Timeout: timeout},
	}
}

// WithBaseURL returns a copy of c pointed at another host and token (per-provider overrides).
func (c *Client) WithBaseURL(baseURL, token string) *Client {
	cp := *c
	if baseURL != "" {
		cp.baseURL = strings.TrimRight(baseURL, "/")
	}
	if token != "" {
		cp.token = token
	}
	return &cp
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if c.apiVersion != "" {
		req.Header.Set("Version", c.apiVersion)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &APIError{Method: method, Path: path, StatusCode: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// ---- conversations ----

const (
	MessageTypeSMS   = "SMS"
	MessageTypeEmail = "Email"
)

type SendRequest struct {
	Type      string `json:"type"`
	ContactID string `json:"contactId"`
	Message   string `json:"message"`
	Subject   string `json:"subject,omitempty"`
}

type SendResult struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId,omitempty"`
}

func (c *Client) SendMessage(ctx context.Context, req SendRequest) (SendResult, error) {
	var out SendResult
	if err := c.do(ctx, http.MethodPost, "/conversations/messages", nil, req, &out); err != nil {
		return SendResult{}, err
	}
	if out.MessageID == "" {
		return SendResult{}, fmt.Errorf("crm send: empty message id")
	}
	return out, nil
}

// ---- contacts & appointments ----

type Contact struct {
	ID          string    `json:"id"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	Timezone    string    `json:"timezone"`
	AssignedTo  string    `json:"assignedTo"`
	DateUpdated time.Time `json:"dateUpdated"`
}

type Appointment struct {
	ID             string    `json:"id"`
	ContactID      string    `json:"contactId"`
	AssignedUserID string    `json:"assignedUserId"`
	Title          string    `json:"title"`
	Status         string    `json:"appointmentStatus"`
	StartTime      time.Time `json:"startTime"`
}

type pageMeta struct {
	StartAfterID string `json:"startAfterId"`
}

type contactsPage struct {
	Contacts []Contact `json:"contacts"`
	Meta     pageMeta  `json:"meta"`
}

type appointmentsPage struct {
	Events []Appointment `json:"events"`
	Meta   pageMeta      `json:"meta"`
}

func (c *Client) pageQuery(cursor string, since time.Time, sinceKey string) url.Values {
	q := url.Values{}
	if c.locationID != "" {
		q.Set("locationId", c.locationID)
	}
	q.Set("limit", strconv.Itoa(c.pageSize))
	if cursor != "" {
		q.Set("startAfterId", cursor)
	}
	if !since.IsZero() {
		q.Set(sinceKey, strconv.FormatInt(since.UnixMilli(), 10))
	}
	return q
}

// ListContacts returns one page updated after since and the cursor for the next
// page; an empty cursor means the last page.
func (c *Client) ListContacts(ctx context.Context, cursor string, since time.Time) ([]Contact, string, error) {
	var page contactsPage
	if err := c.do(ctx, http.MethodGet, "/contacts/", c.pageQuery(cursor, since, "dateUpdatedAfter"), nil, &page); err != nil {
		return nil, "", err
	}
	next := page.Meta.StartAfterID
	if len(page.Contacts) < c.pageSize {
		next = ""
	}
	return page.Contacts, next, nil
}

// ListAppointments pages calendar events starting at or after since.
func (c *Client) ListAppointments(ctx context.Context, cursor string, since time.Time) ([]Appointment, string, error) {
	var page appointmentsPage
	if err := c.do(ctx, http.MethodGet, "/calendars/events", c.pageQuery(cursor, since, "startTime"), nil, &page); err != nil {
		return nil, "", err
	}
	next := page.Meta.StartAfterID
	if len(page.Events) < c.pageSize {
		next = ""
	}
	return page.Events, next, nil
}
