package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/config"
	"github.com/trainu/coach-inbox/internal/crmsync"
	"github.com/trainu/coach-inbox/internal/dispatcher"
	"github.com/trainu/coach-inbox/internal/drafting"
	"github.com/trainu/coach-inbox/internal/errtrack"
	"github.com/trainu/coach-inbox/internal/events"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/policy"
	"github.com/trainu/coach-inbox/internal/repository/memstore"
	"github.com/trainu/coach-inbox/internal/screener"
	"github.com/trainu/coach-inbox/internal/service/inbox"
	"github.com/trainu/coach-inbox/internal/triggers"
)

const (
	webhookSecret = "whsec"
	cronSecret    = "cron-secret"
)

type okSender struct{}

func (okSender) Send(context.Context, dispatcher.Delivery) (string, error) { return "pm-1", nil }

func newTestServer(t *testing.T) (*Server, *memstore.Memory) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 16, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	mem := memstore.New()
	store := mem.Store()
	require.NoError(t, store.Trainers.Upsert(ctx, model.Trainer{UserID: "t1", FirstName: "Sam", APIKey: "k1", Active: true, CRMUserID: model.Ptr("crm-u1")}))
	require.NoError(t, store.Trainers.Upsert(ctx, model.Trainer{UserID: "t2", FirstName: "Ana", APIKey: "k2", Active: true}))
	require.NoError(t, store.Clients.Upsert(ctx, model.Client{UserID: "u-mike", TrainerID: "t1", FirstName: "Mike"}))
	require.NoError(t, store.Contacts.Upsert(ctx, &model.Contact{
		ID:           "ct-mike",
		CRMContactID: "crm-mike",
		TrainerID:    "t1",
		UserID:       model.Ptr("u-mike"),
		FirstName:    "Mike",
		Phone:        "+15551234567",
	}))

	cfg := config.Config{
		CRM:  config.CRMConfig{WebhookSecret: webhookSecret, SignatureHeader: "X-CRM-Signature"},
		Cron: config.CronConfig{Secret: cronSecret},
	}
	log := zap.NewNop()
	tracker := &errtrack.Recorder{}
	emitter := events.NewEmitter(events.NopSink{}, log)

	pol, err := policy.New(config.PolicyConfig{
		QuietHoursStart:    21,
		QuietHoursEnd:      8,
		DefaultTimezone:    "America/New_York",
		DailyCapPerContact: 3,
	}, policy.NewMemoryCounter(), log)
	require.NoError(t, err)
	pol.WithClock(clock)

	scr := screener.New(nil)
	llm := &drafting.StaticCompleter{Text: "Subject: Missed you\nBody: Hi Mike, want to grab a new slot this week?", Tokens: 80}
	svc := inbox.New(inbox.Deps{
		Store:    store,
		Drafter:  drafting.NewGenerator(llm, scr, emitter, tracker, log),
		Sender:   okSender{},
		Policy:   pol,
		Screener: scr,
		Events:   emitter,
		Tracker:  tracker,
		Log:      log,
	}).WithClock(clock)
	runner := triggers.NewRunner(svc, pol, emitter, tracker, log, config.TriggersConfig{}, "http://localhost").WithClock(clock)
	syncer := crmsync.New(store, nil, runner, emitter, tracker, log).WithClock(clock)

	srv := NewServer(Deps{
		Config: cfg,
		Inbox:  svc,
		Runner: runner,
		Sync:   syncer,
		Log:    log,
	})
	return srv, mem
}

func do(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAPI_RequiresKey(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/v1/inbox", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodGet, "/v1/inbox", nil, map[string]string{"X-API-Key": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_DraftListApprove(t *testing.T) {
	srv, mem := newTestServer(t)
	auth := map[string]string{"X-API-Key": "k1"}

	rec := do(t, srv, http.MethodPost, "/v1/messages/drafts", map[string]any{
		"messageType": "no_show_recovery",
		"clientId":    "u-mike",
		"context":     map[string]any{"appointmentTime": "3pm"},
	}, auth)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	id, _ := created["messageId"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "needs_review", created["status"])
	assert.Equal(t, true, created["requiresApproval"])

	rec = do(t, srv, http.MethodGet, "/v1/inbox", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)
	assert.EqualValues(t, 1, list["count"])

	rec = do(t, srv, http.MethodPost, "/v1/messages/"+id+"/approve", map[string]any{
		"editedBody": "Hi Mike, free Thursday at 6?",
		"channel":    "sms",
	}, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, true, out["success"])
	msg := out["message"].(map[string]any)
	assert.Equal(t, "sent", msg["status"])
	assert.Equal(t, "Hi Mike, free Thursday at 6?", msg["body"])

	// approving twice is an illegal transition
	rec = do(t, srv, http.MethodPost, "/v1/messages/"+id+"/approve", map[string]any{"channel": "sms"}, auth)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srv, http.MethodGet, "/v1/messages/"+id+"/audit", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["audit"])

	require.Len(t, mem.Messages(), 1)
}

func TestAPI_UnknownMessageTypeRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/v1/messages/drafts", map[string]any{
		"messageType": "newsletter",
		"clientId":    "u-mike",
	}, map[string]string{"X-API-Key": "k1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "messageType", decode(t, rec)["field"])
}

func TestAPI_OtherTrainersMessageIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/v1/messages/drafts", map[string]any{
		"messageType": "no_show_recovery",
		"clientId":    "u-mike",
	}, map[string]string{"X-API-Key": "k1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode(t, rec)["messageId"].(string)

	other := map[string]string{"X-API-Key": "k2"}
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/v1/messages/"+id, nil, other).Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, "/v1/messages/"+id+"/dismiss", map[string]any{}, other).Code)
}

func TestAPI_SnoozeRejectsUnknownDuration(t *testing.T) {
	srv, _ := newTestServer(t)
	auth := map[string]string{"X-API-Key": "k1"}

	rec := do(t, srv, http.MethodPost, "/v1/messages/drafts", map[string]any{
		"messageType": "no_show_recovery",
		"clientId":    "u-mike",
	}, auth)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode(t, rec)["messageId"].(string)

	rec = do(t, srv, http.MethodPost, "/v1/messages/"+id+"/snooze", map[string]any{"duration": "2w"}, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "duration", decode(t, rec)["field"])
}

func TestWebhook_Signature(t *testing.T) {
	srv, _ := newTestServer(t)
	body := []byte(`{"id":"evt-1","type":"contact.updated","contact":{"id":"crm-jo","firstName":"Jo","phone":"+15550001111","assignedTo":"crm-u1"}}`)

	rec := do(t, srv, http.MethodPost, "/webhooks/crm", body, map[string]string{"X-CRM-Signature": "deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sig := map[string]string{"X-CRM-Signature": "sha256=" + crmsync.Sign(webhookSecret, body)}
	rec = do(t, srv, http.MethodPost, "/webhooks/crm", body, sig)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode(t, rec)
	assert.Equal(t, true, first["ok"])
	assert.Equal(t, "evt-1", first["eventId"])
	assert.Nil(t, first["duplicate"])

	rec = do(t, srv, http.MethodPost, "/webhooks/crm", body, sig)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["duplicate"])
}

func TestWebhook_MalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)
	body := []byte(`{"id":`)
	rec := do(t, srv, http.MethodPost, "/webhooks/crm", body, map[string]string{"X-CRM-Signature": crmsync.Sign(webhookSecret, body)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCron_BearerSecret(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/cron/snooze-wakeups", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodGet, "/cron/snooze-wakeups", nil, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodGet, "/cron/snooze-wakeups", nil, map[string]string{"Authorization": "Bearer " + cronSecret})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, true, out["ok"])
	assert.NotEmpty(t, out["correlationId"])
}

func TestReconcile_RejectsBadSince(t *testing.T) {
	srv, _ := newTestServer(t)
	bearer := map[string]string{"Authorization": "Bearer " + cronSecret}

	rec := do(t, srv, http.MethodPost, "/v1/reconcile", map[string]any{"since": "last tuesday"}, bearer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "since", decode(t, rec)["field"])

	rec = do(t, srv, http.MethodPost, "/v1/reconcile", map[string]any{"since": "2026-10-01"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReports_UnavailableWithoutClickHouse(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/v1/reports/events", nil, map[string]string{"X-API-Key": "k1"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
