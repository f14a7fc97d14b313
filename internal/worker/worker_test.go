package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/config"
	"github.com/trainu/coach-inbox/internal/crm"
	"github.com/trainu/coach-inbox/internal/errtrack"
	"github.com/trainu/coach-inbox/internal/events"
	"github.com/trainu/coach-inbox/internal/kafka"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/policy"
	"github.com/trainu/coach-inbox/internal/repository"
	"github.com/trainu/coach-inbox/internal/repository/memstore"
	"github.com/trainu/coach-inbox/internal/service/inbox"
	"github.com/trainu/coach-inbox/internal/triggers"
)

type stubReplayer struct{ errs []error }

func (s *stubReplayer) Replay(context.Context, []byte) error {
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

type stubRedeliverer struct {
	err      error
	attempts []int
}

func (s *stubRedeliverer) Redeliver(_ context.Context, _ model.DeliveryRetryPayload, attempt int) error {
	s.attempts = append(s.attempts, attempt)
	return s.err
}

type retryFixture struct {
	w       *Retries
	mem     *memstore.Memory
	replay  *stubReplayer
	deliver *stubRedeliverer
	events  *events.Recorder
	tracker *errtrack.Recorder
	now     time.Time
}

func newRetryFixture(t *testing.T) *retryFixture {
	t.Helper()
	f := &retryFixture{
		mem:     memstore.New(),
		replay:  &stubReplayer{},
		deliver: &stubRedeliverer{},
		events:  &events.Recorder{},
		tracker: &errtrack.Recorder{},
		now:     time.Date(2026, 10, 19, 16, 0, 0, 0, time.UTC),
	}
	log := zap.NewNop()
	f.w = NewRetries(f.mem.Store().Retries, f.replay, f.deliver, events.NewEmitter(f.events, log), f.tracker, log).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *retryFixture) enqueue(t *testing.T, kind model.RetryKind, payload []byte) {
	t.Helper()
	require.NoError(t, f.mem.Store().Retries.Enqueue(context.Background(), model.SyncRetry{
		ID:            "r1",
		Kind:          kind,
		RefID:         "ref-1",
		Payload:       payload,
		Status:        model.RetryPending,
		NextAttemptAt: f.now,
		CreatedAt:     f.now,
	}))
}

func (f *retryFixture) row(t *testing.T) model.SyncRetry {
	t.Helper()
	rows := f.mem.Retries()
	require.Len(t, rows, 1)
	return rows[0]
}

func TestRetries_BackoffThenDrop(t *testing.T) {
	f := newRetryFixture(t)
	boom := errors.New("crm timeout")
	f.replay.errs = []error{boom, boom, boom, boom, boom}
	f.enqueue(t, model.RetryWebhook, []byte(`{}`))

	want := []time.Duration{5 * time.Minute, 15 * time.Minute, time.Hour, 6 * time.Hour}
	for i, wait := range want {
		n, err := f.w.RunOnce(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, n)
		r := f.row(t)
		assert.Equal(t, i+1, r.Attempts)
		assert.Equal(t, model.RetryPending, r.Status)
		assert.Equal(t, f.now.Add(wait), r.NextAttemptAt)
		f.now = r.NextAttemptAt
	}

	_, err := f.w.RunOnce(context.Background())
	require.NoError(t, err)
	r := f.row(t)
	assert.Equal(t, 5, r.Attempts)
	assert.Equal(t, model.RetryDropped, r.Status)
	assert.Equal(t, []model.EventName{model.EventSyncDropped}, f.events.Names())
	require.Len(t, f.tracker.Reports(), 1)

	n, err := f.w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRetries_SuccessMarksDone(t *testing.T) {
	f := newRetryFixture(t)
	f.enqueue(t, model.RetryWebhook, []byte(`{}`))

	_, err := f.w.RunOnce(context.Background())
	require.NoError(t, err)
	r := f.row(t)
	assert.Equal(t, model.RetryDone, r.Status)
	assert.Nil(t, r.LastError)
}

func TestRetries_DeliveryDeferredKeepsAttempts(t *testing.T) {
	f := newRetryFixture(t)
	payload, _ := json.Marshal(model.DeliveryRetryPayload{MessageID: "m1", TrainerID: "t1", Channel: model.ChannelSMS})
	f.enqueue(t, model.RetryDelivery, payload)
	f.deliver.err = &inbox.ValidationError{Field: "schedule", Reason: "quiet hours", Err: policy.ErrQuietHours}

	_, err := f.w.RunOnce(context.Background())
	require.NoError(t, err)
	r := f.row(t)
	assert.Equal(t, 0, r.Attempts)
	assert.Equal(t, model.RetryPending, r.Status)
	assert.Equal(t, f.now.Add(time.Minute), r.NextAttemptAt)
	assert.Equal(t, []int{1}, f.deliver.attempts)
}

func TestRetries_NonRetryableCRMErrorDrops(t *testing.T) {
	f := newRetryFixture(t)
	payload, _ := json.Marshal(model.DeliveryRetryPayload{MessageID: "m1", TrainerID: "t1", Channel: model.ChannelSMS})
	f.enqueue(t, model.RetryDelivery, payload)
	f.deliver.err = &crm.APIError{Method: "POST", Path: "/conversations/messages", StatusCode: 422, Body: "invalid phone"}

	_, err := f.w.RunOnce(context.Background())
	require.NoError(t, err)
	r := f.row(t)
	assert.Equal(t, model.RetryDropped, r.Status)
	reports := f.tracker.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, errtrack.SEV1, reports[0].Severity)
}

type fakePublisher struct {
	err  error
	sent []kafka.Message
}

func (p *fakePublisher) Publish(_ context.Context, msgs ...kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msgs...)
	return nil
}

func TestRelay_PublishesAndMarks(t *testing.T) {
	mem := memstore.New()
	store := mem.Store()
	sink := events.NewOutboxSink(store.Outbox, "analytics.events")
	em := events.NewEmitter(sink, zap.NewNop())
	em.Emit(context.Background(), model.EventMessageSent, "t1", "m1", map[string]string{"channel": "sms"})
	em.Emit(context.Background(), model.EventSyncOK, "", "", nil)

	pub := &fakePublisher{err: errors.New("broker down")}
	r := NewRelay(store.Outbox, pub, zap.NewNop())

	_, err := r.RunOnce(context.Background())
	require.Error(t, err)
	rows, err := store.Outbox.ListUnpublished(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Attempts)

	pub.err = nil
	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, pub.sent, 2)
	assert.Equal(t, "analytics.events", pub.sent[0].Topic)
	assert.Equal(t, "m1", string(pub.sent[0].Key))

	var env model.Envelope
	require.NoError(t, json.Unmarshal(pub.sent[0].Value, &env))
	assert.Equal(t, model.EventMessageSent, env.Event)

	rows, err = store.Outbox.ListUnpublished(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

type chanFetcher struct {
	ch chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
}

func (f *chanFetcher) Fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-f.ch:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (f *chanFetcher) Commit(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *chanFetcher) commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

type memEvents struct {
	mu     sync.Mutex
	stored []model.Envelope
}

func (m *memEvents) InsertBatch(_ context.Context, evs []model.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored = append(m.stored, evs...)
	return nil
}

func (m *memEvents) CountByTrainer(context.Context, string, time.Time) ([]repository.EventCount, error) {
	return nil, nil
}

func (m *memEvents) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stored)
}

func TestEventsWriter_FlushesAndCommits(t *testing.T) {
	fetcher := &chanFetcher{ch: make(chan kafka.Message, 8)}
	sink := &memEvents{}
	w := NewEventsWriter(fetcher, sink, zap.NewNop())
	w.BatchSize = 2
	w.BatchWait = 20 * time.Millisecond

	for i, id := range []string{"e1", "e2", "e3"} {
		env := events.New(model.EventMessageDrafted, "t1", "m-"+id, nil)
		env.ID = id
		b, _ := json.Marshal(env)
		fetcher.ch <- kafka.Message{Offset: int64(i), Value: b}
	}
	fetcher.ch <- kafka.Message{Offset: 3, Value: []byte("garbage")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return sink.count() == 3 && fetcher.commits() == 4 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

type countingRunner struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *countingRunner) hit(name string) triggers.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[name]++
	return triggers.Result{}
}

func (r *countingRunner) BookingNudges(context.Context) triggers.Result  { return r.hit("nudges") }
func (r *countingRunner) WeeklyDigest(context.Context) triggers.Result   { return r.hit("digest") }
func (r *countingRunner) WeeklyCheckins(context.Context) triggers.Result { return r.hit("checkins") }
func (r *countingRunner) SnoozeWakeups(context.Context) triggers.Result  { return r.hit("wakeups") }

func TestScheduler_Register(t *testing.T) {
	s := NewScheduler(&countingRunner{}, zap.NewNop())
	require.NoError(t, s.Register(config.CronConfig{
		BookingNudges:  "0 * * * *",
		WeeklyDigest:   "0 8 * * 1",
		WeeklyCheckins: "0 18 * * 0",
		SnoozeWakeups:  "",
	}))
	assert.Equal(t, 3, s.Entries())

	err := NewScheduler(&countingRunner{}, zap.NewNop()).Register(config.CronConfig{BookingNudges: "every hour"})
	assert.Error(t, err)
}

func TestScheduler_JobRunsWorkflow(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, zap.NewNop())
	s.job("snooze_wakeups", runner.SnoozeWakeups)()
	assert.Equal(t, 1, runner.calls["wakeups"])
}
