// Package events carries analytics events out of the workflow through a Sink.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/repository"
	"github.com/trainu/coach-inbox/internal/util"
	"go.uber.org/zap"
)

type Sink interface {
	Emit(ctx context.Context, e model.Envelope) error
}

// New fills id and timestamp for an envelope.
func New(name model.EventName, trainerID, messageID string, props map[string]string) model.Envelope {
	return model.Envelope{
		ID:         util.New(),
		Event:      name,
		TrainerID:  trainerID,
		MessageID:  messageID,
		Properties: props,
		OccurredAt: time.Now().UTC(),
	}
}

// Emitter is fire-and-forget: sink failures are logged and swallowed.
type Emitter struct {
	sink Sink
	log  *zap.Logger
}

func NewEmitter(sink Sink, log *zap.Logger) *Emitter {
	if sink == nil {
		sink = NopSink{}
	}
	return &Emitter{sink: sink, log: log}
}

func (e *Emitter) Emit(ctx context.Context, name model.EventName, trainerID, messageID string, props map[string]string) {
	if e == nil {
		return
	}
	env := New(name, trainerID, messageID, props)
	if err := e.sink.Emit(ctx, env); err != nil {
		e.log.Warn("analytics emit failed",
			zap.String("event", string(name)),
			zap.String("trainer_id", trainerID),
			zap.Error(err),
		)
	}
}

// OutboxSink writes events into the outbox table for the relay worker.
type OutboxSink struct {
	outbox repository.OutboxRepository
	topic  string
}

func NewOutboxSink(outbox repository.OutboxRepository, topic string) *OutboxSink {
	return &OutboxSink{outbox: outbox, topic: topic}
}

func (s *OutboxSink) Emit(ctx context.Context, e model.Envelope) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	aggregateID := e.MessageID
	if aggregateID == "" {
		aggregateID = e.ID
	}
	return s.outbox.Insert(ctx, nil, "event", aggregateID, s.topic, payload)
}

type NopSink struct{}

func (NopSink) Emit(context.Context, model.Envelope) error { return nil }

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []model.Envelope
	Err    error
}

func (r *Recorder) Emit(_ context.Context, e model.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []model.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Envelope, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the event names in emission order.
func (r *Recorder) Names() []model.EventName {
	var out []model.EventName
	for _, e := range r.Events() {
		out = append(out, e.Event)
	}
	return out
}
