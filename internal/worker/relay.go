package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/kafka"
	"github.com/trainu/coach-inbox/internal/metrics"
	"github.com/trainu/coach-inbox/internal/repository"
)

// Publisher is the Kafka side of the relay.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// Relay moves outbox rows to Kafka in id order. A failed publish leaves the
// batch unpublished with its attempts bumped; the next pass sends it again.
type Relay struct {
	Outbox    repository.OutboxRepository
	Publisher Publisher
	Log       *zap.Logger
	BatchSize int
	Poll      time.Duration
}

func NewRelay(outbox repository.OutboxRepository, pub Publisher, log *zap.Logger) *Relay {
	return &Relay{
		Outbox:    outbox,
		Publisher: pub,
		Log:       log,
		BatchSize: 200,
		Poll:      time.Second,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	if r.Poll <= 0 {
		r.Poll = time.Second
	}
	tick := time.NewTicker(r.Poll)
	defer tick.Stop()
	for {
		n, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.Log.Error("outbox relay failed", zap.Error(err))
		}
		// a full batch means more are waiting
		if n >= r.BatchSize && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

// RunOnce publishes one batch and returns how many rows it published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	rows, err := r.Outbox.ListUnpublished(ctx, r.BatchSize)
	if err != nil || len(rows) == 0 {
		return 0, err
	}

	msgs := make([]kafka.Message, 0, len(rows))
	ids := make([]int64, 0, len(rows))
	for _, ev := range rows {
		msgs = append(msgs, kafka.Message{
			Topic: ev.Topic,
			Key:   []byte(ev.AggregateID),
			Value: ev.Payload,
		})
		ids = append(ids, ev.ID)
	}

	if err := r.Publisher.Publish(ctx, msgs...); err != nil {
		if incErr := r.Outbox.IncrementAttempts(ctx, ids); incErr != nil {
			r.Log.Error("bump outbox attempts", zap.Error(incErr))
		}
		return 0, err
	}
	if err := r.Outbox.MarkPublished(ctx, ids, time.Now().UTC()); err != nil {
		return 0, err
	}
	metrics.EventsRelayedTotal.Add(float64(len(ids)))
	return len(ids), nil
}
