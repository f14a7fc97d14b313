package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/kafka"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/repository"
)

// Fetcher is the consumer-group side of the events worker.
type Fetcher interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// EventsWriter:
// - fetches analytics envelopes from Kafka,
// - buffers them,
// - flushes to ClickHouse on size or time, then commits the offsets.
type EventsWriter struct {
	Consumer  Fetcher
	Sink      repository.CHEventsRepository
	Log       *zap.Logger
	BatchSize int           // max buffered events per flush
	BatchWait time.Duration // max time to wait before flush
}

func NewEventsWriter(consumer Fetcher, sink repository.CHEventsRepository, log *zap.Logger) *EventsWriter {
	return &EventsWriter{
		Consumer:  consumer,
		Sink:      sink,
		Log:       log,
		BatchSize: 500,
		BatchWait: time.Second,
	}
}

// Run blocks until ctx is cancelled, then flushes what is buffered.
func (w *EventsWriter) Run(ctx context.Context) error {
	if w.BatchSize <= 0 {
		w.BatchSize = 500
	}
	if w.BatchWait <= 0 {
		w.BatchWait = time.Second
	}

	msgCh := make(chan kafka.Message, w.BatchSize*2)
	go w.fetch(ctx, msgCh)

	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	var (
		pending []kafka.Message
		batch   []model.Envelope
	)

	flush := func(ctx context.Context) {
		if len(pending) == 0 {
			return
		}
		if err := w.Sink.InsertBatch(ctx, batch); err != nil {
			// keep the buffer; offsets stay uncommitted until a flush lands
			w.Log.Error("clickhouse insert failed", zap.Int("events", len(batch)), zap.Error(err))
			return
		}
		if err := w.Consumer.Commit(ctx, pending...); err != nil {
			w.Log.Error("kafka commit failed", zap.Error(err))
		}
		w.Log.Debug("events flushed", zap.Int("events", len(batch)))
		pending = pending[:0]
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(fctx)
			cancel()
			return nil

		case m := <-msgCh:
			pending = append(pending, m)
			var env model.Envelope
			if err := json.Unmarshal(m.Value, &env); err != nil || env.ID == "" {
				// poison: commit with the batch, never insert
				w.Log.Warn("bad analytics envelope", zap.Int64("offset", m.Offset), zap.Error(err))
			} else {
				batch = append(batch, env)
			}
			if len(pending) >= w.BatchSize {
				flush(ctx)
			}

		case <-tick.C:
			flush(ctx)
		}
	}
}

func (w *EventsWriter) fetch(ctx context.Context, out chan<- kafka.Message) {
	for {
		m, err := w.Consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Log.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		select {
		case out <- m:
		case <-ctx.Done():
			return
		}
	}
}
