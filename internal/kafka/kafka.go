// Package kafka carries analytics envelopes from the outbox relay to the
// ClickHouse writer.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/trainu/coach-inbox/internal/config"
)

type Message = kafka.Message

// Consumer reads the events topic as part of a consumer group. Offsets move
// only on Commit.
type Consumer struct {
	r *kafka.Reader
}

func NewConsumer(cfg config.KafkaConfig) *Consumer {
	minBytes := cfg.MinBytes
	if minBytes <= 0 {
		minBytes = 1 << 10
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "coach-inbox-events"
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        groupID,
		Topic:          cfg.EventsTopic,
		MinBytes:       minBytes,
		MaxBytes:       maxBytes,
		CommitInterval: time.Duration(cfg.CommitInterval) * time.Millisecond, // 0 commits synchronously
		MaxWait:        250 * time.Millisecond,
	})
	return &Consumer{r: r}
}

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, msgs ...Message) error {
	return c.r.CommitMessages(ctx, msgs...)
}

func (c *Consumer) Close() error { return c.r.Close() }

// Producer publishes to whatever topic each message names; messages with the
// same key land on the same partition.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(cfg config.KafkaConfig) *Producer {
	return &Producer{w: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

func (p *Producer) Publish(ctx context.Context, msgs ...Message) error {
	return p.w.WriteMessages(ctx, msgs...)
}

func (p *Producer) Close() error { return p.w.Close() }
