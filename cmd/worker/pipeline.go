package worker

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/db"
	"github.com/trainu/coach-inbox/internal/kafka"
	"github.com/trainu/coach-inbox/internal/logger"
	"github.com/trainu/coach-inbox/internal/repository"
	"github.com/trainu/coach-inbox/internal/worker"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Publish outbox events to Kafka",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd, "coach-inbox-relay")
		if err != nil {
			return err
		}
		log := logger.Log

		dbx, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer dbx.Close()

		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()

		r := worker.NewRelay(repository.NewOutboxRepository(dbx), producer, log)

		ctx, stop := signalContext()
		defer stop()

		log.Info("outbox relay started", zap.Strings("brokers", cfg.Kafka.Brokers))
		return r.Run(ctx)
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Write analytics events from Kafka into ClickHouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd, "coach-inbox-events")
		if err != nil {
			return err
		}
		log := logger.Log

		chDB, err := db.OpenClickHouse(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() { _ = chDB.Close() }()

		consumer := kafka.NewConsumer(cfg.Kafka)
		defer consumer.Close()

		w := worker.NewEventsWriter(consumer, repository.NewCHEventsRepository(chDB), log)

		ctx, stop := signalContext()
		defer stop()

		log.Info("events writer started",
			zap.String("topic", cfg.Kafka.EventsTopic),
			zap.String("group", cfg.Kafka.GroupID),
			zap.Int("batch_size", w.BatchSize),
			zap.Duration("batch_wait", w.BatchWait))
		return w.Run(ctx)
	},
}
