package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/config"
	"github.com/trainu/coach-inbox/internal/db"
	"github.com/trainu/coach-inbox/internal/logger"
	"github.com/trainu/coach-inbox/internal/model"
	"github.com/trainu/coach-inbox/internal/repository"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo trainers, clients and contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.Log.Level, "coach-inbox-seed")

		// 2) connect MySQL
		sqlDB, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		logger.Log.Info("seeding demo roster")
		if err := seedRoster(cmd.Context(), repository.NewMySQLStore(sqlDB)); err != nil {
			return err
		}
		logger.Log.Info("seed completed")
		return nil
	},
}

type demoClient struct {
	id, first, last, crmID, phone, email string
}

// seedRoster upserts two deterministic trainers with their clients and CRM
// contacts. Safe to run repeatedly.
func seedRoster(ctx context.Context, store *repository.Store) error {
	if ctx == nil {
		ctx = context.Background()
	}
	trainers := []model.Trainer{
		{UserID: "trainer-sam", FirstName: "Sam", LastName: "Rivera", Email: "sam@example.com",
			APIKey: "11111111111111111111111111111111", CRMUserID: model.Ptr("crm-user-sam"), Timezone: "America/New_York", Active: true},
		{UserID: "trainer-ana", FirstName: "Ana", LastName: "Okafor", Email: "ana@example.com",
			APIKey: "22222222222222222222222222222222", CRMUserID: model.Ptr("crm-user-ana"), Timezone: "America/Los_Angeles", Active: true},
	}
	clients := map[string][]demoClient{
		"trainer-sam": {
			{"client-mike", "Mike", "Chen", "crm-contact-mike", "+15551230001", "mike@example.com"},
			{"client-jo", "Jo", "Park", "crm-contact-jo", "+15551230002", ""},
		},
		"trainer-ana": {
			{"client-lee", "Lee", "Moreno", "crm-contact-lee", "", "lee@example.com"},
		},
	}

	for _, t := range trainers {
		if err := store.Trainers.Upsert(ctx, t); err != nil {
			return fmt.Errorf("upsert trainer %s: %w", t.UserID, err)
		}
		for _, c := range clients[t.UserID] {
			if err := store.Clients.Upsert(ctx, model.Client{UserID: c.id, TrainerID: t.UserID, FirstName: c.first, LastName: c.last}); err != nil {
				return fmt.Errorf("upsert client %s: %w", c.id, err)
			}
			err := store.Contacts.Upsert(ctx, &model.Contact{
				CRMContactID: c.crmID,
				TrainerID:    t.UserID,
				UserID:       model.Ptr(c.id),
				FirstName:    c.first,
				LastName:     c.last,
				Email:        c.email,
				Phone:        c.phone,
				Timezone:     t.Timezone,
			})
			if err != nil {
				return fmt.Errorf("upsert contact %s: %w", c.crmID, err)
			}
		}
		logger.Log.Info("seeded trainer",
			zap.String("trainer_id", t.UserID),
			zap.Int("clients", len(clients[t.UserID])))
	}
	return nil
}
