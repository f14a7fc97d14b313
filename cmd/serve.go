package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trainu/coach-inbox/internal/app"
	"github.com/trainu/coach-inbox/internal/config"
	httpSrv "github.com/trainu/coach-inbox/internal/http"
	"github.com/trainu/coach-inbox/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.Log.Level, "coach-inbox-api")
		log := logger.Log
		defer func() { _ = log.Sync() }()

		a, err := app.Build(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		server := httpSrv.NewServer(httpSrv.Deps{
			Config:  cfg,
			Inbox:   a.Inbox,
			Runner:  a.Runner,
			Sync:    a.Sync,
			Reports: a.Reports,
			Redis:   a.Redis,
			Log:     log,
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil {
				log.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}
