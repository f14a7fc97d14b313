package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/trainu/coach-inbox/internal/config"
	"github.com/trainu/coach-inbox/internal/logger"
	"github.com/trainu/coach-inbox/internal/metrics"
)

// NewWorkerCmd returns the parent "worker" command.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background workers",
	}
	// attach subcommands
	cmd.AddCommand(schedulerCmd)
	cmd.AddCommand(retriesCmd)
	cmd.AddCommand(relayCmd)
	cmd.AddCommand(eventsCmd)

	return cmd
}

// setup loads config, initializes the named logger and registers metrics.
func setup(cmd *cobra.Command, service string) (config.Config, error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, service)
	metrics.MustRegister(prometheus.DefaultRegisterer)
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
