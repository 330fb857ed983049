package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/kpt/pkg/engine"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the worker, scheduler and API in one process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApplication(cmd, engine.AllRoles())
		},
	}

	workerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Start the worker processing queued pipeline runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApplication(cmd, engine.Roles{Worker: true})
		},
	}

	schedulerCmd = &cobra.Command{
		Use:   "scheduler",
		Short: "Start the scheduler enqueueing pipeline runs on their cron schedules",
		Long: `The scheduler competes for leadership with the other scheduler
instances; only the leader enqueues runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApplication(cmd, engine.Roles{Scheduler: true})
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(schedulerCmd)
}

func runApplication(cmd *cobra.Command, roles engine.Roles) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	config, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	logger.Info("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := engine.NewApplication(ctx, logger, config, roles)
	if err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		_ = app.Stop()
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	cancel()

	return app.Stop()
}
