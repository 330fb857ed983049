package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/kpt/pkg/redis"
	"github.com/ethpandaops/kpt/pkg/tasks"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var enqueueFlags rangeFlags

//nolint:gochecknoglobals // Cobra commands are typically global
var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a pipeline run for the workers",
	Long: `Enqueue queues a run of an entity type for the workers. A run of the
same entity type that is still queued or running is not queued twice.

Examples:
  # Queue a run of whatever is due
  kpt enqueue --entity-type 7

  # Queue a forced reprocessing of a past range
  kpt enqueue --entity-type 7 --force --start 2024-03-01T00:00:00Z`,
	RunE: runEnqueue,
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
	enqueueFlags.register(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	start, end, err := enqueueFlags.window()
	if err != nil {
		return err
	}

	config, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	opts, err := config.Redis.Options()
	if err != nil {
		return err
	}

	queue := tasks.NewQueueManager(redis.NewAsynqRedisOptions(opts), config.Engine.RunTimeout, config.Scheduler.MaxRetry)
	defer func() {
		if closeErr := queue.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Failed to close task queue")
		}
	}()

	payload := tasks.PipelinePayload{
		Tenant:       config.Tenant,
		EntityTypeID: enqueueFlags.entityTypeID,
		Force:        enqueueFlags.force,
		Entities:     enqueueFlags.entities,
		Start:        start,
		End:          end,
		Trigger:      tasks.TriggerCLI,
		EnqueuedAt:   time.Now().UTC(),
	}

	info, err := queue.EnqueuePipeline(payload)
	if errors.Is(err, tasks.ErrAlreadyQueued) {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "A run of entity type %d is already queued or running\n", payload.EntityTypeID)
		return nil
	}

	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Queued task %s on queue %s\n", info.ID, info.Queue)

	return nil
}
