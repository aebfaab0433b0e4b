package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chieflatif/devbackup/pkg/devbackup"
)

func newDrainQueueCmd(configPath *string) *cobra.Command {
	var maxItems int

	cmd := &cobra.Command{
		Use:   "drain-queue",
		Short: "Process deferred backups from the persistent queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := devbackup.LoadConfig(*configPath)
			if err != nil {
				os.Exit(devbackup.ExitCodeFor(err))
			}

			logger := devbackup.NewColorLogger(os.Stderr, false)
			queue, err := devbackup.NewBackupQueue(cfg.QueuePath, logger)
			if err != nil {
				os.Exit(devbackup.ExitCodeFor(err))
			}

			result, err := devbackup.DrainQueue(devbackup.OrchestratorParams{
				Config:           cfg,
				Logger:           logger,
				Metrics:          devbackup.NewMetrics(nil),
				DestinationProbe: devbackup.NewDestinationProbe(),
				SpaceProbe:       devbackup.NewSpaceProbe(),
				BatteryProbe:     devbackup.NoBattery(),
				Queue:            queue,
			}, maxItems)
			if err != nil {
				return fmt.Errorf("drain queue: %w", err)
			}
			fmt.Printf("processed=%d succeeded=%d requeued=%v\n", result.Processed, result.Succeeded, result.Requeued)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxItems, "max-items", 100, "maximum number of queued items to process")
	return cmd
}
