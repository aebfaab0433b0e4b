package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/chieflatif/devbackup/pkg/devbackup"
)

func newRunCmd(configPath *string) *cobra.Command {
	var queueOnError bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := devbackup.LoadConfig(*configPath)
			if err != nil {
				os.Exit(devbackup.ExitCodeFor(err))
			}
			if queueOnError {
				cfg.QueueOnDestinationError = true
			}

			logger := devbackup.NewColorLogger(os.Stderr, false)
			queue, err := devbackup.NewBackupQueue(cfg.QueuePath, logger)
			if err != nil {
				os.Exit(devbackup.ExitCodeFor(err))
			}

			var onProgress devbackup.ProgressCallback
			if fi, err := os.Stdout.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
				var bar *progressbar.ProgressBar
				onProgress = func(info devbackup.ProgressInfo) {
					if bar == nil {
						bar = progressbar.NewOptions(100, progressbar.OptionSetDescription("backing up"))
					}
					bar.Set(int(info.Percent))
				}
			}

			result, runErr := devbackup.Run(devbackup.OrchestratorParams{
				Config:           cfg,
				Logger:           logger,
				Metrics:          devbackup.NewMetrics(nil),
				DestinationProbe: devbackup.NewDestinationProbe(),
				SpaceProbe:       devbackup.NewSpaceProbe(),
				BatteryProbe:     devbackup.NoBattery(),
				Queue:            queue,
				OnProgress:       onProgress,
			})
			if runErr != nil {
				fmt.Fprintln(os.Stderr, runErr)
			}
			if result != nil {
				fmt.Printf("run %s: exit %d, snapshot=%q queued=%v\n", result.RunID, result.ExitCode, result.SnapshotName, result.Queued)
				os.Exit(result.ExitCode)
			}
			os.Exit(devbackup.ExitSnapshotError)
			return nil
		},
	}
	cmd.Flags().BoolVar(&queueOnError, "queue-on-error", false, "also enqueue the run when the destination is unavailable (the run still exits with the destination error code)")
	return cmd
}
