package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chieflatif/devbackup/pkg/devbackup"
)

func newRestoreCmd(configPath *string) *cobra.Command {
	var dest string

	cmd := &cobra.Command{
		Use:   "restore <snapshot> <relative-path>",
		Short: "Restore a file or directory from a snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := devbackup.LoadConfig(*configPath)
			if err != nil {
				os.Exit(devbackup.ExitCodeFor(err))
			}
			snapshotPath := filepath.Join(cfg.BackupRoot, args[0])
			fallback := ""
			if len(cfg.Sources) > 0 {
				fallback = cfg.Sources[0]
			}
			ok, err := devbackup.Restore(snapshotPath, args[1], dest, fallback)
			if err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			fmt.Printf("restored=%v\n", ok)
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "destination path (defaults to the original source location)")
	return cmd
}
