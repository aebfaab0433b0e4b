package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chieflatif/devbackup/pkg/devbackup"
)

func newDiffCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <snapshot>",
		Short: "Compare a snapshot against the current state of the sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := devbackup.LoadConfig(*configPath)
			if err != nil {
				os.Exit(devbackup.ExitCodeFor(err))
			}
			snapshotPath := filepath.Join(cfg.BackupRoot, args[0])
			added, deleted, modified, err := devbackup.Diff(snapshotPath, cfg.Sources)
			if err != nil {
				return fmt.Errorf("diff: %w", err)
			}
			for _, p := range added {
				fmt.Printf("+ %s\n", p)
			}
			for _, p := range deleted {
				fmt.Printf("- %s\n", p)
			}
			for _, p := range modified {
				fmt.Printf("~ %s\n", p)
			}
			return nil
		},
	}
}
