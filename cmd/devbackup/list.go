package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chieflatif/devbackup/pkg/devbackup"
)

func newListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List committed snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := devbackup.LoadConfig(*configPath)
			if err != nil {
				os.Exit(devbackup.ExitCodeFor(err))
			}
			infos, err := devbackup.ListSnapshots(cfg.BackupRoot)
			if err != nil {
				return fmt.Errorf("list snapshots: %w", err)
			}
			for _, info := range infos {
				fmt.Printf("%s\t%d files\t%d bytes\n", info.Name, info.FileCount, info.SizeBytes)
			}
			return nil
		},
	}
}
