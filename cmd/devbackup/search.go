package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chieflatif/devbackup/pkg/devbackup"
)

func newSearchCmd(configPath *string) *cobra.Command {
	var snapshot string

	cmd := &cobra.Command{
		Use:   "search <pattern>",
		Short: "Search committed snapshots for files matching a glob pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := devbackup.LoadConfig(*configPath)
			if err != nil {
				os.Exit(devbackup.ExitCodeFor(err))
			}
			hits, err := devbackup.Search(cfg.BackupRoot, args[0], snapshot)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			for _, h := range hits {
				fmt.Printf("%s\t%s\t%d\t%s\n", h.Snapshot, h.Path, h.SizeBytes, h.MTime)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "restrict the search to a single snapshot")
	return cmd
}
