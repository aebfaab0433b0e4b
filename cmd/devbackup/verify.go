package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chieflatif/devbackup/pkg/devbackup"
)

func newVerifyCmd(configPath *string) *cobra.Command {
	var pattern string

	cmd := &cobra.Command{
		Use:   "verify <snapshot>",
		Short: "Verify a snapshot's integrity manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := devbackup.LoadConfig(*configPath)
			if err != nil {
				os.Exit(devbackup.ExitCodeFor(err))
			}
			snapshotPath := filepath.Join(cfg.BackupRoot, args[0])
			result, err := devbackup.VerifySnapshot(snapshotPath, pattern)
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			fmt.Printf("success=%v verified=%d failed=%d missing=%v corrupted=%v errors=%v\n",
				result.Success, result.FilesVerified, result.FilesFailed,
				result.MissingFiles, result.CorruptedFiles, result.Errors)
			if !result.Success {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", "", "restrict verification to files matching this glob (basename, or the relative path if it contains / or **)")
	return cmd
}
