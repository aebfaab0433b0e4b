package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigTemplate = `# devbackup configuration
backup_root: /mnt/backup
sources:
  - /home/me/projects
exclude_patterns:
  - "*.tmp"
  - ".git/"
retention:
  hourly: 4
  daily: 7
  weekly: 4
retry:
  max_retries: 3
  base_delay: 5s
  max_delay: 5m
  timeout: 1h
queue_path: ""
lock_path: ""
destination_wait: ""
show_progress: true
queue_on_destination_error: true
`

func newInitConfigCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a starter configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("%s already exists", out)
			}
			return os.WriteFile(out, []byte(defaultConfigTemplate), 0o644)
		},
	}
	cmd.Flags().StringVar(&out, "out", "devbackup.yaml", "path to write the new config file")
	return cmd
}
