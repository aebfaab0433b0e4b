// Command devbackup is a thin shell over the components in
// pkg/devbackup: it parses flags, builds a devbackup.Config, and calls
// exactly one core operation per subcommand.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "devbackup",
		Short: "Incremental, hard-linked snapshot backups",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "devbackup.yaml", "path to the YAML config file")

	root.AddCommand(
		newRunCmd(&configPath),
		newDrainQueueCmd(&configPath),
		newListCmd(&configPath),
		newRestoreCmd(&configPath),
		newDiffCmd(&configPath),
		newSearchCmd(&configPath),
		newVerifyCmd(&configPath),
		newInitConfigCmd(),
	)
	return root
}
