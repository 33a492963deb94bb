package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/holdover-sh/holdover/internal/client"
)

var killCmd = &cobra.Command{
	Use:   "kill <name>",
	Short: "💀 Terminate a session's shell and remove it",
	Long: `# 💀 Kill

**Terminates the named session.**

The shell receives SIGTERM, then SIGKILL after a grace period if it does
not exit. An attached client is disconnected.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := client.Kill(cfg.Socket, args[0]); err != nil {
			return err
		}
		fmt.Printf("killed session %q\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(killCmd)
}
