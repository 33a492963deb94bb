package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/holdover-sh/holdover/internal/client"
)

var detachCmd = &cobra.Command{
	Use:   "detach <name>",
	Short: "🔌 Disconnect the client attached to a session",
	Long: `# 🔌 Detach

**Disconnects whatever client is attached to a session.**

The shell keeps running and can be reattached later. Detaching an already
detached session is not an error.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := client.Detach(cfg.Socket, args[0]); err != nil {
			return err
		}
		fmt.Printf("detached session %q\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(detachCmd)
}
