package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/holdover-sh/holdover/internal/client"
	"github.com/holdover-sh/holdover/internal/config"
	"github.com/holdover-sh/holdover/internal/logger"
	"github.com/holdover-sh/holdover/internal/registry"
)

var (
	attachTTL     string
	attachForce   bool
	attachRestore string
	attachDir     string
	attachCommand []string
)

var attachCmd = &cobra.Command{
	Use:   "attach <name>",
	Short: "🔌 Attach to a session, creating it if needed",
	Long: `# 🔌 Attach

**Connects your terminal to a named session.**

Unknown names spawn a fresh shell under the daemon; known names reconnect
to the running shell, replaying a redraw of its current screen first.
Only one client may be attached at a time — a second attach fails with
"busy" unless **--force** steals the attachment.

Detach with the configured keybinding (default **Ctrl-Space Ctrl-q**);
the shell keeps running.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Configure(logger.LevelFromEnv(), true)
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		name := args[0]
		if err := registry.ValidateName(name); err != nil {
			return err
		}

		opts := client.AttachOptions{
			Name:    name,
			TTL:     attachTTL,
			Force:   attachForce,
			Dir:     attachDir,
			Command: attachCommand,
		}
		if attachRestore != "" {
			budget, err := config.ParseMemorySize(attachRestore)
			if err != nil {
				return err
			}
			opts.RestoreBudget = &budget
		}

		if err := client.Attach(cfg.Socket, opts); err != nil {
			return err
		}
		fmt.Printf("\n[holdover: disconnected from %s]\n", name)
		return nil
	},
}

func init() {
	attachCmd.Flags().StringVar(&attachTTL, "ttl", "", "kill the session after this long detached (e.g. 24h)")
	attachCmd.Flags().BoolVar(&attachForce, "force", false, "steal the attachment from a connected client")
	attachCmd.Flags().StringVar(&attachRestore, "session-restore", "", "raw restore cache budget for future output (e.g. 5MB, 0)")
	attachCmd.Flags().StringVar(&attachDir, "dir", "", "working directory for a newly created session")
	attachCmd.Flags().StringSliceVar(&attachCommand, "cmd", nil, "command to run instead of the configured shell")
	rootCmd.AddCommand(attachCmd)
}
