package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/holdover-sh/holdover/internal/client"
	"github.com/holdover-sh/holdover/internal/logger"
	"github.com/holdover-sh/holdover/internal/registry"
)

var (
	switchConfirm bool
	switchForce   bool
)

var switchCmd = &cobra.Command{
	Use:   "switch <name>",
	Short: "🔀 Detach from the current session and attach to another",
	Long: `# 🔀 Switch

**Jumps from the session you are in to another one.**

When run inside a holdover session (detected via **HOLDOVER_SESSION_NAME**)
it detaches that session first, then attaches the target. Outside a
session it behaves like a plain attach.`,
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

		current := os.Getenv("HOLDOVER_SESSION_NAME")
		switch {
		case current == name:
			return fmt.Errorf("already in session %q", name)
		case current != "":
			if switchConfirm && !confirmSwitch(current, name) {
				fmt.Println("switch cancelled")
				return nil
			}
			fmt.Fprintf(os.Stderr, "detaching from session %q...\n", current)
			if err := client.Detach(cfg.Socket, current); err != nil {
				return fmt.Errorf("detach from current session: %w", err)
			}
		}

		fmt.Fprintf(os.Stderr, "attaching to session %q...\n", name)
		return client.Attach(cfg.Socket, client.AttachOptions{Name: name, Force: switchForce})
	},
}

func confirmSwitch(current, target string) bool {
	fmt.Fprintf(os.Stderr, "Switch from session %q to %q? [y/N] ", current, target)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func init() {
	switchCmd.Flags().BoolVar(&switchConfirm, "confirm", false, "ask before leaving the current session")
	switchCmd.Flags().BoolVar(&switchForce, "force", false, "steal the attachment on the target session")
	rootCmd.AddCommand(switchCmd)
}
