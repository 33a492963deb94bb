package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/holdover-sh/holdover/internal/config"
)

var (
	configFile string
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:     "holdover",
	Version: "0.3.0",
	Short:   "🐚 Holdover - shell sessions that survive disconnects",
	Long: `# 🐚 Holdover

**A lightweight session persistence daemon.**

Holdover keeps your shell alive after you disconnect and lets you pick it
back up later, byte-for-byte, with the screen redrawn where you left it.
It forwards raw terminal bytes instead of re-implementing multiplexing, so
your terminal keeps doing the scrollback.

## 🚀 Getting Started

Start the daemon, then attach to a named session:

` + "```bash\nholdover daemon &\nholdover attach main\n```" + `

Detach with **Ctrl-Space Ctrl-q** (configurable). Reattach any time with
the same command.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configFile, "config-file", "c", "", "config file (default ~/.holdover/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "", "daemon socket path")

	// Render command help as markdown for readable terminal output
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderMarkdownHelp(cmd)
	})
}

// loadConfig resolves the configuration snapshot honoring the persistent
// --config-file and --socket flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if socketPath != "" {
		cfg.Socket = socketPath
	}
	return cfg, nil
}

// renderMarkdownHelp renders command help using glamour for terminal-friendly markdown display
func renderMarkdownHelp(cmd *cobra.Command) {
	var helpContent strings.Builder

	if cmd.Long != "" {
		helpContent.WriteString(cmd.Long)
		helpContent.WriteString("\n\n")
	} else if cmd.Short != "" {
		helpContent.WriteString("# " + cmd.Short)
		helpContent.WriteString("\n\n")
	}

	helpContent.WriteString("## 📖 Usage\n\n")
	helpContent.WriteString("```bash\n")
	helpContent.WriteString(cmd.UseLine())
	helpContent.WriteString("\n```\n\n")

	if cmd.HasAvailableSubCommands() {
		helpContent.WriteString("## 🔧 Available Commands\n\n")
		for _, subCmd := range cmd.Commands() {
			if subCmd.IsAvailableCommand() {
				helpContent.WriteString(fmt.Sprintf("- **%s** - %s\n", subCmd.Name(), subCmd.Short))
			}
		}
		helpContent.WriteString("\n")
	}

	if cmd.HasAvailableLocalFlags() {
		helpContent.WriteString("## 🎛️ Flags\n\n")
		helpContent.WriteString("```\n")
		helpContent.WriteString(cmd.LocalFlags().FlagUsages())
		helpContent.WriteString("```\n\n")
	}

	if cmd.HasAvailableInheritedFlags() {
		helpContent.WriteString("## 🌐 Global Flags\n\n")
		helpContent.WriteString("```\n")
		helpContent.WriteString(cmd.InheritedFlags().FlagUsages())
		helpContent.WriteString("```\n")
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Print(helpContent.String())
		return
	}

	rendered, err := renderer.Render(helpContent.String())
	if err != nil {
		fmt.Print(helpContent.String())
		return
	}
	fmt.Print(rendered)
}
