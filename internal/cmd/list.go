package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/holdover-sh/holdover/internal/client"
	"github.com/holdover-sh/holdover/internal/protocol"
)

var (
	listHeaderStyle   = lipgloss.NewStyle().Bold(true)
	listAttachedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	listDetachedStyle = lipgloss.NewStyle().Faint(true)
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "📋 List live sessions",
	Long: `# 📋 List

**Shows every live session with its attachment state and idle time.**`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sessions, err := client.List(cfg.Socket)
		if err != nil {
			return err
		}
		printSessions(sessions)
		return nil
	},
}

func printSessions(sessions []protocol.SessionSummary) {
	if len(sessions) == 0 {
		fmt.Println("no sessions")
		return
	}

	fmt.Printf("%s\n", listHeaderStyle.Render(fmt.Sprintf("%-20s %-10s %-20s %s", "NAME", "STATE", "CREATED", "IDLE")))
	for _, s := range sessions {
		// Pad before styling so the escape codes don't skew the columns.
		state := listAttachedStyle.Render(fmt.Sprintf("%-10s", "attached"))
		idle := "-"
		if !s.Attached {
			state = listDetachedStyle.Render(fmt.Sprintf("%-10s", "detached"))
			idle = formatIdle(s.Idle)
		}
		fmt.Printf("%-20s %s %-20s %s\n", s.Name, state, s.CreatedAt.Format(time.DateTime), idle)
	}
}

func formatIdle(idle time.Duration) string {
	return idle.Truncate(time.Second).String()
}

func init() {
	rootCmd.AddCommand(listCmd)
}
