package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/holdover-sh/holdover/internal/config"
	"github.com/holdover-sh/holdover/internal/daemon"
	"github.com/holdover-sh/holdover/internal/logger"
	"github.com/holdover-sh/holdover/internal/recovery"
	"github.com/holdover-sh/holdover/internal/registry"
)

var daemonLogToStderr bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "🛡️ Run the session persistence daemon",
	Long: `# 🛡️ Holdover Daemon

**Runs the daemon that keeps shell sessions alive.**

The daemon listens on a local socket, spawns shells on pseudo-terminals,
caches their output while no client is attached, and replays a redraw of
the screen when a client reattaches.

Configuration is read from **~/.holdover/config.yaml** and reloaded when
the file changes; keybindings and the session TTL take effect without a
restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonLogToStderr, "stderr", false, "log to stderr instead of the log file")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if daemonLogToStderr {
		logger.Configure(logger.LevelFromEnv(), true)
	} else if err := logger.ConfigureDaemon(logger.LevelFromEnv(), cfg.LogFile); err != nil {
		return err
	}

	settings, err := registry.SettingsFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("resolve configuration: %w", err)
	}

	reg := registry.New(settings)
	server := daemon.New(reg, cfg.Socket)
	if err := server.Listen(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recovery.Go("reaper", func() { registry.NewReaper(reg, 0).Run(ctx) })

	// Pick up keybinding and TTL changes without a restart.
	if watcher, err := config.Watch(cfg); err != nil {
		logger.Warnf("config watching disabled: %v", err)
	} else {
		defer watcher.Close()
		recovery.Go("config-watcher", func() {
			for updated := range watcher.Updates() {
				newSettings, err := registry.SettingsFromConfig(updated)
				if err != nil {
					logger.Warnf("ignoring invalid config update: %v", err)
					continue
				}
				reg.UpdateSettings(newSettings)
			}
		})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Infof("received %v, shutting down", sig)
		cancel()
	}()

	return server.Serve(ctx)
}
