package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultRestoreBudget is the raw output cache size used when the config
// file does not set one. 2 MB holds a comfortable amount of scrollback for
// a reattaching client.
const DefaultRestoreBudget = 2 * 1024 * 1024

// DefaultDetachBinding is the key sequence that detaches the client from
// its session when no keybindings are configured.
const DefaultDetachBinding = "Ctrl-Space Ctrl-q"

// Keybinding maps a chord sequence to an action name.
type Keybinding struct {
	Binding string `yaml:"binding"`
	Action  string `yaml:"action"`
}

// Config is the resolved configuration snapshot the daemon consumes. All
// fields have working defaults; an absent config file is not an error.
type Config struct {
	// Socket is the path of the unix socket the daemon listens on.
	Socket string `yaml:"socket"`
	// LogFile is where the daemon writes its log.
	LogFile string `yaml:"log_file"`
	// SessionRestore is the raw output cache budget as a memory size
	// string like "2MB", "512KB", or "0" for signal-only restore.
	SessionRestore string `yaml:"session_restore"`
	// SessionTTL is how long a detached session may sit idle before the
	// reaper kills it. Empty means sessions live forever.
	SessionTTL string `yaml:"session_ttl"`
	// Keybindings are scanned in the client-to-shell byte stream.
	Keybindings []Keybinding `yaml:"keybindings"`
	// KeybindTimeout is how long a partial chord match is held before its
	// bytes are released to the shell, as a duration string like "500ms".
	// Empty uses the built-in default.
	KeybindTimeout string `yaml:"keybind_timeout"`
	// Shell overrides the spawned program. Defaults to $SHELL.
	Shell string `yaml:"shell"`

	path string
}

// Dir returns the holdover state directory, ~/.holdover by default.
func Dir() string {
	if dir := os.Getenv("HOLDOVER_DIR"); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv("HOME")
		if homeDir == "" {
			homeDir = "."
		}
	}
	return filepath.Join(homeDir, ".holdover")
}

// DefaultSocket returns the default daemon socket path, preferring the
// user runtime directory when one exists.
func DefaultSocket() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "holdover", "holdover.sock")
	}
	return filepath.Join(Dir(), "holdover.sock")
}

// Load reads the config file at path, or the default location when path is
// empty. A missing file yields the default configuration.
func Load(path string) (*Config, error) {
	if path == "" {
		path = filepath.Join(Dir(), "config.yaml")
	}

	cfg := &Config{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	if _, err := cfg.RestoreBudget(); err != nil {
		return nil, err
	}
	if _, err := cfg.TTL(); err != nil {
		return nil, err
	}
	if _, err := cfg.ParseKeybindTimeout(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Socket == "" {
		c.Socket = DefaultSocket()
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(Dir(), "daemon.log")
	}
	if c.SessionRestore == "" {
		c.SessionRestore = strconv.Itoa(DefaultRestoreBudget)
	}
	if len(c.Keybindings) == 0 {
		c.Keybindings = []Keybinding{{Binding: DefaultDetachBinding, Action: "detach"}}
	}
	if c.Shell == "" {
		c.Shell = os.Getenv("SHELL")
		if c.Shell == "" {
			c.Shell = "/bin/sh"
		}
	}
}

// Path returns the location this config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// RestoreBudget parses SessionRestore into a byte count.
func (c *Config) RestoreBudget() (int, error) {
	return ParseMemorySize(c.SessionRestore)
}

// ParseKeybindTimeout parses KeybindTimeout into a duration. Zero means
// use the matcher's default.
func (c *Config) ParseKeybindTimeout() (time.Duration, error) {
	if c.KeybindTimeout == "" {
		return 0, nil
	}
	timeout, err := time.ParseDuration(c.KeybindTimeout)
	if err != nil {
		return 0, fmt.Errorf("parse keybind_timeout %q: %w", c.KeybindTimeout, err)
	}
	if timeout < 0 {
		return 0, fmt.Errorf("keybind_timeout %q is negative", c.KeybindTimeout)
	}
	return timeout, nil
}

// TTL parses SessionTTL into a duration. Zero means no TTL.
func (c *Config) TTL() (time.Duration, error) {
	if c.SessionTTL == "" {
		return 0, nil
	}
	ttl, err := time.ParseDuration(c.SessionTTL)
	if err != nil {
		return 0, fmt.Errorf("parse session_ttl %q: %w", c.SessionTTL, err)
	}
	if ttl < 0 {
		return 0, fmt.Errorf("session_ttl %q is negative", c.SessionTTL)
	}
	return ttl, nil
}

// ParseMemorySize converts a size string like "5MB", "1GB", "512KB" to a
// byte count. "0" and plain byte counts are accepted as-is.
func ParseMemorySize(size string) (int, error) {
	size = strings.ToUpper(strings.TrimSpace(size))
	if size == "" {
		return 0, fmt.Errorf("empty memory size")
	}

	multiplier := 1
	switch {
	case strings.HasSuffix(size, "KB"):
		multiplier = 1024
		size = strings.TrimSuffix(size, "KB")
	case strings.HasSuffix(size, "MB"):
		multiplier = 1024 * 1024
		size = strings.TrimSuffix(size, "MB")
	case strings.HasSuffix(size, "GB"):
		multiplier = 1024 * 1024 * 1024
		size = strings.TrimSuffix(size, "GB")
	}

	num, err := strconv.Atoi(size)
	if err != nil {
		return 0, fmt.Errorf("invalid memory size %q: use formats like \"5MB\", \"512KB\", or \"0\"", size)
	}
	if num < 0 {
		return 0, fmt.Errorf("memory size must not be negative")
	}
	return num * multiplier, nil
}
