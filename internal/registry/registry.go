// Package registry holds the daemon-wide map of live sessions and
// arbitrates creation, exclusive attach, termination, and listing.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/holdover-sh/holdover/internal/config"
	"github.com/holdover-sh/holdover/internal/keybind"
	"github.com/holdover-sh/holdover/internal/logger"
	"github.com/holdover-sh/holdover/internal/protocol"
	"github.com/holdover-sh/holdover/internal/session"
)

// ErrNotFound means the session name is unknown to the registry.
var ErrNotFound = errors.New("session not found")

// Settings is the resolved configuration slice the registry consumes. It
// is replaced wholesale when the config file changes; existing sessions
// keep the budget and TTL they were created with.
type Settings struct {
	DefaultRestoreBudget int
	TTL                  time.Duration
	Bindings             []keybind.Binding
	KeybindTimeout       time.Duration
	Shell                string
}

// SettingsFromConfig resolves a configuration snapshot into registry
// settings, parsing keybinding chord sequences.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	budget, err := cfg.RestoreBudget()
	if err != nil {
		return Settings{}, err
	}
	ttl, err := cfg.TTL()
	if err != nil {
		return Settings{}, err
	}
	keybindTimeout, err := cfg.ParseKeybindTimeout()
	if err != nil {
		return Settings{}, err
	}

	bindings := make([]keybind.Binding, 0, len(cfg.Keybindings))
	for _, kb := range cfg.Keybindings {
		seq, err := keybind.ParseSequence(kb.Binding)
		if err != nil {
			return Settings{}, err
		}
		action, err := keybind.ParseAction(kb.Action)
		if err != nil {
			return Settings{}, err
		}
		bindings = append(bindings, keybind.Binding{Sequence: seq, Action: action})
	}

	return Settings{
		DefaultRestoreBudget: budget,
		TTL:                  ttl,
		Bindings:             bindings,
		KeybindTimeout:       keybindTimeout,
		Shell:                cfg.Shell,
	}, nil
}

// Registry is the daemon's single long-lived state: created empty at
// startup, torn down (killing all sessions) at shutdown.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	settings Settings
}

// New creates an empty registry.
func New(settings Settings) *Registry {
	return &Registry{
		sessions: make(map[string]*session.Session),
		settings: settings,
	}
}

// UpdateSettings replaces the settings snapshot. Applies to sessions
// created from now on; the reaper and new attaches see it immediately.
func (r *Registry) UpdateSettings(settings Settings) {
	r.mu.Lock()
	r.settings = settings
	r.mu.Unlock()
	logger.Info("registry settings updated")
}

// ValidateName rejects names the registry will not key on.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("blank session names are not allowed")
	}
	if strings.ContainsFunc(name, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }) {
		return fmt.Errorf("whitespace is not allowed in session names")
	}
	return nil
}

// Attach resolves an attach request: unknown names create a session
// (spawning a shell on a fresh pseudo-terminal), known ones bind the
// client if unattached. Returns the bound session and the restore bytes
// to send the client before streaming. Attach races on the same name are
// arbitrated by the session's own lock: exactly one caller wins, the rest
// observe session.ErrBusy.
func (r *Registry) Attach(req *protocol.Request, client session.Client) (*session.Session, []byte, error) {
	if err := ValidateName(req.Name); err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	settings := r.settings
	s, exists := r.sessions[req.Name]
	if !exists {
		created, err := r.startLocked(req, settings)
		if err != nil {
			r.mu.Unlock()
			return nil, nil, err
		}
		s = created
	}
	r.mu.Unlock()

	opts := session.AttachOptions{
		Size:          req.Size,
		RestoreBudget: req.RestoreBudget,
		TTL:           req.TTL,
		Force:         req.Force,
	}
	restoreBytes, err := s.Attach(client, opts)
	if err != nil {
		return nil, nil, err
	}
	return s, restoreBytes, nil
}

// startLocked spawns the shell for a new session. Caller holds r.mu, which
// guarantees a racing attach to the same name never spawns twice.
func (r *Registry) startLocked(req *protocol.Request, settings Settings) (*session.Session, error) {
	command := req.Command
	if len(command) == 0 {
		command = []string{settings.Shell}
	}
	budget := settings.DefaultRestoreBudget
	if req.RestoreBudget != nil {
		budget = *req.RestoreBudget
	}
	ttl := settings.TTL
	if req.TTL > 0 {
		ttl = req.TTL
	}

	s, err := session.Start(session.Options{
		Name:           req.Name,
		Command:        command,
		Env:            req.Env,
		Dir:            req.Dir,
		Size:           req.Size,
		RestoreBudget:  budget,
		TTL:            ttl,
		Bindings:       settings.Bindings,
		KeybindTimeout: settings.KeybindTimeout,
		OnExit:         r.remove,
	})
	if err != nil {
		return nil, err
	}
	r.sessions[req.Name] = s
	return s, nil
}

// remove drops a dead session's entry. Runs from the session's exit path.
func (r *Registry) remove(s *session.Session) {
	r.mu.Lock()
	if current, ok := r.sessions[s.Name]; ok && current == s {
		delete(r.sessions, s.Name)
	}
	r.mu.Unlock()
	logger.Infof("session %q removed from registry", s.Name)
}

// Detach disconnects whatever client is attached to the named session.
// Idempotent when already detached.
func (r *Registry) Detach(name string) error {
	s, err := r.lookup(name)
	if err != nil {
		return err
	}
	s.DetachCurrent()
	return nil
}

// Kill terminates the named session's shell and removes the entry. Any
// attached client is disconnected.
func (r *Registry) Kill(name string) error {
	s, err := r.lookup(name)
	if err != nil {
		return err
	}
	return s.Kill()
}

// List reports a stable, name-ordered summary of live sessions.
func (r *Registry) List() []protocol.SessionSummary {
	sessions := r.snapshot()
	summaries := make([]protocol.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, s.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries
}

// Shutdown kills every session. Called once at daemon teardown.
func (r *Registry) Shutdown() {
	sessions := r.snapshot()
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			if err := s.Kill(); err != nil {
				logger.Warnf("shutdown: kill session %q: %v", s.Name, err)
			}
		}(s)
	}
	wg.Wait()
	logger.Infof("registry shut down, %d sessions killed", len(sessions))
}

func (r *Registry) lookup(name string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return s, nil
}

func (r *Registry) snapshot() []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}
