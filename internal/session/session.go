// Package session owns one pseudo-terminal-backed shell process together
// with its restore cache, keybinding matcher, and at-most-one attached
// client connection.
package session

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/holdover-sh/holdover/internal/keybind"
	"github.com/holdover-sh/holdover/internal/logger"
	"github.com/holdover-sh/holdover/internal/protocol"
	"github.com/holdover-sh/holdover/internal/recovery"
	"github.com/holdover-sh/holdover/internal/restore"
)

var (
	// ErrBusy means another client is already attached.
	ErrBusy = errors.New("session is busy")
	// ErrGone means the shell process has exited.
	ErrGone = errors.New("session process is gone")
	// ErrDetached reports that the client's input completed a detach
	// binding. It is a clean disconnect, not a failure.
	ErrDetached = errors.New("client detached")
)

// killGracePeriod is how long a killed shell gets to exit on SIGTERM
// before it is forcibly SIGKILLed.
const killGracePeriod = 2 * time.Second

// Client is the session's view of an attached connection. The connection
// owns its socket and lifetime; the session holds only this back-reference
// and drops it on detach.
type Client interface {
	// ID identifies the connection in logs and exclusivity checks.
	ID() string
	// Send forwards shell output bytes to the client.
	Send(data []byte) error
	// Close tears the connection down.
	Close()
}

// Options configures a new session.
type Options struct {
	Name           string
	Command        []string
	Env            []string
	Dir            string
	Size           protocol.WinSize
	RestoreBudget  int
	TTL            time.Duration
	Bindings       []keybind.Binding
	KeybindTimeout time.Duration
	// OnExit runs exactly once after the shell process is gone and the
	// session is torn down. The registry uses it to drop its entry.
	OnExit func(*Session)
}

// Session is one persistent shell. Attachment state moves between
// unattached and attached until the shell exits, which is terminal.
type Session struct {
	Name      string
	CreatedAt time.Time

	mu         sync.Mutex
	ptmx       *os.File
	cmd        *exec.Cmd
	spool      *restore.Spool
	matcher    *keybind.Matcher
	attached   Client
	// attachReady gates the pump: output produced between Attach and
	// ConfirmAttach is held in attachPending so the handshake frames
	// always reach the client before live streaming.
	attachReady   bool
	attachPending []byte
	lastDetach    time.Time
	ttl           time.Duration
	dead          bool
	flushTimer    *time.Timer

	exited chan struct{}
	onExit func(*Session)
}

// Start spawns the shell under a fresh pseudo-terminal and begins caching
// its output. The new session is unattached.
func Start(opts Options) (*Session, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("spawn session %q: empty command", opts.Name)
	}
	size := opts.Size
	if size.Cols == 0 || size.Rows == 0 {
		size = protocol.WinSize{Cols: 80, Rows: 24}
	}

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = buildEnv(opts.Env, opts.Name)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
	if err != nil {
		return nil, fmt.Errorf("spawn session %q: %w", opts.Name, err)
	}

	s := &Session{
		Name:      opts.Name,
		CreatedAt: time.Now(),
		ptmx:      ptmx,
		cmd:       cmd,
		spool:     restore.NewSpool(opts.RestoreBudget, int(size.Cols), int(size.Rows)),
		matcher:   keybind.NewMatcher(opts.Bindings, opts.KeybindTimeout),
		ttl:       opts.TTL,
		// A freshly created session is unattached; its idle clock starts
		// now so the reaper can collect it if nobody ever attaches.
		lastDetach: time.Now(),
		exited:     make(chan struct{}),
		onExit:     opts.OnExit,
	}

	logger.Infof("session %q: spawned %v (pid %d)", s.Name, opts.Command, cmd.Process.Pid)
	// exit is idempotent; as cleanup it only matters if the pump panics.
	recovery.GoWithCleanup("session "+s.Name, s.pump, s.exit)
	return s, nil
}

func buildEnv(env []string, name string) []string {
	if len(env) == 0 {
		env = os.Environ()
	}
	out := make([]string, 0, len(env)+2)
	hasTerm := false
	for _, kv := range env {
		if len(kv) >= 5 && kv[:5] == "TERM=" {
			hasTerm = true
		}
		out = append(out, kv)
	}
	if !hasTerm {
		out = append(out, "TERM=xterm-256color")
	}
	return append(out, "HOLDOVER_SESSION_NAME="+name)
}

// pump is the shell-to-client forwarding unit. Every byte read from the
// pseudo-terminal is recorded in the spool, then forwarded to the attached
// client if there is one. Caching continues while detached.
func (s *Session) pump() {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.spool.Record(buf[:n])
			client := s.attached
			if client != nil && !s.attachReady {
				s.attachPending = append(s.attachPending, buf[:n]...)
				client = nil
			}
			s.mu.Unlock()

			if client != nil {
				if sendErr := client.Send(buf[:n]); sendErr != nil {
					logger.Warnf("session %q: dropping stalled client [%s]: %v", s.Name, client.ID(), sendErr)
					s.Detach(client)
					client.Close()
				}
			}
		}
		if err != nil {
			// EOF or EIO on the master is the normal signal that the
			// shell exited.
			logger.Infof("session %q: shell exited (%v)", s.Name, err)
			s.exit()
			return
		}
	}
}

// exit is the single death path. It runs once, from the pump.
func (s *Session) exit() {
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return
	}
	s.dead = true
	client := s.attached
	s.attached = nil
	s.attachPending = nil
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.mu.Unlock()

	_ = s.ptmx.Close()
	_ = s.cmd.Wait()
	if client != nil {
		client.Close()
	}
	// Deregister before signaling death so a Kill caller never observes
	// the name still listed after Kill returns.
	if s.onExit != nil {
		s.onExit(s)
	}
	close(s.exited)
}

// AttachOptions carries the per-attach overrides.
type AttachOptions struct {
	Size protocol.WinSize
	// RestoreBudget, when non-nil, reconfigures the raw cache budget for
	// output produced from this attach onward.
	RestoreBudget *int
	// TTL, when positive, replaces the session's idle time-to-live.
	TTL time.Duration
	// Force steals the attachment from a currently connected client.
	Force bool
}

// Attach binds the client as the session's single attached connection and
// returns the restore bytes to send it before streaming begins. Output the
// shell produces after the restore snapshot is buffered until the caller
// invokes ConfirmAttach, so the attach response and restore bytes always
// precede live output on the wire. Returns ErrBusy when another client
// holds the attachment and Force is unset.
func (s *Session) Attach(client Client, opts AttachOptions) ([]byte, error) {
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return nil, ErrGone
	}
	if s.attached != nil {
		if !opts.Force {
			s.mu.Unlock()
			return nil, ErrBusy
		}
		stolen := s.attached
		s.attached = nil
		logger.Infof("session %q: forcing out client [%s]", s.Name, stolen.ID())
		defer stolen.Close()
	}

	if opts.RestoreBudget != nil {
		s.spool.SetBudget(*opts.RestoreBudget)
	}
	if opts.TTL > 0 {
		s.ttl = opts.TTL
	}
	s.matcher.Reset()
	if opts.Size.Cols > 0 && opts.Size.Rows > 0 {
		s.resizeLocked(opts.Size)
	}
	restoreBytes := s.spool.Redraw()
	s.attached = client
	s.attachReady = false
	s.attachPending = nil
	pid := s.cmd.Process.Pid
	s.mu.Unlock()

	// Nudge full-screen programs to repaint for the new client even when
	// the terminal size did not change.
	_ = syscall.Kill(pid, syscall.SIGWINCH)

	logger.Infof("session %q: attached client [%s]", s.Name, client.ID())
	return restoreBytes, nil
}

// ConfirmAttach releases live output to the client once the caller has put
// the attach response and restore bytes on the wire. Output buffered in
// between is delivered first. A client that lost the attachment before
// confirming (force-steal, detach request) is a no-op.
func (s *Session) ConfirmAttach(client Client) error {
	for {
		s.mu.Lock()
		if s.attached == nil || s.attached.ID() != client.ID() {
			s.mu.Unlock()
			return nil
		}
		if len(s.attachPending) == 0 {
			s.attachReady = true
			s.mu.Unlock()
			return nil
		}
		held := s.attachPending
		s.attachPending = nil
		s.mu.Unlock()

		if err := client.Send(held); err != nil {
			s.Detach(client)
			client.Close()
			return err
		}
	}
}

// Detach clears the attachment if client is the attached one. Idempotent
// when already detached; the shell keeps running either way.
func (s *Session) Detach(client Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached == nil || s.attached.ID() != client.ID() {
		return
	}
	s.attached = nil
	s.attachPending = nil
	s.lastDetach = time.Now()
	logger.Infof("session %q: detached client [%s]", s.Name, client.ID())
}

// DetachCurrent clears whatever client is attached. Used by the one-shot
// detach operation, which is not the attached connection itself.
func (s *Session) DetachCurrent() {
	s.mu.Lock()
	client := s.attached
	s.attached = nil
	s.attachPending = nil
	if client != nil {
		s.lastDetach = time.Now()
	}
	s.mu.Unlock()

	if client != nil {
		client.Close()
		logger.Infof("session %q: detached client [%s] by request", s.Name, client.ID())
	}
}

// HandleInput scans client bytes through the keybinding matcher and writes
// the forwarded remainder to the shell. A completed detach binding is
// consumed, the attachment is released, and ErrDetached is returned so the
// connection can close cleanly.
func (s *Session) HandleInput(client Client, data []byte) error {
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return ErrGone
	}
	if s.attached == nil || s.attached.ID() != client.ID() {
		s.mu.Unlock()
		return fmt.Errorf("input from non-attached client [%s]", client.ID())
	}

	var forward []byte
	action := keybind.ActionNone
	for _, b := range data {
		out, a := s.matcher.Feed(b)
		forward = append(forward, out...)
		if a != keybind.ActionNone {
			action = a
		}
	}
	s.scheduleFlushLocked()
	detached := action == keybind.ActionDetach
	if detached {
		s.attached = nil
		s.attachPending = nil
		s.lastDetach = time.Now()
	}
	// Write to the shell outside the lock: a shell that stops draining its
	// terminal must not stall the output pump or the reaper.
	ptmx := s.ptmx
	s.mu.Unlock()

	var writeErr error
	if len(forward) > 0 {
		_, writeErr = ptmx.Write(forward)
	}

	if detached {
		logger.Infof("session %q: detach binding from client [%s]", s.Name, client.ID())
		return ErrDetached
	}
	if writeErr != nil {
		return fmt.Errorf("write to session %q: %w", s.Name, writeErr)
	}
	return nil
}

// scheduleFlushLocked arms a timer that releases a timed-out partial
// keybinding match to the shell even if no further input arrives.
func (s *Session) scheduleFlushLocked() {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	if !s.matcher.Pending() {
		return
	}
	delay := time.Until(s.matcher.Deadline()) + time.Millisecond
	s.flushTimer = time.AfterFunc(delay, s.flushPending)
}

func (s *Session) flushPending() {
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return
	}
	held := s.matcher.FlushExpired()
	if s.matcher.Pending() {
		s.scheduleFlushLocked()
	}
	ptmx := s.ptmx
	s.mu.Unlock()

	if len(held) > 0 {
		_, _ = ptmx.Write(held)
	}
}

// Resize applies a client-reported terminal size to the pseudo-terminal
// and the screen model.
func (s *Session) Resize(size protocol.WinSize) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return ErrGone
	}
	s.resizeLocked(size)
	return nil
}

func (s *Session) resizeLocked(size protocol.WinSize) {
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Rows: size.Rows, Cols: size.Cols}); err != nil {
		logger.Warnf("session %q: resize to %dx%d failed: %v", s.Name, size.Cols, size.Rows, err)
	}
	s.spool.Resize(int(size.Cols), int(size.Rows))
}

// Kill terminates the shell: SIGTERM first, SIGKILL after a grace period
// if it does not exit. Blocks until the session is dead.
func (s *Session) Kill() error {
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return nil
	}
	proc := s.cmd.Process
	s.mu.Unlock()

	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warnf("session %q: SIGTERM failed: %v", s.Name, err)
	}
	select {
	case <-s.exited:
		return nil
	case <-time.After(killGracePeriod):
	}

	logger.Warnf("session %q: did not exit on SIGTERM, killing", s.Name)
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill session %q: %w", s.Name, err)
	}
	<-s.exited
	return nil
}

// Done is closed once the shell has exited and the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.exited
}

// Summary reports the session's listing row.
func (s *Session) Summary() protocol.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary := protocol.SessionSummary{
		Name:      s.Name,
		Attached:  s.attached != nil,
		CreatedAt: s.CreatedAt,
	}
	if s.attached == nil {
		summary.Idle = time.Since(s.lastDetach)
	}
	return summary
}

// IdleExpired reports whether the session has been detached longer than
// its TTL. Attached sessions never expire, nor do sessions without one.
func (s *Session) IdleExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ttl <= 0 || s.attached != nil || s.dead {
		return false
	}
	return now.Sub(s.lastDetach) > s.ttl
}
