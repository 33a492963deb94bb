// Package restore caches terminal output across a detach/reattach boundary.
//
// A spool layers two views of the same output stream: a raw byte ring
// bounded by a configurable budget, and a terminal-emulation screen model
// that is always maintained regardless of the budget. Reattaching clients
// receive the retained raw history (which lands in their terminal's
// scrollback) followed by a synthesized redraw of the current screen, so
// the visible state is correct even when the raw budget is zero.
package restore

import (
	"github.com/holdover-sh/holdover/internal/term"
)

// Spool is the restore cache for one session. Not safe for concurrent use;
// the owning session serializes access.
type Spool struct {
	ring   *Ring
	screen *term.Emulator
}

// NewSpool creates a spool with the given raw byte budget and terminal
// dimensions. A budget of zero caches no raw output; the screen model
// still tracks state so a redraw remains possible.
func NewSpool(budget, cols, rows int) *Spool {
	return &Spool{
		ring:   NewRing(budget),
		screen: term.NewEmulator(cols, rows),
	}
}

// Record feeds shell output into both the raw ring and the screen model.
// Never blocks, never fails.
func (s *Spool) Record(data []byte) {
	s.ring.Write(data)
	s.screen.Write(data)
}

// Redraw produces the byte sequence sent to a reattaching client: the
// retained raw history followed by a full-screen redraw synthesized from
// the screen model. It is a pure function of current state; calling it
// repeatedly without an intervening Record yields identical bytes.
func (s *Spool) Redraw() []byte {
	redraw := s.screen.Redraw()
	history := s.ring.Bytes()
	if len(history) == 0 {
		return redraw
	}
	out := make([]byte, 0, len(history)+len(redraw))
	out = append(out, history...)
	return append(out, redraw...)
}

// Resize updates the screen model's grid dimensions.
func (s *Spool) Resize(cols, rows int) {
	s.screen.Resize(cols, rows)
}

// SetBudget reconfigures the raw budget for output recorded from now on.
// It does not retroactively grow already-discarded history.
func (s *Spool) SetBudget(budget int) {
	s.ring.SetBudget(budget)
}

// RawLen returns the number of raw bytes currently retained.
func (s *Spool) RawLen() int {
	return s.ring.Len()
}

// Screen exposes the screen model for inspection.
func (s *Spool) Screen() *term.Emulator {
	return s.screen
}
