// Package keybind recognizes configured key sequences inside a live
// client-to-shell byte stream without corrupting the bytes destined for
// the shell.
package keybind

import (
	"bytes"
	"time"
)

// DefaultTimeout is the inter-byte delay after which a partial match is
// treated as divergence and its buffered bytes are flushed to the shell.
const DefaultTimeout = 500 * time.Millisecond

// Matcher is the sequence-matching state machine. Bytes that cannot
// continue any binding are released immediately; buffering is bounded by
// the longest configured binding. Not safe for concurrent use; the owning
// session serializes access.
type Matcher struct {
	bindings []Binding
	timeout  time.Duration

	buffer   []byte
	lastFeed time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewMatcher creates a matcher over the given bindings. A timeout of zero
// uses DefaultTimeout.
func NewMatcher(bindings []Binding, timeout time.Duration) *Matcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Matcher{
		bindings: bindings,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Reset clears all partial-match state. Called on each new attach.
func (m *Matcher) Reset() {
	m.buffer = m.buffer[:0]
}

// Feed scans one input byte. It returns the bytes to forward to the shell
// (possibly including previously buffered bytes released by divergence or
// timeout, in their original order) and the action of a binding the byte
// completed, if any. Bytes belonging to a completed binding are consumed,
// never forwarded.
func (m *Matcher) Feed(b byte) ([]byte, Action) {
	var out []byte
	if len(m.buffer) > 0 && m.now().Sub(m.lastFeed) > m.timeout {
		// The partial match went stale; the timeout is authoritative, so
		// the held bytes are forwarded as ordinary input.
		out = append(out, m.buffer...)
		m.buffer = m.buffer[:0]
	}
	m.lastFeed = m.now()

	forwarded, action := m.scan(b)
	return append(out, forwarded...), action
}

func (m *Matcher) scan(b byte) ([]byte, Action) {
	candidate := append(m.buffer, b)

	if binding := m.completed(candidate); binding != nil && !m.extendable(candidate) {
		// Fully matched and no longer binding remains possible: consume.
		m.buffer = m.buffer[:0]
		return nil, binding.Action
	}
	if m.extendable(candidate) {
		// Still a prefix of something longer; a completed shorter binding
		// waits until the longer one becomes impossible.
		m.buffer = candidate
		return nil, ActionNone
	}

	// Divergence. Release the oldest held byte and rescan the remainder,
	// since the tail may begin a fresh match.
	if len(m.buffer) == 0 {
		return []byte{b}, ActionNone
	}
	out := []byte{m.buffer[0]}
	rest := append([]byte{}, candidate[1:]...)
	m.buffer = m.buffer[:0]

	action := ActionNone
	for _, rb := range rest {
		forwarded, a := m.scan(rb)
		out = append(out, forwarded...)
		if a != ActionNone {
			action = a
		}
	}
	return out, action
}

// completed returns a binding exactly equal to the candidate, if any.
func (m *Matcher) completed(candidate []byte) *Binding {
	for i := range m.bindings {
		if bytes.Equal(m.bindings[i].Sequence, candidate) {
			return &m.bindings[i]
		}
	}
	return nil
}

// extendable reports whether some strictly longer binding has the
// candidate as a prefix.
func (m *Matcher) extendable(candidate []byte) bool {
	for i := range m.bindings {
		if len(m.bindings[i].Sequence) > len(candidate) && bytes.HasPrefix(m.bindings[i].Sequence, candidate) {
			return true
		}
	}
	return false
}

// Pending reports whether a partial match is currently buffered.
func (m *Matcher) Pending() bool {
	return len(m.buffer) > 0
}

// Deadline returns when the current partial match expires. Only
// meaningful while Pending.
func (m *Matcher) Deadline() time.Time {
	return m.lastFeed.Add(m.timeout)
}

// FlushExpired releases the buffered bytes if the partial match has timed
// out, returning them for forwarding in original order.
func (m *Matcher) FlushExpired() []byte {
	if len(m.buffer) == 0 || m.now().Sub(m.lastFeed) <= m.timeout {
		return nil
	}
	out := append([]byte{}, m.buffer...)
	m.buffer = m.buffer[:0]
	return out
}
