package keybind

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSequence(t *testing.T, s string) []byte {
	t.Helper()
	seq, err := ParseSequence(s)
	require.NoError(t, err)
	return seq
}

func TestParseSequence(t *testing.T) {
	tests := []struct {
		input    string
		expected []byte
		wantErr  bool
	}{
		{"Ctrl-Space Ctrl-q", []byte{0x00, 0x11}, false},
		{"Ctrl-a d", []byte{0x01, 'd'}, false},
		{"ctrl-A", []byte{0x01}, false},
		{"Space", []byte{' '}, false},
		{"g g", []byte{'g', 'g'}, false},
		{"Ctrl-[", []byte{0x1b}, false},
		{"", nil, true},
		{"Alt-x", nil, true},
		{"Ctrl-Shift-a", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSequence(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseAction(t *testing.T) {
	action, err := ParseAction("detach")
	require.NoError(t, err)
	assert.Equal(t, ActionDetach, action)

	_, err = ParseAction("explode")
	assert.Error(t, err)
}

func feedAll(m *Matcher, input string) (forwarded []byte, actions []Action) {
	for i := 0; i < len(input); i++ {
		out, action := m.Feed(input[i])
		forwarded = append(forwarded, out...)
		if action != ActionNone {
			actions = append(actions, action)
		}
	}
	return forwarded, actions
}

func TestNonMatchingBytesForwardImmediately(t *testing.T) {
	m := NewMatcher([]Binding{{Sequence: mustSequence(t, "Ctrl-Space Ctrl-q"), Action: ActionDetach}}, 0)

	forwarded, actions := feedAll(m, "ls -la\r")
	assert.Equal(t, []byte("ls -la\r"), forwarded)
	assert.Empty(t, actions)
	assert.False(t, m.Pending())
}

func TestDetachSequenceConsumed(t *testing.T) {
	m := NewMatcher([]Binding{{Sequence: []byte{0x00, 0x11}, Action: ActionDetach}}, 0)

	out, action := m.Feed(0x00)
	assert.Empty(t, out, "first chord is held, not forwarded")
	assert.Equal(t, ActionNone, action)
	assert.True(t, m.Pending())

	out, action = m.Feed(0x11)
	assert.Empty(t, out, "completed binding is consumed, never forwarded")
	assert.Equal(t, ActionDetach, action)
	assert.False(t, m.Pending())
}

func TestPartialMatchDivergenceFlushesInOrder(t *testing.T) {
	m := NewMatcher([]Binding{{Sequence: []byte{0x00, 0x11}, Action: ActionDetach}}, 0)

	_, _ = m.Feed(0x00)
	out, action := m.Feed('x')
	assert.Equal(t, []byte{0x00, 'x'}, out, "buffered prefix flushes before the diverging byte")
	assert.Equal(t, ActionNone, action)
}

// With bindings "a" and "a b", "a b" wins and "a" alone never fires on
// divergence: the bytes are simply forwarded.
func TestLongestMatchFirst(t *testing.T) {
	bindings := []Binding{
		{Sequence: []byte("a"), Action: ActionDetach},
		{Sequence: []byte("ab"), Action: ActionDetach},
	}

	t.Run("longer sequence completes", func(t *testing.T) {
		m := NewMatcher(bindings, 0)
		forwarded, actions := feedAll(m, "ab")
		assert.Empty(t, forwarded)
		assert.Equal(t, []Action{ActionDetach}, actions, "exactly one action, from the longer binding")
	})

	t.Run("divergence forwards both and fires neither", func(t *testing.T) {
		m := NewMatcher(bindings, 0)
		forwarded, actions := feedAll(m, "ac")
		assert.Equal(t, []byte("ac"), forwarded)
		assert.Empty(t, actions)
	})

	t.Run("unambiguous short binding fires immediately", func(t *testing.T) {
		m := NewMatcher([]Binding{{Sequence: []byte("a"), Action: ActionDetach}}, 0)
		out, action := m.Feed('a')
		assert.Empty(t, out)
		assert.Equal(t, ActionDetach, action)
	})
}

func TestDivergentTailCanStartNewMatch(t *testing.T) {
	m := NewMatcher([]Binding{{Sequence: []byte("ab"), Action: ActionDetach}}, 0)

	// "aab": the first 'a' diverges when the second arrives, but the
	// second 'a' begins a fresh partial match completed by 'b'.
	forwarded, actions := feedAll(m, "aab")
	assert.Equal(t, []byte("a"), forwarded)
	assert.Equal(t, []Action{ActionDetach}, actions)
}

func TestTimeoutFlushesAsForwarded(t *testing.T) {
	m := NewMatcher([]Binding{{Sequence: []byte{0x00, 0x11}, Action: ActionDetach}}, 50*time.Millisecond)
	current := time.Unix(1000, 0)
	m.now = func() time.Time { return current }

	_, _ = m.Feed(0x00)
	require.True(t, m.Pending())

	// Within the timeout the completion still fires.
	current = current.Add(30 * time.Millisecond)
	out, action := m.Feed(0x11)
	assert.Empty(t, out)
	assert.Equal(t, ActionDetach, action)

	// Past the timeout the held byte is forwarded and the late second
	// chord is treated as fresh input.
	_, _ = m.Feed(0x00)
	current = current.Add(100 * time.Millisecond)
	out, action = m.Feed(0x11)
	assert.Equal(t, []byte{0x00, 0x11}, out)
	assert.Equal(t, ActionNone, action)
}

func TestFlushExpired(t *testing.T) {
	m := NewMatcher([]Binding{{Sequence: []byte{0x00, 0x11}, Action: ActionDetach}}, 50*time.Millisecond)
	current := time.Unix(1000, 0)
	m.now = func() time.Time { return current }

	_, _ = m.Feed(0x00)
	assert.Nil(t, m.FlushExpired(), "not yet expired")

	current = current.Add(time.Second)
	assert.Equal(t, []byte{0x00}, m.FlushExpired())
	assert.False(t, m.Pending())
	assert.Nil(t, m.FlushExpired(), "nothing left to flush")
}

func TestResetClearsPartialState(t *testing.T) {
	m := NewMatcher([]Binding{{Sequence: []byte{0x00, 0x11}, Action: ActionDetach}}, 0)
	_, _ = m.Feed(0x00)
	require.True(t, m.Pending())

	m.Reset()
	assert.False(t, m.Pending())

	// After a reset the second chord alone must not complete anything.
	out, action := m.Feed(0x11)
	assert.Equal(t, []byte{0x11}, out)
	assert.Equal(t, ActionNone, action)
}

func TestBufferBoundedByLongestBinding(t *testing.T) {
	m := NewMatcher([]Binding{{Sequence: []byte("abcd"), Action: ActionDetach}}, 0)
	_, _ = m.Feed('a')
	_, _ = m.Feed('b')
	_, _ = m.Feed('c')
	assert.LessOrEqual(t, len(m.buffer), 4)
}

func TestTimeoutFlushByteNotRescanned(t *testing.T) {
	// Timeout is authoritative: flushed bytes are forwarded as ordinary
	// input, not rescanned for new matches.
	m := NewMatcher([]Binding{{Sequence: []byte("ab"), Action: ActionDetach}}, 50*time.Millisecond)
	current := time.Unix(1000, 0)
	m.now = func() time.Time { return current }

	_, _ = m.Feed('a')
	current = current.Add(time.Second)

	out, action := m.Feed('b')
	assert.Equal(t, []byte("ab"), out)
	assert.Equal(t, ActionNone, action)
}
