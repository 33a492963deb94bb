package keybind

import (
	"fmt"
	"strings"
)

// Action identifies what a completed binding triggers.
type Action int

const (
	// ActionNone means no binding completed.
	ActionNone Action = iota
	// ActionDetach disconnects the client, leaving the shell running.
	ActionDetach
)

func (a Action) String() string {
	switch a {
	case ActionDetach:
		return "detach"
	default:
		return "none"
	}
}

// ParseAction resolves an action name from the config file.
func ParseAction(name string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "detach":
		return ActionDetach, nil
	default:
		return ActionNone, fmt.Errorf("unknown keybinding action %q", name)
	}
}

// Binding is one bound chord sequence and its action.
type Binding struct {
	Sequence []byte
	Action   Action
}

// ParseSequence converts a chord sequence string like "Ctrl-Space Ctrl-q"
// into the bytes a terminal produces for it. Chords are space-separated;
// control is the only supported modifier. Each chord is either
// "Ctrl-<key>", the word "Space", or a single printable character.
func ParseSequence(sequence string) ([]byte, error) {
	fields := strings.Fields(sequence)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty keybinding sequence")
	}

	out := make([]byte, 0, len(fields))
	for _, chord := range fields {
		b, err := parseChord(chord)
		if err != nil {
			return nil, fmt.Errorf("keybinding %q: %w", sequence, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func parseChord(chord string) (byte, error) {
	lower := strings.ToLower(chord)
	if key, ok := strings.CutPrefix(lower, "ctrl-"); ok {
		switch {
		case key == "space":
			// Ctrl-Space produces NUL.
			return 0x00, nil
		case len(key) == 1 && key[0] >= 'a' && key[0] <= 'z':
			return key[0] & 0x1f, nil
		case len(key) == 1 && strings.ContainsRune("[\\]^_", rune(key[0])):
			return key[0] & 0x1f, nil
		default:
			return 0, fmt.Errorf("unsupported control chord %q", chord)
		}
	}
	if lower == "space" {
		return ' ', nil
	}
	if len(chord) == 1 && chord[0] > 0x20 && chord[0] < 0x7f {
		return chord[0], nil
	}
	return 0, fmt.Errorf("unsupported chord %q (control is the only supported modifier)", chord)
}
