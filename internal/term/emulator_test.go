package term

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRowContent(t *testing.T) {
	e := NewEmulator(80, 24)
	e.Write([]byte("hello\r\n"))

	assert.Equal(t, "hello", e.Row(0))
	row, col, _ := e.Cursor()
	assert.Equal(t, 1, row, "cursor moved to the next line")
	assert.Equal(t, 0, col)
}

func TestRedrawIdempotent(t *testing.T) {
	e := NewEmulator(80, 24)
	e.Write([]byte("some output\r\nmore\x1b[1;3HX"))

	first := e.Redraw()
	second := e.Redraw()
	assert.Equal(t, first, second, "redraw without intervening writes must be byte-identical")

	e.Write([]byte("!"))
	assert.NotEqual(t, first, e.Redraw())
}

// The essential redraw property: feeding the redraw bytes into a fresh
// terminal must reproduce the original screen and cursor.
func TestRedrawReproducesScreen(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"plain line", "hello\r\n"},
		{"multiple lines", "one\r\ntwo\r\nthree\r\n"},
		{"cursor repositioning", "abcdef\x1b[2;3Hmid\x1b[1;1H"},
		{"colors and attributes", "\x1b[31;1mred bold\x1b[0m plain \x1b[44mblue bg\x1b[0m\r\n"},
		{"italic and blink", "\x1b[3mitalic\x1b[0m \x1b[4munder\x1b[0m \x1b[5mblink\x1b[0m\r\n"},
		{"cleared screen", "garbage\x1b[2J\x1b[Hclean"},
		{"hidden cursor", "text\x1b[?25l"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := NewEmulator(40, 10)
			original.Write([]byte(tt.output))

			replica := NewEmulator(40, 10)
			replica.Write(original.Redraw())

			for row := 0; row < 10; row++ {
				assert.Equal(t, original.Row(row), replica.Row(row), "row %d differs", row)
				for col := 0; col < 40; col++ {
					origStyle := styleOf(original.terminal.Cell(col, row))
					replStyle := styleOf(replica.terminal.Cell(col, row))
					assert.Equal(t, origStyle, replStyle, "cell style at row %d col %d", row, col)
				}
			}

			origRow, origCol, origVisible := original.Cursor()
			replRow, replCol, replVisible := replica.Cursor()
			assert.Equal(t, origRow, replRow, "cursor row")
			assert.Equal(t, origCol, replCol, "cursor column")
			assert.Equal(t, origVisible, replVisible, "cursor visibility")
		})
	}
}

// Italic and blink sit above the charset-mode bit in the glyph mode word;
// the redraw must emit SGR 3 for italic cells and SGR 5 only for blink.
func TestRedrawDistinguishesItalicFromBlink(t *testing.T) {
	e := NewEmulator(40, 10)
	e.Write([]byte("\x1b[3mitalic\x1b[0m\r\n\x1b[5mblink\x1b[0m\r\n"))

	redraw := string(e.Redraw())
	require.Contains(t, redraw, "\x1b[0;3mitalic")
	require.Contains(t, redraw, "\x1b[0;5mblink")
	assert.NotContains(t, redraw, "\x1b[0;5mitalic")
}

func TestRedrawEndsWithCursorPosition(t *testing.T) {
	e := NewEmulator(80, 24)
	e.Write([]byte("hello\r\n"))

	redraw := e.Redraw()
	// Cursor on row 2, column 1 in 1-based terminal addressing.
	assert.True(t, bytes.Contains(redraw, []byte("\x1b[2;1H")), "redraw %q should park the cursor below the output", redraw)
}

func TestRedrawTrimsTrailingBlankRows(t *testing.T) {
	e := NewEmulator(80, 24)
	e.Write([]byte("top\r\n"))

	redraw := e.Redraw()
	assert.Less(t, bytes.Count(redraw, []byte("\r\n")), 3, "redraw should not paint a screenful of blank rows")
}

func TestResizePreservesContent(t *testing.T) {
	e := NewEmulator(80, 24)
	e.Write([]byte("keep me\r\n"))

	e.Resize(60, 20)
	cols, rows := e.Size()
	assert.Equal(t, 60, cols)
	assert.Equal(t, 20, rows)
	assert.Equal(t, "keep me", e.Row(0))
}

func TestResizeIgnoresNonPositive(t *testing.T) {
	e := NewEmulator(80, 24)
	e.Resize(0, -1)
	cols, rows := e.Size()
	assert.Equal(t, 80, cols)
	assert.Equal(t, 24, rows)
}

func TestRedrawLargeScreenStaysBounded(t *testing.T) {
	e := NewEmulator(200, 50)
	for i := 0; i < 500; i++ {
		e.Write([]byte(fmt.Sprintf("line %d\r\n", i)))
	}
	// The grid is bounded: a redraw covers at most rows*cols cells plus
	// escape overhead, regardless of how much output was interpreted.
	assert.Less(t, len(e.Redraw()), 200*50*16)
}
