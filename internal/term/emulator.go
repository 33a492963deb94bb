// Package term maintains a bounded model of terminal screen state by
// interpreting raw output bytes, and renders "redraw from scratch" byte
// sequences that reproduce that state on a fresh client terminal.
package term

import (
	"bytes"
	"fmt"

	"github.com/hinshun/vt10x"
)

// Attribute mode constants from vt10x internal
const (
	attrReverse = 1 << iota
	attrUnderline
	attrBold
	attrGfx
	attrItalic
	attrBlink
)

// Emulator wraps vt10x to fold a terminal output stream into a grid of
// cells plus cursor state. It is not safe for concurrent use; the owning
// session serializes access.
type Emulator struct {
	terminal vt10x.Terminal
	cols     int
	rows     int
}

// NewEmulator creates an emulator sized to the given dimensions.
func NewEmulator(cols, rows int) *Emulator {
	vt := vt10x.New(vt10x.WithSize(cols, rows))
	return &Emulator{
		terminal: vt,
		cols:     cols,
		rows:     rows,
	}
}

// Write interprets shell output bytes, updating the screen model.
func (e *Emulator) Write(data []byte) {
	_, _ = e.terminal.Write(data)
}

// Resize changes the grid dimensions, preserving intersecting content.
func (e *Emulator) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	e.cols = cols
	e.rows = rows
	e.terminal.Resize(cols, rows)
}

// Size returns the current grid dimensions.
func (e *Emulator) Size() (cols, rows int) {
	return e.cols, e.rows
}

// Cursor returns the cursor position and visibility.
func (e *Emulator) Cursor() (row, col int, visible bool) {
	cursor := e.terminal.Cursor()
	return cursor.Y, cursor.X, e.terminal.CursorVisible()
}

// Row returns the text of one grid row with trailing blanks trimmed.
// Used by callers that want to inspect screen content, not render it.
func (e *Emulator) Row(row int) string {
	var buf bytes.Buffer
	for col := 0; col < e.cols; col++ {
		cell := e.terminal.Cell(col, row)
		if cell.Char == 0 {
			buf.WriteRune(' ')
		} else {
			buf.WriteRune(cell.Char)
		}
	}
	return trimRight(buf.String())
}

// Redraw produces an escape-sequence-bearing byte sequence that, when
// interpreted by a compliant terminal, reproduces the current grid and
// cursor exactly. It is a pure function of the current state: calling it
// repeatedly without intervening writes yields identical bytes.
func (e *Emulator) Redraw() []byte {
	var buf bytes.Buffer

	// Hide the cursor while painting, reset attributes, clear, home.
	buf.WriteString("\x1b[?25l\x1b[0m\x1b[H\x1b[2J")

	lastRow := e.lastUsedRow()
	for row := 0; row <= lastRow; row++ {
		if row > 0 {
			buf.WriteString("\r\n")
		}
		e.renderRow(&buf, row)
	}
	buf.WriteString("\x1b[0m")

	// Park the cursor where the shell believes it is. Terminal cursor
	// addressing is 1-based.
	cursor := e.terminal.Cursor()
	fmt.Fprintf(&buf, "\x1b[%d;%dH", cursor.Y+1, cursor.X+1)
	if e.terminal.CursorVisible() {
		buf.WriteString("\x1b[?25h")
	}
	return buf.Bytes()
}

// renderRow writes one row's cells with minimal SGR churn: attributes are
// emitted only when they change from the previous cell.
func (e *Emulator) renderRow(buf *bytes.Buffer, row int) {
	lastCol := e.lastUsedCol(row)
	current := styleOf(vt10x.Glyph{FG: vt10x.DefaultFG, BG: vt10x.DefaultBG})
	for col := 0; col <= lastCol; col++ {
		cell := e.terminal.Cell(col, row)
		style := styleOf(cell)
		if style != current {
			buf.WriteString(style.sgr())
			current = style
		}
		if cell.Char == 0 {
			buf.WriteRune(' ')
		} else {
			buf.WriteRune(cell.Char)
		}
	}
}

// lastUsedRow finds the bottom-most row that has content or the cursor, so
// the redraw does not emit a screenful of trailing blank lines.
func (e *Emulator) lastUsedRow() int {
	cursor := e.terminal.Cursor()
	last := cursor.Y
	for row := e.rows - 1; row > last; row-- {
		if e.lastUsedCol(row) >= 0 {
			return row
		}
	}
	if last >= e.rows {
		last = e.rows - 1
	}
	return last
}

func (e *Emulator) lastUsedCol(row int) int {
	for col := e.cols - 1; col >= 0; col-- {
		cell := e.terminal.Cell(col, row)
		if cell.Char != 0 && cell.Char != ' ' {
			return col
		}
		if styleOf(cell) != (style{fg: vt10x.DefaultFG, bg: vt10x.DefaultBG}) {
			return col
		}
	}
	return -1
}

// style is the subset of cell attributes the redraw reproduces.
type style struct {
	fg, bg vt10x.Color
	mode   int16
}

func styleOf(cell vt10x.Glyph) style {
	return style{fg: cell.FG, bg: cell.BG, mode: cell.Mode & (attrReverse | attrUnderline | attrBold | attrItalic | attrBlink)}
}

// sgr renders the style as a single SGR sequence, resetting first so the
// output does not depend on what was emitted before it.
func (s style) sgr() string {
	var buf bytes.Buffer
	buf.WriteString("\x1b[0")
	if s.mode&attrBold != 0 {
		buf.WriteString(";1")
	}
	if s.mode&attrItalic != 0 {
		buf.WriteString(";3")
	}
	if s.mode&attrUnderline != 0 {
		buf.WriteString(";4")
	}
	if s.mode&attrBlink != 0 {
		buf.WriteString(";5")
	}
	if s.mode&attrReverse != 0 {
		buf.WriteString(";7")
	}
	writeColor(&buf, s.fg, 30, 90, 38)
	writeColor(&buf, s.bg, 40, 100, 48)
	buf.WriteString("m")
	return buf.String()
}

// writeColor appends the SGR parameters for one color using the normal,
// bright, or 256-color form depending on the palette index.
func writeColor(buf *bytes.Buffer, color vt10x.Color, base, bright, extended int) {
	switch {
	case color == vt10x.DefaultFG || color == vt10x.DefaultBG:
		// Default color, nothing to emit after the reset.
	case color < 8:
		fmt.Fprintf(buf, ";%d", base+int(color))
	case color < 16:
		fmt.Fprintf(buf, ";%d", bright+int(color)-8)
	case color < 256:
		fmt.Fprintf(buf, ";%d;5;%d", extended, int(color))
	default:
		// True-color cells fall back to the default color rather than
		// guessing at the terminal's capabilities.
	}
}

func trimRight(s string) string {
	end := len(s)
	for end > 0 && (s[end-1] == ' ') {
		end--
	}
	return s[:end]
}
