// Package editor is the termbox text widget of the client: it holds a copy
// of the document, the cursor and the viewport, and draws them.
package editor

import (
	"fmt"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/nsf/termbox-go"

	"github.com/burntcarrot/mirrorpad/changeset"
)

// statusDuration is how long a status message stays on screen.
const statusDuration = 5 * time.Second

// EditorConfig configures an Editor.
type EditorConfig struct {
	ScrollEnabled bool
}

type Editor struct {
	// Text is the document being shown. Cursor is a rune offset into it.
	Text   []rune
	Cursor int

	Width  int
	Height int

	// ColOff and RowOff are the first column and row in view.
	ColOff int
	RowOff int

	ScrollEnabled bool

	// AltKeymap is shown in the status line.
	AltKeymap bool

	StatusMsg   string
	statusUntil time.Time
}

func NewEditor(conf EditorConfig) *Editor {
	return &Editor{ScrollEnabled: conf.ScrollEnabled}
}

func (e *Editor) GetText() []rune {
	return e.Text
}

func (e *Editor) SetText(text string) {
	e.Text = []rune(text)
	if e.Cursor > len(e.Text) {
		e.Cursor = len(e.Text)
	}
}

// SetCursor moves the cursor to pos, clamped into the text, and scrolls it
// into view.
func (e *Editor) SetCursor(pos int) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(e.Text) {
		pos = len(e.Text)
	}
	e.Cursor = pos
	e.scroll()
}

func (e *Editor) GetX() int {
	x, _ := e.calcXY(e.Cursor)
	return x
}

func (e *Editor) GetY() int {
	_, y := e.calcXY(e.Cursor)
	return y
}

func (e *Editor) GetWidth() int {
	return e.Width
}

func (e *Editor) GetHeight() int {
	return e.Height
}

func (e *Editor) SetSize(w, h int) {
	e.Width = w
	e.Height = h
	e.scroll()
}

// SetStatus shows msg in the status line for a while.
func (e *Editor) SetStatus(msg string) {
	e.StatusMsg = msg
	e.statusUntil = time.Now().Add(statusDuration)
}

// MoveCursor moves the cursor x runes sideways, or one line up or down when y
// is negative or positive. Vertical moves keep the column where the target
// line is long enough.
func (e *Editor) MoveCursor(x, y int) {
	if len(e.Text) == 0 {
		return
	}

	newCursor := e.Cursor + x
	if y > 0 {
		newCursor = e.lineMove(1)
	}
	if y < 0 {
		newCursor = e.lineMove(-1)
	}
	e.SetCursor(newCursor)
}

// LineStart moves the cursor to the start of its line.
func (e *Editor) LineStart() {
	if line, err := changeset.LineAt(string(e.Text), e.Cursor); err == nil {
		e.SetCursor(line.From)
	}
}

// LineEnd moves the cursor to the end of its line.
func (e *Editor) LineEnd() {
	if line, err := changeset.LineAt(string(e.Text), e.Cursor); err == nil {
		e.SetCursor(line.To)
	}
}

// lineMove returns the position delta lines away from the cursor. Moving
// past the first line goes to the start of the text, past the last line to
// its end.
func (e *Editor) lineMove(delta int) int {
	doc := string(e.Text)
	line, err := changeset.LineAt(doc, e.Cursor)
	if err != nil {
		return e.Cursor
	}

	target := line.Number + delta
	if target < 1 {
		return 0
	}
	if target > changeset.LineCount(doc) {
		return len(e.Text)
	}

	pos, err := changeset.PosOf(doc, target, e.Cursor-line.From)
	if err != nil {
		return e.Cursor
	}
	return pos
}

// scroll adjusts the viewport so the cursor is visible. The last row is the
// status line.
func (e *Editor) scroll() {
	if !e.ScrollEnabled || e.Width <= 0 || e.Height <= 1 {
		return
	}

	x, y := e.calcXY(e.Cursor)
	col, row := x-1, y-1
	rows := e.Height - 1

	if row < e.RowOff {
		e.RowOff = row
	}
	if row >= e.RowOff+rows {
		e.RowOff = row - rows + 1
	}
	if col < e.ColOff {
		e.ColOff = col
	}
	if col >= e.ColOff+e.Width {
		e.ColOff = col - e.Width + 1
	}
}

// Draw updates the UI by setting cells with the editor's content.
func (e *Editor) Draw() {
	_ = termbox.Clear(termbox.ColorDefault, termbox.ColorDefault)

	cx, cy := e.calcXY(e.Cursor)
	termbox.SetCursor(cx-1-e.ColOff, cy-1-e.RowOff)

	rows := e.Height - 1
	x, y := 0, 0
	for _, r := range e.Text {
		if r == '\n' {
			x = 0
			y++
			continue
		}
		col, row := x-e.ColOff, y-e.RowOff
		if row >= 0 && row < rows && col >= 0 && col < e.Width {
			termbox.SetCell(col, row, r, termbox.ColorDefault, termbox.ColorDefault)
		}
		x += runewidth.RuneWidth(r)
	}

	e.drawStatusLine()

	// Flush back buffer!
	termbox.Flush()
}

// drawStatusLine shows the current status message, or the cursor position
// when there is none.
func (e *Editor) drawStatusLine() {
	str := e.StatusMsg
	if str == "" || time.Now().After(e.statusUntil) {
		x, y := e.calcXY(e.Cursor)
		mode := "default"
		if e.AltKeymap {
			mode = "emacs"
		}
		str = fmt.Sprintf("line %d, col %d (%d chars) [%s]", y, x, len(e.Text), mode)
	}

	x := 0
	for _, r := range str {
		if x >= e.Width {
			break
		}
		termbox.SetCell(x, e.Height-1, r, termbox.ColorBlack, termbox.ColorWhite)
		x += runewidth.RuneWidth(r)
	}
}

// calcXY returns the 1-based screen column and row of the rune at index,
// before scrolling.
func (e *Editor) calcXY(index int) (int, int) {
	x := 1
	y := 1

	if index < 0 {
		return x, y
	}

	if index > len(e.Text) {
		index = len(e.Text)
	}

	for _, r := range e.Text[:index] {
		if r == '\n' {
			x = 1
			y++
		} else {
			x += runewidth.RuneWidth(r)
		}
	}
	return x, y
}
