package main

import (
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/nsf/termbox-go"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/mirrorpad/changeset"
	"github.com/burntcarrot/mirrorpad/client/editor"
	"github.com/burntcarrot/mirrorpad/host"
)

// errExit is returned by the event handler when the user leaves the editor.
var errExit = errors.New("mirrorpad: exiting")

// defaultFileName is used by Ctrl+S when no file was given.
const defaultFileName = "mirrorpad-content.txt"

// editAttempts bounds retries of an edit that raced with a remote update.
const editAttempts = 3

// session ties the editor widget to the host it shows.
type session struct {
	host     *host.Host
	editor   *editor.Editor
	fileName string
	log      logrus.FieldLogger
}

// refresh copies the host's state into the editor.
func (s *session) refresh() {
	s.editor.SetText(s.host.Text())
	s.editor.SetCursor(s.host.Selection().Head)
	s.editor.AltKeymap = s.host.AltKeymap()
}

// moved hands a cursor moved in the editor to the host, which keeps it in
// place across remote changes.
func (s *session) moved() {
	s.host.SetSelection(host.Cursor(s.editor.Cursor))
}

// handleTermboxEvent turns key input into cursor moves and edits of the host.
func (s *session) handleTermboxEvent(ev termbox.Event) error {
	if ev.Type == termbox.EventResize {
		s.editor.SetSize(ev.Width, ev.Height)
		return nil
	}

	// We only want to deal with termbox key events (EventKey).
	if ev.Type != termbox.EventKey {
		return nil
	}

	if s.host.AltKeymap() && s.handleEmacsKey(ev) {
		return nil
	}

	switch ev.Key {
	// The default keys for exiting a session are Esc and Ctrl+C.
	case termbox.KeyEsc, termbox.KeyCtrlC:
		return errExit

	// Ctrl+T switches between the default and the emacs keybindings.
	case termbox.KeyCtrlT:
		on := !s.host.AltKeymap()
		s.host.SetAltKeymap(on)
		s.editor.AltKeymap = on
		if on {
			s.editor.SetStatus("emacs keybindings")
		} else {
			s.editor.SetStatus("default keybindings")
		}

	// Ctrl+S saves the document.
	case termbox.KeyCtrlS:
		s.save()

	// Ctrl+L replaces the document with the file's content.
	case termbox.KeyCtrlL:
		s.load()

	case termbox.KeyArrowLeft:
		s.editor.MoveCursor(-1, 0)
		s.moved()
	case termbox.KeyArrowRight:
		s.editor.MoveCursor(1, 0)
		s.moved()
	case termbox.KeyArrowUp:
		s.editor.MoveCursor(0, -1)
		s.moved()
	case termbox.KeyArrowDown:
		s.editor.MoveCursor(0, 1)
		s.moved()
	case termbox.KeyHome:
		s.editor.LineStart()
		s.moved()
	case termbox.KeyEnd:
		s.editor.LineEnd()
		s.moved()

	case termbox.KeyBackspace, termbox.KeyBackspace2:
		s.deleteBackward()
	case termbox.KeyDelete:
		s.deleteForward()

	// The Tab key inserts 4 spaces to simulate a "tab".
	case termbox.KeyTab:
		s.insert("    ")
	case termbox.KeyEnter:
		s.insert("\n")
	case termbox.KeySpace:
		s.insert(" ")

	// Every other key is eligible to be a candidate for insertion.
	default:
		if ev.Ch != 0 {
			s.insert(string(ev.Ch))
		}
	}

	return nil
}

// handleEmacsKey handles the keys the emacs keybindings add. It reports
// whether ev was one of them.
func (s *session) handleEmacsKey(ev termbox.Event) bool {
	switch ev.Key {
	case termbox.KeyCtrlB:
		s.editor.MoveCursor(-1, 0)
	case termbox.KeyCtrlF:
		s.editor.MoveCursor(1, 0)
	case termbox.KeyCtrlP:
		s.editor.MoveCursor(0, -1)
	case termbox.KeyCtrlN:
		s.editor.MoveCursor(0, 1)
	case termbox.KeyCtrlA:
		s.editor.LineStart()
	case termbox.KeyCtrlE:
		s.editor.LineEnd()
	case termbox.KeyCtrlD:
		s.deleteForward()
		return true
	default:
		return false
	}
	s.moved()
	return true
}

func (s *session) insert(text string) {
	s.edit("insert", func(doc string, pos int) (int, int, bool) {
		return pos, pos, true
	}, text)
}

func (s *session) deleteBackward() {
	s.edit("delete", func(doc string, pos int) (int, int, bool) {
		return pos - 1, pos, pos > 0
	}, "")
}

func (s *session) deleteForward() {
	s.edit("delete", func(doc string, pos int) (int, int, bool) {
		return pos, pos + 1, pos < changeset.Len(doc)
	}, "")
}

// edit replaces the range chosen by span around the cursor with text. A
// remote update landing between reading the document and editing it makes
// the edit fail with a length mismatch; the edit is then tried again on the
// new document.
func (s *session) edit(op string, span func(doc string, pos int) (from, to int, ok bool), text string) {
	s.moved()

	var err error
	for i := 0; i < editAttempts; i++ {
		doc, pos := s.host.Text(), s.host.Selection().Head
		from, to, ok := span(doc, pos)
		if !ok {
			return
		}

		s.log.WithFields(logrus.Fields{
			"op":   op,
			"from": from,
			"to":   to,
		}).Debug("local edit")

		if err = s.host.Replace(from, to, text); !errors.Is(err, changeset.ErrLengthMismatch) {
			break
		}
	}
	if err != nil {
		s.log.WithError(err).Error("edit failed")
		s.editor.SetStatus("edit failed: " + err.Error())
	}
	s.refresh()
}

// save writes the document to the session's file.
func (s *session) save() {
	if s.fileName == "" {
		s.fileName = defaultFileName
	}

	if err := os.WriteFile(s.fileName, []byte(s.host.Text()), 0644); err != nil { // skipcq: GSC-G306
		s.log.WithError(err).Errorf("failed to save to %s", s.fileName)
		s.editor.SetStatus("Failed to save to " + s.fileName)
		return
	}
	s.editor.SetStatus("Saved document to " + s.fileName)
}

// load replaces the document with the file's content as a local edit, so
// the other editors receive it too.
func (s *session) load() {
	if s.fileName == "" {
		s.editor.SetStatus("No file to load!")
		return
	}

	data, err := os.ReadFile(s.fileName)
	if err != nil {
		s.log.WithError(err).Errorf("failed to load file %s", s.fileName)
		s.editor.SetStatus("Failed to load " + s.fileName)
		return
	}
	if !utf8.Valid(data) {
		s.editor.SetStatus(fmt.Sprintf("%s is not UTF-8 text", s.fileName))
		return
	}

	if err := s.host.Edit(changeset.Diff(s.host.Text(), string(data))); err != nil {
		s.log.WithError(err).Error("failed to apply loaded file")
		s.editor.SetStatus("Failed to load " + s.fileName)
		return
	}
	s.refresh()
	s.editor.SetStatus("Loaded " + s.fileName)
}
