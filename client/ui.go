package main

import (
	"github.com/nsf/termbox-go"

	"github.com/burntcarrot/mirrorpad/host"
)

// UI initializes termbox, draws the editor and runs the main loop until the
// user exits.
func (s *session) UI(syncErr <-chan error) error {
	if err := termbox.Init(); err != nil {
		return err
	}
	defer termbox.Close()

	s.editor.SetSize(termbox.Size())
	s.refresh()
	s.editor.Draw()

	return s.mainLoop(syncErr)
}

// mainLoop is the main update loop for the UI. The host only signals that
// something changed; the loop reads the new state itself, so listeners never
// wait on the UI.
func (s *session) mainLoop(syncErr <-chan error) error {
	termboxChan := getTermboxChan()

	changed := make(chan struct{}, 1)
	failed := make(chan error, 1)
	unsubscribe := s.host.Subscribe(func(ev host.Event) {
		if ev.Kind == host.ReconcileFailed {
			select {
			case failed <- ev.Err:
			default:
			}
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		select {
		case termboxEvent := <-termboxChan:
			if err := s.handleTermboxEvent(termboxEvent); err != nil {
				return err
			}
		case <-changed:
			s.refresh()
		case err := <-failed:
			s.log.WithError(err).Warn("remote changes dropped")
			s.editor.SetStatus("remote changes dropped!")
		case err := <-syncErr:
			s.log.WithError(err).Error("sync stopped")
			s.editor.SetStatus("lost connection!")
			syncErr = nil
		}
		s.editor.Draw()
	}
}

// getTermboxChan returns a channel of termbox Events repeatedly waiting on user input.
func getTermboxChan() chan termbox.Event {
	termboxChan := make(chan termbox.Event)

	go func() {
		for {
			termboxChan <- termbox.PollEvent()
		}
	}()

	return termboxChan
}
