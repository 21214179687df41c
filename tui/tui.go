package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/mirrorpad/changeset"
	"github.com/burntcarrot/mirrorpad/collab"
	"github.com/burntcarrot/mirrorpad/host"
)

const readOnlyStatus = "document does not fit the editor, read-only"

// editAttempts bounds retries of an edit that raced with a remote update.
const editAttempts = 3

// UI runs the editor until the user quits.
func UI(ctx context.Context, conn collab.Conn, log logrus.FieldLogger) error {
	p := tea.NewProgram(initialModel(ctx, conn, log))
	return p.Start()
}

type (
	errMsg error

	// joinedMsg carries the host created once the document was fetched.
	joinedMsg struct{ host *host.Host }

	// changedMsg tells the model the host's document changed.
	changedMsg struct{}

	// syncDoneMsg carries the error that stopped syncing.
	syncDoneMsg struct{ err error }
)

type model struct {
	ctx  context.Context
	conn collab.Conn
	log  logrus.FieldLogger

	host    *host.Host
	changed chan struct{}

	// shown is the document as the textarea last showed it.
	shown string

	// readOnly is set while the textarea cannot hold the document as is,
	// e.g. past its line limit; typing then is not sent anywhere.
	readOnly bool

	textInput textinput.Model
	textarea  textarea.Model
	status    string
	err       error
	Quitting  bool
	LoggedIn  bool
}

func initialModel(ctx context.Context, conn collab.Conn, log logrus.FieldLogger) model {
	ti := textinput.New()
	ti.Placeholder = "Username"
	ti.Focus()
	ti.CharLimit = 156
	ti.Width = 20

	ta := textarea.New()
	ta.Placeholder = "Write some text here..."
	ta.CharLimit = 0

	return model{
		ctx:       ctx,
		conn:      conn,
		log:       log,
		changed:   make(chan struct{}, 1),
		textInput: ti,
		textarea:  ta,
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.Quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			if !m.LoggedIn {
				m.LoggedIn = true
				return m, m.join(m.textInput.Value())
			}
		}

	case joinedMsg:
		m.host = msg.host
		m.textarea.Focus()
		m.show(m.host.Text())
		m.host.Subscribe(func(host.Event) {
			select {
			case m.changed <- struct{}{}:
			default:
			}
		})
		return m, tea.Batch(m.waitForChange(), m.sync())

	case changedMsg:
		m.refresh()
		return m, m.waitForChange()

	case syncDoneMsg:
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.log.WithError(msg.err).Error("sync stopped")
			m.status = "lost connection!"
		}
		return m, nil

	// We handle errors just like any other message
	case errMsg:
		m.err = msg
		return m, nil
	}

	if !m.LoggedIn {
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd
	}
	if m.host == nil {
		// Still joining.
		return m, nil
	}

	m.textarea, cmd = m.textarea.Update(msg)
	if err := m.pushLocal(); err != nil {
		m.log.WithError(err).Error("edit failed")
		m.status = "edit failed: " + err.Error()
	}
	return m, cmd
}

// join fetches the document under a client ID derived from name.
func (m model) join(name string) tea.Cmd {
	if name == "" {
		name = "anonymous"
	}
	id := name + "-" + uuid.NewString()[:8]

	return func() tea.Msg {
		h, err := collab.Join(m.ctx, m.conn, host.WithClientID(id), host.WithLogger(m.log))
		if err != nil {
			return errMsg(err)
		}
		return joinedMsg{host: h}
	}
}

func (m model) sync() tea.Cmd {
	return func() tea.Msg {
		return syncDoneMsg{err: collab.Sync(m.ctx, m.host, m.conn, collab.WithLogger(m.log))}
	}
}

func (m model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.changed:
			return changedMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

// pushLocal turns what the user typed since the last call into a host edit.
// When remote changes reached the host in the meantime the edit is rebased
// over them.
func (m *model) pushLocal() error {
	value := m.textarea.Value()
	if value == m.shown || m.readOnly {
		return nil
	}
	local := changeset.Diff(m.shown, value)

	var err error
	for i := 0; i < editAttempts; i++ {
		live := m.host.Text()
		cs := local
		if live != m.shown {
			if cs, err = changeset.Map(local, changeset.Diff(m.shown, live), false); err != nil {
				return err
			}
		}
		if err = m.host.Edit(cs); !errors.Is(err, changeset.ErrLengthMismatch) {
			if err == nil {
				m.host.SetSelection(host.Cursor(lastChangeEnd(cs)))
			}
			break
		}
	}
	m.shown = value
	return err
}

// refresh shows the host's document when it differs from the textarea's,
// putting the cursor where the host keeps it.
func (m *model) refresh() {
	text := m.host.Text()
	if text == m.textarea.Value() {
		m.shown = text
		return
	}

	m.show(text)

	// SetValue leaves the cursor at the end; walk it back up.
	line, col := m.host.Cursor()
	for i := line.Number; i < changeset.LineCount(text); i++ {
		m.textarea, _ = m.textarea.Update(tea.KeyMsg{Type: tea.KeyUp})
	}
	m.textarea.SetCursor(col)
}

// show puts text into the textarea.
func (m *model) show(text string) {
	m.textarea.SetValue(text)
	m.shown = text
	m.readOnly = m.textarea.Value() != text
	if m.readOnly {
		m.status = readOnlyStatus
	} else if m.status == readOnlyStatus {
		m.status = ""
	}
}

// lastChangeEnd returns the position right after the last change of cs, in
// the document cs produces.
func lastChangeEnd(cs changeset.ChangeSet) int {
	end := 0
	cs.Changes(func(fromA, toA, fromB, toB int, inserted string) {
		end = toB
	})
	return end
}

func loginView(m model) string {
	return fmt.Sprintf(
		"Enter username:\n\n%s\n\n%s",
		m.textInput.View(),
		"(esc to quit)",
	) + "\n"
}

func editorView(m model) string {
	status := m.status
	if status == "" && m.host != nil {
		status = fmt.Sprintf("version %d, %d pending", m.host.Version(), len(m.host.PendingUpdates()))
	}
	return fmt.Sprintf(
		"Username: %s\n\n%s\n\n%s  (ctrl+c to quit)",
		m.textInput.Value(),
		m.textarea.View(),
		status,
	) + "\n\n"
}

func (m model) View() string {
	if m.Quitting {
		return "\n  See you later!\n\n"
	}
	if m.err != nil {
		return fmt.Sprintf("\n  Error: %v\n\n", m.err)
	}
	if !m.LoggedIn {
		return loginView(m)
	}
	if m.host == nil {
		return "\n  Joining...\n\n"
	}
	return editorView(m)
}
