// Package host owns a live editable text buffer and reconciles external
// content and remote changesets into it without losing the selection or
// local edits that have not been confirmed by the relay yet.
package host

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/mirrorpad/changeset"
	"github.com/burntcarrot/mirrorpad/commons"
)

var (
	ErrInvalidContent = errors.New("invalid document content")
	ErrReconcile      = errors.New("reconciliation failed")
)

// Selection is a range of the document. Head is where the cursor is;
// Anchor == Head means a plain cursor.
type Selection struct {
	Anchor int
	Head   int
}

// Cursor returns a collapsed selection at pos.
func Cursor(pos int) Selection {
	return Selection{Anchor: pos, Head: pos}
}

func (s Selection) From() int {
	if s.Anchor < s.Head {
		return s.Anchor
	}
	return s.Head
}

func (s Selection) To() int {
	if s.Anchor > s.Head {
		return s.Anchor
	}
	return s.Head
}

func (s Selection) Empty() bool { return s.Anchor == s.Head }

func (s Selection) mapThrough(cs changeset.ChangeSet, assoc int) Selection {
	return Selection{Anchor: cs.MapPos(s.Anchor, assoc), Head: cs.MapPos(s.Head, assoc)}
}

func (s Selection) clamp(length int) Selection {
	return Selection{Anchor: clampInt(s.Anchor, 0, length), Head: clampInt(s.Head, 0, length)}
}

// Host is one live editing surface. All methods are safe for concurrent
// use; every mutation of the document runs to completion before the next
// one starts.
type Host struct {
	mu        sync.Mutex
	doc       string
	sel       Selection
	altKeymap bool
	rebuilds  int

	// recorded holds every change the host was told about, applied counts
	// the prefix of recorded that the live document reflects.
	recorded []changeset.ChangeSet
	applied  int

	clientID    string
	version     int
	unconfirmed []commons.Update

	// dispatch orders listener calls the same way as the mutations.
	dispatch  sync.Mutex
	lmu       sync.Mutex
	listeners map[int]func(Event)
	nextID    int

	log logrus.FieldLogger
}

// Option configures a Host.
type Option func(*Host)

// WithClientID sets the ID attached to local updates. Defaults to a random UUID.
func WithClientID(id string) Option {
	return func(h *Host) { h.clientID = id }
}

// WithVersion sets the relay version the initial document corresponds to.
func WithVersion(v int) Option {
	return func(h *Host) { h.version = v }
}

// WithAltKeymap starts the host in the alternate keybinding mode.
func WithAltKeymap(on bool) Option {
	return func(h *Host) { h.altKeymap = on }
}

// WithLogger sets the logger used by the host.
func WithLogger(l logrus.FieldLogger) Option {
	return func(h *Host) { h.log = l }
}

// New returns a host editing doc.
func New(doc string, opts ...Option) *Host {
	h := &Host{
		doc:       doc,
		clientID:  uuid.NewString(),
		listeners: make(map[int]func(Event)),
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Text returns the live document.
func (h *Host) Text() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc
}

// Selection returns the current selection.
func (h *Host) Selection() Selection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sel
}

// SetSelection moves the selection, clamping it into the document.
func (h *Host) SetSelection(sel Selection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sel = sel.clamp(changeset.Len(h.doc))
}

// Cursor returns the line holding the selection head and the head's column in it.
func (h *Host) Cursor() (changeset.Line, int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	line, err := changeset.LineAt(h.doc, h.sel.Head)
	if err != nil {
		// the selection is always clamped, so this only guards against misuse
		return changeset.Line{Number: 1}, 0
	}
	return line, h.sel.Head - line.From
}

// ClientID returns the ID attached to local updates.
func (h *Host) ClientID() string { return h.clientID }

// Rebuilds returns how many times SetContent replaced the editing state.
func (h *Host) Rebuilds() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rebuilds
}

// AltKeymap reports whether the alternate keybinding mode is on.
func (h *Host) AltKeymap() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.altKeymap
}

// SetAltKeymap switches the keybinding mode. The document and selection are
// kept; listeners receive a Reconfigured event.
func (h *Host) SetAltKeymap(on bool) {
	h.mu.Lock()
	if h.altKeymap == on {
		h.mu.Unlock()
		return
	}
	h.altKeymap = on
	h.emitAndUnlock(Event{Kind: Reconfigured, Text: h.doc, AltKeymap: on})
}

// SetContent replaces the document with externally supplied text. Text equal
// to the live document is ignored, which keeps the host's own edits from
// echoing back into it. Otherwise the editing state is rebuilt around the new
// text, keeping the selection where it still fits.
func (h *Host) SetContent(doc string) error {
	if !utf8.ValidString(doc) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidContent)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if doc == h.doc {
		return nil
	}

	if len(h.unconfirmed) > 0 || h.applied < len(h.recorded) {
		h.log.WithFields(logrus.Fields{
			"unconfirmed": len(h.unconfirmed),
			"unapplied":   len(h.recorded) - h.applied,
		}).Warn("content replaced, dropping pending changes")
	}

	h.doc = doc
	h.sel = h.sel.clamp(changeset.Len(doc))
	h.recorded = nil
	h.applied = 0
	h.unconfirmed = nil
	h.rebuilds++
	return nil
}

// Edit applies a local change made against the live document and queues it
// for the relay. Changes recorded but not yet applied are reconciled first
// and the edit is mapped over them.
func (h *Host) Edit(cs changeset.ChangeSet) error {
	h.mu.Lock()

	if cs.LenBefore() != changeset.Len(h.doc) {
		h.mu.Unlock()
		return fmt.Errorf("%w: edit expects length %d, document has %d",
			changeset.ErrLengthMismatch, cs.LenBefore(), changeset.Len(h.doc))
	}

	// A batch that fails to reconcile is dropped and reported to listeners;
	// the edit was made against the live document and still applies.
	events, _ := h.reconcileLocked()
	var err error
	for _, ev := range events {
		if ev.Kind != DocChanged {
			continue
		}
		if cs, err = changeset.Map(cs, ev.Changes, false); err != nil {
			h.emitAndUnlock(events...)
			return err
		}
	}

	next, err := cs.Apply(h.doc)
	if err != nil {
		h.emitAndUnlock(events...)
		return err
	}

	h.doc = next
	h.sel = h.sel.mapThrough(cs, 1)
	h.recorded = append(h.recorded, cs)
	h.applied = len(h.recorded)
	h.unconfirmed = append(h.unconfirmed, commons.Update{ClientID: h.clientID, Changes: cs})

	h.emitAndUnlock(append(events, Event{Kind: DocChanged, Text: next, Changes: cs})...)
	return nil
}

// Replace replaces [from, to) of the live document with text.
func (h *Host) Replace(from, to int, text string) error {
	cs, err := changeset.Replace(changeset.Len(h.Text()), from, to, text)
	if err != nil {
		return err
	}
	return h.Edit(cs)
}

// Record queues changesets that the live document has not seen yet. Each
// changeset applies to the document produced by the previous one.
func (h *Host) Record(sets ...changeset.ChangeSet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recorded = append(h.recorded, sets...)
}

// Unapplied returns how many recorded changesets wait for reconciliation.
func (h *Host) Unapplied() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.recorded) - h.applied
}

// Reconcile applies every recorded but unapplied changeset, all at once. If
// any of them fails to apply the live document is left untouched, the failed
// batch is dropped and listeners receive a ReconcileFailed event.
func (h *Host) Reconcile() error {
	h.mu.Lock()

	events, err := h.reconcileLocked()
	h.emitAndUnlock(events...)
	return err
}

// ApplyRemote records changesets and reconciles them in one step.
func (h *Host) ApplyRemote(sets ...changeset.ChangeSet) error {
	h.Record(sets...)
	return h.Reconcile()
}

// reconcileLocked brings the live document up to date with the recorded
// log in a single step. On failure the batch is dropped and the returned
// events hold a ReconcileFailed event for the same error. Caller holds h.mu.
func (h *Host) reconcileLocked() ([]Event, error) {
	if h.applied == len(h.recorded) {
		return nil, nil
	}

	pending, err := changeset.ComposeAll(changeset.Len(h.doc), h.recorded[h.applied:]...)
	if err != nil {
		return h.dropPendingLocked(err)
	}
	next, err := pending.Apply(h.doc)
	if err != nil {
		return h.dropPendingLocked(err)
	}

	h.doc = next
	h.sel = h.sel.mapThrough(pending, -1)
	h.applied = len(h.recorded)
	return []Event{{Kind: DocChanged, Text: next, Changes: pending, Remote: true}}, nil
}

func (h *Host) dropPendingLocked(cause error) ([]Event, error) {
	h.log.WithError(cause).WithField("dropped", len(h.recorded)-h.applied).Warn("dropping changes that do not apply")
	h.recorded = h.recorded[:h.applied]

	err := fmt.Errorf("%w: %v", ErrReconcile, cause)
	return []Event{{Kind: ReconcileFailed, Text: h.doc, Err: err}}, err
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
