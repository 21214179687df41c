package host

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/mirrorpad/changeset"
	"github.com/burntcarrot/mirrorpad/commons"
)

func newTestHost(doc string, opts ...Option) *Host {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return New(doc, append([]Option{WithClientID("me"), WithLogger(l)}, opts...)...)
}

// recorder collects events delivered to a listener.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Text)
	}
	return out
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func insertAt(t *testing.T, length, at int, text string) changeset.ChangeSet {
	t.Helper()
	cs, err := changeset.Replace(length, at, at, text)
	if err != nil {
		t.Fatalf("changeset: %v", err)
	}
	return cs
}

func TestSetContent_SameTextIsNoop(t *testing.T) {
	h := newTestHost("abc")
	rec := &recorder{}
	h.Subscribe(rec.listen)

	if err := h.SetContent("abc"); err != nil {
		t.Fatalf("SetContent: %v", err)
	}

	if got := h.Rebuilds(); got != 0 {
		t.Errorf("got != want; got = %v, expected = %v\n", got, 0)
	}
	if got := rec.len(); got != 0 {
		t.Errorf("got %d events, expected none", got)
	}
}

func TestSetContent_Rebuilds(t *testing.T) {
	h := newTestHost("hello world")
	h.SetSelection(Selection{Anchor: 6, Head: 11})
	rec := &recorder{}
	h.Subscribe(rec.listen)

	if err := h.SetContent("hi"); err != nil {
		t.Fatalf("SetContent: %v", err)
	}

	if got := h.Text(); got != "hi" {
		t.Errorf("got != want; got = %q, expected = %q\n", got, "hi")
	}
	if got := h.Rebuilds(); got != 1 {
		t.Errorf("got != want; got = %v, expected = %v\n", got, 1)
	}
	if diff := cmp.Diff(Cursor(2), h.Selection()); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s", diff)
	}
	if got := rec.len(); got != 0 {
		t.Errorf("got %d events, expected none", got)
	}
}

func TestSetContent_InvalidUTF8(t *testing.T) {
	h := newTestHost("abc")

	err := h.SetContent("a\xffb")
	if !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("got err = %v, expected %v", err, ErrInvalidContent)
	}
	if got := h.Text(); got != "abc" {
		t.Errorf("got != want; got = %q, expected = %q\n", got, "abc")
	}
}

func TestEdit_EmitsDocChanged(t *testing.T) {
	h := newTestHost("abc")
	h.SetSelection(Cursor(3))
	rec := &recorder{}
	h.Subscribe(rec.listen)

	if err := h.Replace(1, 2, "XY"); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	if diff := cmp.Diff([]string{"aXYc"}, rec.texts()); diff != "" {
		t.Errorf("event texts mismatch (-want +got):\n%s", diff)
	}
	ev := rec.events[0]
	if ev.Kind != DocChanged || ev.Remote {
		t.Errorf("got kind = %v remote = %v, expected a local DocChanged", ev.Kind, ev.Remote)
	}
	if got, err := ev.Changes.Apply("abc"); err != nil || got != "aXYc" {
		t.Errorf("event changes applied to %q, err = %v", got, err)
	}

	// The cursor after the replaced range stays after it.
	if diff := cmp.Diff(Cursor(4), h.Selection()); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s", diff)
	}

	pending := h.PendingUpdates()
	if len(pending) != 1 || pending[0].ClientID != "me" {
		t.Fatalf("got pending = %v, expected one update from me", pending)
	}
}

func TestEdit_LengthMismatch(t *testing.T) {
	h := newTestHost("abc")

	err := h.Edit(insertAt(t, 5, 0, "x"))
	if !errors.Is(err, changeset.ErrLengthMismatch) {
		t.Fatalf("got err = %v, expected %v", err, changeset.ErrLengthMismatch)
	}
	if got := h.Text(); got != "abc" {
		t.Errorf("got != want; got = %q, expected = %q\n", got, "abc")
	}
}

func TestEdit_MapsOverRecordedChanges(t *testing.T) {
	h := newTestHost("abc")
	rec := &recorder{}
	h.Subscribe(rec.listen)

	h.Record(insertAt(t, 3, 0, "X"))

	// Made against the live document, which has not seen the X yet.
	if err := h.Edit(insertAt(t, 3, 3, "!")); err != nil {
		t.Fatalf("Edit: %v", err)
	}

	if diff := cmp.Diff([]string{"Xabc", "Xabc!"}, rec.texts()); diff != "" {
		t.Errorf("event texts mismatch (-want +got):\n%s", diff)
	}
	if !rec.events[0].Remote || rec.events[1].Remote {
		t.Errorf("expected the reconciled change first, then the local edit")
	}
}

func TestReconcile(t *testing.T) {
	h := newTestHost("abc")
	rec := &recorder{}
	h.Subscribe(rec.listen)

	h.Record(insertAt(t, 3, 0, "1"), insertAt(t, 4, 0, "2"))
	if got := h.Unapplied(); got != 2 {
		t.Errorf("got != want; got = %v, expected = %v\n", got, 2)
	}

	if err := h.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if got := h.Text(); got != "21abc" {
		t.Errorf("got != want; got = %q, expected = %q\n", got, "21abc")
	}
	if got := h.Unapplied(); got != 0 {
		t.Errorf("got != want; got = %v, expected = %v\n", got, 0)
	}
	// One event for the whole batch.
	if diff := cmp.Diff([]string{"21abc"}, rec.texts()); diff != "" {
		t.Errorf("event texts mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcile_FailingBatchLeavesDocument(t *testing.T) {
	h := newTestHost("abc")
	rec := &recorder{}
	h.Subscribe(rec.listen)

	h.Record(insertAt(t, 3, 0, "X"), insertAt(t, 10, 0, "Y"))

	err := h.Reconcile()
	if !errors.Is(err, ErrReconcile) {
		t.Fatalf("got err = %v, expected %v", err, ErrReconcile)
	}
	if got := h.Text(); got != "abc" {
		t.Errorf("got != want; got = %q, expected = %q\n", got, "abc")
	}
	if got := h.Unapplied(); got != 0 {
		t.Errorf("failed batch kept; got %d unapplied", got)
	}
	checkReconcileFailed(t, rec, "abc")
}

// checkReconcileFailed expects the only event seen to report a dropped batch
// with the document at text.
func checkReconcileFailed(t *testing.T, rec *recorder, text string) {
	t.Helper()
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if len(rec.events) != 1 {
		t.Fatalf("got %d events, expected one ReconcileFailed", len(rec.events))
	}
	ev := rec.events[0]
	if ev.Kind != ReconcileFailed {
		t.Errorf("got kind %v, expected ReconcileFailed", ev.Kind)
	}
	if !errors.Is(ev.Err, ErrReconcile) {
		t.Errorf("got event err = %v, expected %v", ev.Err, ErrReconcile)
	}
	if ev.Text != text {
		t.Errorf("got event text %q, expected %q", ev.Text, text)
	}
}

func TestEdit_ReportsDroppedBatch(t *testing.T) {
	h := newTestHost("abc")
	h.Record(insertAt(t, 10, 0, "Y"))

	rec := &recorder{}
	h.Subscribe(rec.listen)

	if err := h.Edit(insertAt(t, 3, 3, "!")); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if got := h.Text(); got != "abc!" {
		t.Errorf("got != want; got = %q, expected = %q\n", got, "abc!")
	}

	got := make([]EventKind, 0, rec.len())
	for _, ev := range rec.events {
		got = append(got, ev.Kind)
	}
	if diff := cmp.Diff([]EventKind{ReconcileFailed, DocChanged}, got); diff != "" {
		t.Errorf("event kinds, diff: %v", diff)
	}
	if !errors.Is(rec.events[0].Err, ErrReconcile) {
		t.Errorf("got event err = %v, expected %v", rec.events[0].Err, ErrReconcile)
	}
}

func TestReceiveUpdates_ReportsDroppedBatch(t *testing.T) {
	h := newTestHost("abc")
	h.Record(insertAt(t, 10, 0, "Y"))

	rec := &recorder{}
	h.Subscribe(rec.listen)

	other := commons.Update{ClientID: "other", Changes: insertAt(t, 3, 0, "X")}
	if err := h.ReceiveUpdates([]commons.Update{other}); err != nil {
		t.Fatalf("ReceiveUpdates: %v", err)
	}
	if got := h.Text(); got != "Xabc" {
		t.Errorf("got != want; got = %q, expected = %q\n", got, "Xabc")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 2 || rec.events[0].Kind != ReconcileFailed || rec.events[1].Kind != DocChanged {
		t.Fatalf("got events %+v, expected ReconcileFailed then DocChanged", rec.events)
	}
}

// TestReconcile_NoPartialBatch runs local edits next to two-changeset remote
// batches and checks that no listener ever sees half a batch.
func TestReconcile_NoPartialBatch(t *testing.T) {
	h := newTestHost("")

	var mu sync.Mutex
	var bad []string
	h.Subscribe(func(ev Event) {
		if strings.Count(ev.Text, "1") != strings.Count(ev.Text, "2") {
			mu.Lock()
			bad = append(bad, ev.Text)
			mu.Unlock()
		}
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			n := changeset.Len(h.Text())
			_ = h.Replace(n, n, "x")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			n := changeset.Len(h.Text())
			one, _ := changeset.Replace(n, 0, 0, "1")
			two, _ := changeset.Replace(n+1, 0, 0, "2")
			// Batches that lost a race with a local edit no longer fit and
			// are dropped whole.
			_ = h.ApplyRemote(one, two)
		}
	}()
	wg.Wait()

	if len(bad) > 0 {
		t.Errorf("listeners saw partial batches: %q", bad)
	}
	text := h.Text()
	if strings.Count(text, "1") != strings.Count(text, "2") {
		t.Errorf("final text holds a partial batch: %q", text)
	}
}

func TestReceiveUpdates(t *testing.T) {
	h := newTestHost("abc")
	h.SetSelection(Cursor(2))

	if err := h.Replace(3, 3, "!"); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	// Another client inserted at the start before our edit reached the relay.
	remote := commons.Update{ClientID: "other", Changes: insertAt(t, 3, 0, "X")}
	if err := h.ReceiveUpdates([]commons.Update{remote}); err != nil {
		t.Fatalf("ReceiveUpdates: %v", err)
	}

	if got := h.Text(); got != "Xabc!" {
		t.Errorf("got != want; got = %q, expected = %q\n", got, "Xabc!")
	}
	if got := h.Version(); got != 1 {
		t.Errorf("got != want; got = %v, expected = %v\n", got, 1)
	}
	if diff := cmp.Diff(Cursor(3), h.Selection()); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s", diff)
	}

	// The pending edit now applies on top of version 1.
	pending := h.PendingUpdates()
	if len(pending) != 1 {
		t.Fatalf("got %d pending updates, expected 1", len(pending))
	}
	if got, err := pending[0].Changes.Apply("Xabc"); err != nil || got != "Xabc!" {
		t.Errorf("pending update applied to %q, err = %v", got, err)
	}

	// The relay hands our own update back; it only confirms.
	rec := &recorder{}
	h.Subscribe(rec.listen)
	if err := h.ReceiveUpdates(pending); err != nil {
		t.Fatalf("ReceiveUpdates: %v", err)
	}
	if got := h.Text(); got != "Xabc!" {
		t.Errorf("got != want; got = %q, expected = %q\n", got, "Xabc!")
	}
	if got := h.Version(); got != 2 {
		t.Errorf("got != want; got = %v, expected = %v\n", got, 2)
	}
	if got := len(h.PendingUpdates()); got != 0 {
		t.Errorf("got %d pending updates, expected none", got)
	}
	if got := rec.len(); got != 0 {
		t.Errorf("confirmation emitted %d events", got)
	}
}

// TestReceiveUpdates_Interleaved receives our own update after a remote one
// that the relay accepted first.
func TestReceiveUpdates_Interleaved(t *testing.T) {
	h := newTestHost("abc")

	if err := h.Replace(3, 3, "!"); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	updates := []commons.Update{
		{ClientID: "other", Changes: insertAt(t, 3, 0, "X")},
		{ClientID: "me", Changes: insertAt(t, 4, 4, "!")},
	}
	if err := h.ReceiveUpdates(updates); err != nil {
		t.Fatalf("ReceiveUpdates: %v", err)
	}

	if got := h.Text(); got != "Xabc!" {
		t.Errorf("got != want; got = %q, expected = %q\n", got, "Xabc!")
	}
	version, pending := h.Unconfirmed()
	if version != 2 || len(pending) != 0 {
		t.Errorf("got version %d with %d pending, expected 2 with none", version, len(pending))
	}
}

func TestReceiveUpdates_Malformed(t *testing.T) {
	h := newTestHost("abc")

	bad := commons.Update{ClientID: "other", Changes: insertAt(t, 7, 0, "X")}
	err := h.ReceiveUpdates([]commons.Update{bad})
	if !errors.Is(err, ErrReconcile) {
		t.Fatalf("got err = %v, expected %v", err, ErrReconcile)
	}
	if got := h.Text(); got != "abc" {
		t.Errorf("got != want; got = %q, expected = %q\n", got, "abc")
	}
	if got := h.Version(); got != 0 {
		t.Errorf("got != want; got = %v, expected = %v\n", got, 0)
	}
}

func TestSetAltKeymap(t *testing.T) {
	h := newTestHost("abc")
	h.SetSelection(Cursor(1))
	rec := &recorder{}
	h.Subscribe(rec.listen)

	h.SetAltKeymap(true)
	h.SetAltKeymap(true)

	if !h.AltKeymap() {
		t.Errorf("alternate keymap is off")
	}
	if got := rec.len(); got != 1 {
		t.Fatalf("got %d events, expected 1", got)
	}
	ev := rec.events[0]
	if ev.Kind != Reconfigured || !ev.AltKeymap || ev.Text != "abc" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if diff := cmp.Diff(Cursor(1), h.Selection()); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscribe_Cancel(t *testing.T) {
	h := newTestHost("")
	rec := &recorder{}
	cancel := h.Subscribe(rec.listen)

	_ = h.Replace(0, 0, "a")
	cancel()
	_ = h.Replace(1, 1, "b")

	if diff := cmp.Diff([]string{"a"}, rec.texts()); diff != "" {
		t.Errorf("event texts mismatch (-want +got):\n%s", diff)
	}
}

func TestCursor(t *testing.T) {
	h := newTestHost("ab\ncd")
	h.SetSelection(Cursor(4))

	line, col := h.Cursor()
	if line.Number != 2 || line.From != 3 || col != 1 {
		t.Errorf("got line %+v col %d, expected line 2 from 3 col 1", line, col)
	}
}
