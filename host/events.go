package host

import "github.com/burntcarrot/mirrorpad/changeset"

// EventKind identifies what a listener is being told.
type EventKind uint8

const (
	// DocChanged is sent after every change of the live document.
	DocChanged EventKind = iota

	// Reconfigured is sent when the keybinding mode changes.
	Reconfigured

	// ReconcileFailed is sent when recorded changes could not be applied and
	// were dropped. Err holds the cause; the live document is unchanged.
	ReconcileFailed
)

// Event is delivered to listeners after a mutation has been committed.
type Event struct {
	Kind EventKind

	// Text is the full document after the change.
	Text string

	// Changes is the changeset that produced Text. Empty for Reconfigured.
	Changes changeset.ChangeSet

	// Remote is set when the change came from reconciliation rather than a
	// local edit.
	Remote bool

	// AltKeymap is the keybinding mode after a Reconfigured event.
	AltKeymap bool

	// Err is set for ReconcileFailed.
	Err error
}

// Subscribe registers fn to receive events and returns a function removing it.
// Listeners run in mutation order and must not mutate the host themselves;
// hand the event to another goroutine instead.
func (h *Host) Subscribe(fn func(Event)) (cancel func()) {
	h.lmu.Lock()
	defer h.lmu.Unlock()

	id := h.nextID
	h.nextID++
	h.listeners[id] = fn

	return func() {
		h.lmu.Lock()
		defer h.lmu.Unlock()
		delete(h.listeners, id)
	}
}

// emitAndUnlock releases h.mu and delivers events. The dispatch lock is
// taken before h.mu is released so listeners observe mutations in order.
func (h *Host) emitAndUnlock(events ...Event) {
	h.dispatch.Lock()
	h.mu.Unlock()
	defer h.dispatch.Unlock()

	h.lmu.Lock()
	fns := make([]func(Event), 0, len(h.listeners))
	for id := 0; id < h.nextID; id++ {
		if fn, ok := h.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	h.lmu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}
