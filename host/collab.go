package host

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/mirrorpad/changeset"
	"github.com/burntcarrot/mirrorpad/commons"
)

// Version returns the relay version the host has caught up with.
func (h *Host) Version() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.version
}

// PendingUpdates returns the local updates the relay has not confirmed, in
// the order they were made. They apply to the document at Version.
func (h *Host) PendingUpdates() []commons.Update {
	_, updates := h.Unconfirmed()
	return updates
}

// Unconfirmed returns Version and PendingUpdates read together, ready to be
// pushed.
func (h *Host) Unconfirmed() (int, []commons.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.version, append([]commons.Update(nil), h.unconfirmed...)
}

// ReceiveUpdates takes updates pulled from the relay, starting at Version.
// Updates carrying the host's client ID confirm pending local updates in
// order. The others are rebased over the still unconfirmed local edits and
// reconciled into the live document; the unconfirmed edits are rebased over
// them in turn. Nothing changes if any update fails to apply.
func (h *Host) ReceiveUpdates(updates []commons.Update) error {
	h.mu.Lock()

	// Changes recorded before these updates arrived go live first. A batch
	// that does not apply is dropped and reported as a ReconcileFailed event.
	events, _ := h.reconcileLocked()

	var (
		changes changeset.ChangeSet
		have    bool
		own     int
		err     error
	)
	for i, u := range updates {
		if own < len(h.unconfirmed) && u.ClientID == h.clientID {
			if have {
				// changes must now start from the document including our update.
				if changes, err = changeset.Map(changes, h.unconfirmed[own].Changes, true); err != nil {
					h.emitAndUnlock(events...)
					return fmt.Errorf("%w: update %d: %v", ErrReconcile, i, err)
				}
			}
			own++
			continue
		}
		if !have {
			changes, have = u.Changes, true
			continue
		}
		if changes, err = changeset.Compose(changes, u.Changes); err != nil {
			h.emitAndUnlock(events...)
			return fmt.Errorf("%w: update %d: %v", ErrReconcile, i, err)
		}
	}
	unconfirmed := h.unconfirmed[own:]

	if !have {
		h.version += len(updates)
		h.unconfirmed = append([]commons.Update(nil), unconfirmed...)
		h.emitAndUnlock(events...)
		return nil
	}

	rebased := make([]commons.Update, 0, len(unconfirmed))
	for _, u := range unconfirmed {
		mapped, err := changeset.Map(u.Changes, changes, false)
		if err != nil {
			h.emitAndUnlock(events...)
			return fmt.Errorf("%w: %v", ErrReconcile, err)
		}
		if changes, err = changeset.Map(changes, u.Changes, true); err != nil {
			h.emitAndUnlock(events...)
			return fmt.Errorf("%w: %v", ErrReconcile, err)
		}
		rebased = append(rebased, commons.Update{ClientID: u.ClientID, Changes: mapped})
	}

	next, err := changes.Apply(h.doc)
	if err != nil {
		h.emitAndUnlock(events...)
		return fmt.Errorf("%w: %v", ErrReconcile, err)
	}

	h.recorded = append(h.recorded, changes)
	h.applied = len(h.recorded)
	h.doc = next
	h.sel = h.sel.mapThrough(changes, -1)
	h.version += len(updates)
	h.unconfirmed = rebased

	h.log.WithFields(logrus.Fields{
		"confirmed": own,
		"remote":    len(updates) - own,
		"version":   h.version,
		"pending":   len(rebased),
	}).Debug("updates received")

	h.emitAndUnlock(append(events, Event{Kind: DocChanged, Text: next, Changes: changes, Remote: true})...)
	return nil
}
