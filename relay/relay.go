// Package relay holds the authoritative edit history of a shared document.
//
// Clients push changesets made against some version; pushes made against an
// older version are rebased over what was accepted in the meantime. Clients
// pull updates past a version and wait when there are none yet.
package relay

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/mirrorpad/commons"
)

var (
	// ErrFutureBase is returned when a push claims a base version the relay has not reached.
	ErrFutureBase = errors.New("push base version is ahead of history")

	// ErrFutureVersion is returned when a pull starts past the end of history.
	ErrFutureVersion = errors.New("pull version is ahead of history")

	// ErrNegativeVersion is returned when a pull or push names a version below 0.
	ErrNegativeVersion = errors.New("version is negative")

	// ErrMalformedChangeset is returned when a pushed changeset does not apply to the document.
	ErrMalformedChangeset = errors.New("malformed changeset")
)

// Snapshot is the document at a version.
type Snapshot = commons.Snapshot

// Relay is the single source of truth for one shared document.
type Relay struct {
	mu      sync.RWMutex
	updates []commons.Update
	doc     string
	waiters *list.List

	log logrus.FieldLogger
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger used by the relay.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Relay) {
		r.log = l
	}
}

// waiter is a pull that found nothing new. ch is buffered so the push that
// satisfies it never blocks.
type waiter struct {
	ch chan []commons.Update
}

// New returns a relay whose version 0 document is seed.
func New(seed string, opts ...Option) *Relay {
	r := &Relay{
		doc:     seed,
		waiters: list.New(),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Document returns the current version and text.
func (r *Relay) Document() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Snapshot{Version: len(r.updates), Doc: r.doc}
}

// Version returns the number of accepted updates.
func (r *Relay) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.updates)
}

// Waiting returns the number of pulls currently waiting for updates.
func (r *Relay) Waiting() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.waiters.Len()
}

// Pull returns the updates accepted since the given version. When there are
// none it waits until a push appends some or ctx is done; an abandoned wait
// is removed without affecting history or other waiters.
func (r *Relay) Pull(ctx context.Context, since int) ([]commons.Update, error) {
	if since < 0 {
		return nil, fmt.Errorf("%w: pull from %d", ErrNegativeVersion, since)
	}

	r.mu.Lock()
	if since > len(r.updates) {
		n := len(r.updates)
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: pull from %d, history has %d", ErrFutureVersion, since, n)
	}
	if since < len(r.updates) {
		out := append([]commons.Update(nil), r.updates[since:]...)
		r.mu.Unlock()
		return out, nil
	}

	w := &waiter{ch: make(chan []commons.Update, 1)}
	elem := r.waiters.PushBack(w)
	r.mu.Unlock()

	r.log.WithField("version", since).Debug("pull waiting")

	select {
	case updates := <-w.ch:
		return updates, nil
	case <-ctx.Done():
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// A push may have released the waiter while ctx was being cancelled.
	select {
	case updates := <-w.ch:
		return updates, nil
	default:
	}
	r.waiters.Remove(elem)
	r.log.WithField("version", since).Debug("pull abandoned")
	return nil, ctx.Err()
}

// Push appends updates made against history[:base]. Updates made against an
// older version are rebased over the updates accepted since. Either every
// update is accepted or none is.
func (r *Relay) Push(ctx context.Context, base int, updates []commons.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if base < 0 {
		return fmt.Errorf("%w: push base %d", ErrNegativeVersion, base)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if base > len(r.updates) {
		return fmt.Errorf("%w: base %d, history has %d", ErrFutureBase, base, len(r.updates))
	}

	stale := base != len(r.updates)
	received := updates
	if stale {
		// Validate against the document the client saw before rebasing, so a
		// malformed changeset is not reported as a rebase failure.
		if err := checkLengths(r.baseLength(base), updates); err != nil {
			return err
		}
		rebased, err := RebaseUpdates(updates, r.updates[base:])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedChangeset, err)
		}
		received = rebased
	}

	doc := r.doc
	for i, u := range received {
		next, err := u.Changes.Apply(doc)
		if err != nil {
			return fmt.Errorf("%w: update %d from %s: %v", ErrMalformedChangeset, i, u.ClientID, err)
		}
		doc = next
	}

	if len(received) == 0 {
		return nil
	}

	r.updates = append(r.updates, received...)
	r.doc = doc

	r.log.WithFields(logrus.Fields{
		"base":     base,
		"accepted": len(received),
		"version":  len(r.updates),
		"rebased":  stale,
	}).Info("updates accepted")

	r.notify(received)
	return nil
}

// notify hands the batch to every waiter, oldest first. Caller holds r.mu.
func (r *Relay) notify(batch []commons.Update) {
	for e := r.waiters.Front(); e != nil; e = r.waiters.Front() {
		w := r.waiters.Remove(e).(*waiter)
		w.ch <- append([]commons.Update(nil), batch...)
	}
}

// baseLength returns the document length at version base by walking back
// from the current document. Caller holds r.mu.
func (r *Relay) baseLength(base int) int {
	n := len([]rune(r.doc))
	for i := len(r.updates) - 1; i >= base; i-- {
		n = r.updates[i].Changes.LenBefore()
	}
	return n
}

// checkLengths verifies that updates chain from a document of length n.
func checkLengths(n int, updates []commons.Update) error {
	for i, u := range updates {
		if u.Changes.LenBefore() != n {
			return fmt.Errorf("%w: update %d from %s expects length %d, document has %d",
				ErrMalformedChangeset, i, u.ClientID, u.Changes.LenBefore(), n)
		}
		n = u.Changes.LenAfter()
	}
	return nil
}
