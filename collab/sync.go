package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/mirrorpad/host"
)

// Join fetches the relay's document and returns a host editing it at the
// relay's version.
func Join(ctx context.Context, conn Conn, opts ...host.Option) (*host.Host, error) {
	snap, err := conn.Document(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	return host.New(snap.Doc, append([]host.Option{host.WithVersion(snap.Version)}, opts...)...), nil
}

// Sync keeps h and the relay in step until ctx is done or the connection
// fails. Local edits are pushed as they happen; remote updates are pulled
// and received into h. Pushes the relay rejects are logged and retried once
// a pull moved h to a newer version, or sooner when h is edited again.
func Sync(ctx context.Context, h *host.Host, conn Conn, opts ...Option) error {
	o := buildOptions(opts)
	log := o.log.WithField("client", h.ClientID())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	kick := make(chan struct{}, 1)
	unsubscribe := h.Subscribe(func(ev host.Event) {
		if ev.Kind == host.DocChanged && !ev.Remote {
			signal(kick)
		}
	})
	defer unsubscribe()

	// Edits made before Sync started.
	kick <- struct{}{}

	log.WithField("version", h.Version()).Info("syncing")

	errs := make(chan error, 2)
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- pullLoop(ctx, h, conn, kick, log)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- pushLoop(ctx, h, conn, kick, log)
	}()

	err := <-errs
	cancel()
	wg.Wait()
	return err
}

// signal wakes the push loop without blocking.
func signal(kick chan<- struct{}) {
	select {
	case kick <- struct{}{}:
	default:
	}
}

func pullLoop(ctx context.Context, h *host.Host, conn Conn, kick chan<- struct{}, log logrus.FieldLogger) error {
	for {
		version := h.Version()
		updates, err := conn.Pull(ctx, version)
		if err != nil {
			return fmt.Errorf("pull from %d: %w", version, err)
		}
		if err := h.ReceiveUpdates(updates); err != nil {
			return fmt.Errorf("receive updates from %d: %w", version, err)
		}
		if len(updates) > 0 {
			// Pending updates, including rejected ones, now apply to a newer
			// version.
			signal(kick)
		}
		log.WithFields(logrus.Fields{
			"from":    version,
			"updates": len(updates),
		}).Debug("pulled")
	}
}

func pushLoop(ctx context.Context, h *host.Host, conn Conn, kick <-chan struct{}, log logrus.FieldLogger) error {
	// What was last pushed. Pending updates stay unconfirmed until they come
	// back through a pull, so the same state is not pushed twice.
	lastVersion, lastCount := -1, 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-kick:
		}

		version, pending := h.Unconfirmed()
		if len(pending) == 0 || (version == lastVersion && len(pending) == lastCount) {
			continue
		}

		err := conn.Push(ctx, version, pending)
		lastVersion, lastCount = version, len(pending)
		switch {
		case err == nil:
			log.WithFields(logrus.Fields{
				"version": version,
				"updates": len(pending),
			}).Debug("pushed")
		case errors.Is(err, ErrRejected):
			log.WithError(err).WithField("version", version).Warn("push rejected")
		default:
			return fmt.Errorf("push at %d: %w", version, err)
		}
	}
}
