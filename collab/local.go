package collab

import (
	"context"
	"errors"
	"fmt"

	"github.com/burntcarrot/mirrorpad/commons"
	"github.com/burntcarrot/mirrorpad/relay"
)

// Local serves a relay in the same process, for editors embedded next to it.
type Local struct {
	Relay *relay.Relay
}

func (l Local) Document(context.Context) (commons.Snapshot, error) {
	return l.Relay.Document(), nil
}

func (l Local) Pull(ctx context.Context, version int) ([]commons.Update, error) {
	updates, err := l.Relay.Pull(ctx, version)
	return updates, rejected(err)
}

func (l Local) Push(ctx context.Context, version int, updates []commons.Update) error {
	return rejected(l.Relay.Push(ctx, version, updates))
}

// rejected marks relay errors the way a remote relay's error replies are marked.
func rejected(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrRejected, err)
}
