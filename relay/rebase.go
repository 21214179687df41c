package relay

import (
	"fmt"

	"github.com/burntcarrot/mirrorpad/changeset"
	"github.com/burntcarrot/mirrorpad/commons"
)

// RebaseUpdates rewrites updates, made against the document before over, so
// they apply after over. Each update is rebased over everything in over plus
// the already rebased updates before it in the batch.
//
// Leading updates that match the next entries of over by client ID are
// updates the relay already accepted (a client resending after losing the
// reply); they are dropped instead of being applied twice.
func RebaseUpdates(updates, over []commons.Update) ([]commons.Update, error) {
	if len(over) == 0 || len(updates) == 0 {
		return updates, nil
	}

	var (
		changes changeset.ChangeSet
		have    bool
		skip    int
	)
	for i, u := range over {
		if skip < len(updates) && updates[skip].ClientID == u.ClientID {
			if have {
				mapped, err := changeset.Map(changes, updates[skip].Changes, true)
				if err != nil {
					return nil, fmt.Errorf("history %d: %w", i, err)
				}
				changes = mapped
			}
			skip++
			continue
		}
		if !have {
			changes, have = u.Changes, true
			continue
		}
		composed, err := changeset.Compose(changes, u.Changes)
		if err != nil {
			return nil, fmt.Errorf("history %d: %w", i, err)
		}
		changes = composed
	}

	updates = updates[skip:]
	if !have {
		return updates, nil
	}

	out := make([]commons.Update, 0, len(updates))
	for i, u := range updates {
		mapped, err := changeset.Map(u.Changes, changes, false)
		if err != nil {
			return nil, fmt.Errorf("update %d: %w", i, err)
		}
		changes, err = changeset.Map(changes, u.Changes, true)
		if err != nil {
			return nil, fmt.Errorf("update %d: %w", i, err)
		}
		out = append(out, commons.Update{ClientID: u.ClientID, Changes: mapped})
	}
	return out, nil
}
