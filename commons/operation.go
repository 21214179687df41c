package commons

import "github.com/burntcarrot/mirrorpad/changeset"

// Update is the unit appended to the relay's history: one changeset and the
// session that produced it.
type Update struct {
	// ClientID identifies the originating session, not necessarily a user.
	ClientID string `json:"clientID"`

	// Changes is the changeset, serialized in its section form.
	Changes changeset.ChangeSet `json:"changes"`
}

// Snapshot is the reply to a getDocument request.
type Snapshot struct {
	Version int    `json:"version"`
	Doc     string `json:"doc"`
}
