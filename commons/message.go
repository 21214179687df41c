package commons

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Message represents the envelope sent over the wire.
//
// Requests carry a Type and an ID; the relay answers on the same connection
// with a reply (or error) message carrying the request's ID.
type Message struct {
	Type MessageType `json:"type"`

	// ID correlates a reply with its request.
	ID uuid.UUID `json:"id"`

	// Version is the version a pull starts from, or the base version of a push.
	// It is always sent since 0 is a valid version.
	Version int `json:"version"`

	// Updates are the changes being pushed.
	Updates []Update `json:"updates,omitempty"`

	// Payload holds the reply value: an update list for pulls, a boolean for
	// pushes and a Snapshot for document requests.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Error describes why a request failed.
	Error string `json:"error,omitempty"`
}

// MessageType represents the type of the message.
type MessageType string

// The relay understands three requests:
// - pullUpdates (updates since a version, waits if there are none)
// - pushUpdates (new updates made against a version)
// - getDocument (current text and version)
// and answers with reply or error messages.

const (
	PullUpdatesMessage MessageType = "pullUpdates"
	PushUpdatesMessage MessageType = "pushUpdates"
	GetDocumentMessage MessageType = "getDocument"
	ReplyMessage       MessageType = "reply"
	ErrorMessage       MessageType = "error"
)

// NewRequest returns a request message with a fresh ID.
func NewRequest(t MessageType) Message {
	return Message{Type: t, ID: uuid.New()}
}

// Reply builds the reply message to req.
func Reply(req Message, value interface{}) (Message, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: ReplyMessage, ID: req.ID, Payload: payload}, nil
}

// Fail builds the error message answering req.
func Fail(req Message, err error) Message {
	return Message{Type: ErrorMessage, ID: req.ID, Error: err.Error()}
}

// PushRequest is the HTTP body of a push.
type PushRequest struct {
	Version int      `json:"version"`
	Updates []Update `json:"updates"`
}
