package commons

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/burntcarrot/mirrorpad/changeset"
)

func TestMessage_PushRequestWireFormat(t *testing.T) {
	cs, err := changeset.Replace(5, 5, 5, "!")
	if err != nil {
		t.Fatal(err)
	}
	req := NewRequest(PushUpdatesMessage)
	req.Version = 3
	req.Updates = []Update{{ClientID: "a", Changes: cs}}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]interface{}{
		"type":    "pushUpdates",
		"id":      req.ID.String(),
		"version": float64(3),
		"updates": []interface{}{
			map[string]interface{}{
				"clientID": "a",
				"changes":  []interface{}{float64(5), []interface{}{float64(0), "!"}},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wire format mismatch (-want +got):\n%s", diff)
	}

	var back Message
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if doc, err := back.Updates[0].Changes.Apply("hello"); err != nil || doc != "hello!" {
		t.Errorf("decoded changes applied to %q, err = %v", doc, err)
	}
}

func TestMessage_PullAtVersionZero(t *testing.T) {
	req := NewRequest(PullUpdatesMessage)

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]interface{}{
		"type":    "pullUpdates",
		"id":      req.ID.String(),
		"version": float64(0),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wire format mismatch (-want +got):\n%s", diff)
	}
}

func TestReplyAndFail(t *testing.T) {
	req := NewRequest(GetDocumentMessage)

	reply, err := Reply(req, Snapshot{Version: 2, Doc: "ab"})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if reply.Type != ReplyMessage || reply.ID != req.ID {
		t.Errorf("got reply %+v", reply)
	}
	var snap Snapshot
	if err := json.Unmarshal(reply.Payload, &snap); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if diff := cmp.Diff(Snapshot{Version: 2, Doc: "ab"}, snap); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}

	fail := Fail(req, errors.New("boom"))
	if fail.Type != ErrorMessage || fail.ID != req.ID || fail.Error != "boom" {
		t.Errorf("got error message %+v", fail)
	}
}
