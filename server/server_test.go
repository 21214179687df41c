package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/mirrorpad/changeset"
	"github.com/burntcarrot/mirrorpad/collab"
	"github.com/burntcarrot/mirrorpad/commons"
	"github.com/burntcarrot/mirrorpad/host"
	"github.com/burntcarrot/mirrorpad/relay"
)

const seed = "Start document"

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestServer(t *testing.T) (*httptest.Server, *relay.Relay) {
	t.Helper()
	r := relay.New(seed, relay.WithLogger(quietLogger()))
	ts := httptest.NewServer(newServer(r, quietLogger()).routes())
	t.Cleanup(ts.Close)
	return ts, r
}

func dial(t *testing.T, ts *httptest.Server) *collab.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := collab.Dial(ctx, strings.TrimPrefix(ts.URL, "http://"), false, collab.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, strings.TrimSpace(string(body))
}

func post(t *testing.T, url, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, strings.TrimSpace(string(out))
}

func TestHTTP_GetDocument(t *testing.T) {
	ts, _ := newTestServer(t)

	status, body := get(t, ts.URL+"/document")
	if status != http.StatusOK {
		t.Fatalf("got status %d", status)
	}
	if diff := cmp.Diff(`{"version":0,"doc":"Start document"}`, body); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestHTTP_PushThenPull(t *testing.T) {
	ts, r := newTestServer(t)

	status, body := post(t, ts.URL+"/updates",
		`{"version":0,"updates":[{"clientID":"a","changes":[14,[0," here"]]}]}`)
	if status != http.StatusOK || body != "true" {
		t.Fatalf("got %d %q, expected 200 true", status, body)
	}

	status, body = get(t, ts.URL+"/updates?version=0")
	if status != http.StatusOK {
		t.Fatalf("got status %d", status)
	}
	if diff := cmp.Diff(`[{"clientID":"a","changes":[14,[0," here"]]}]`, body); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}

	if got := r.Document(); got.Version != 1 || got.Doc != "Start document here" {
		t.Errorf("got document %+v", got)
	}
}

func TestHTTP_BadRequests(t *testing.T) {
	ts, r := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"future version", http.MethodGet, "/updates?version=5", ""},
		{"missing version", http.MethodGet, "/updates", ""},
		{"future base", http.MethodPost, "/updates", `{"version":3,"updates":[]}`},
		{"wrong length", http.MethodPost, "/updates", `{"version":0,"updates":[{"clientID":"a","changes":[3]}]}`},
		{"malformed changeset", http.MethodPost, "/updates", `{"version":0,"updates":[{"clientID":"a","changes":[[-1]]}]}`},
		{"overflowing lengths", http.MethodPost, "/updates", `{"version":0,"updates":[{"clientID":"a","changes":[9223372036854775807,[9223372036854775807],5]}]}`},
		{"negative version", http.MethodGet, "/updates?version=-1", ""},
		{"negative base", http.MethodPost, "/updates", `{"version":-1,"updates":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var status int
			if tt.method == http.MethodGet {
				status, _ = get(t, ts.URL+tt.path)
			} else {
				status, _ = post(t, ts.URL+tt.path, tt.body)
			}
			if status != http.StatusBadRequest {
				t.Errorf("got status %d, expected %d", status, http.StatusBadRequest)
			}
		})
	}

	if got := r.Document(); got.Version != 0 || got.Doc != seed {
		t.Errorf("rejected requests changed the document: %+v", got)
	}
}

func TestWebsocket_RequestReply(t *testing.T) {
	ts, _ := newTestServer(t)
	c := dial(t, ts)
	ctx := context.Background()

	snap, err := c.Document(ctx)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if diff := cmp.Diff(commons.Snapshot{Version: 0, Doc: seed}, snap); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	cs, _ := changeset.Replace(changeset.Len(seed), 0, 5, "Begin")
	if err := c.Push(ctx, 0, []commons.Update{{ClientID: "a", Changes: cs}}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	updates, err := c.Pull(ctx, 0)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(updates) != 1 || updates[0].ClientID != "a" {
		t.Fatalf("got updates %v", updates)
	}

	snap, err = c.Document(ctx)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if diff := cmp.Diff(commons.Snapshot{Version: 1, Doc: "Begin document"}, snap); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestWebsocket_Rejected(t *testing.T) {
	ts, _ := newTestServer(t)
	c := dial(t, ts)

	err := c.Push(context.Background(), 7, nil)
	if !errors.Is(err, collab.ErrRejected) {
		t.Fatalf("got err = %v, expected %v", err, collab.ErrRejected)
	}

	// The connection keeps serving after an error reply.
	if _, err := c.Document(context.Background()); err != nil {
		t.Fatalf("Document: %v", err)
	}
}

func TestWebsocket_PullWaitsForPush(t *testing.T) {
	ts, r := newTestServer(t)
	c := dial(t, ts)

	got := make(chan []commons.Update, 1)
	go func() {
		updates, err := c.Pull(context.Background(), 0)
		if err != nil {
			t.Errorf("Pull: %v", err)
		}
		got <- updates
	}()

	// Other requests are answered while the pull waits.
	if _, err := c.Document(context.Background()); err != nil {
		t.Fatalf("Document: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for r.Waiting() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("pull never started waiting")
		}
		time.Sleep(5 * time.Millisecond)
	}

	status, _ := post(t, ts.URL+"/updates",
		`{"version":0,"updates":[{"clientID":"b","changes":[[0,"> "],14]}]}`)
	if status != http.StatusOK {
		t.Fatalf("got status %d", status)
	}

	select {
	case updates := <-got:
		if len(updates) != 1 || updates[0].ClientID != "b" {
			t.Errorf("got updates %v", updates)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pull was not released")
	}
}

func TestWebsocket_DisconnectAbandonsPull(t *testing.T) {
	ts, r := newTestServer(t)
	c := dial(t, ts)

	go func() { _, _ = c.Pull(context.Background(), 0) }()

	deadline := time.Now().Add(5 * time.Second)
	for r.Waiting() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("pull never started waiting")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.Close()

	for r.Waiting() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("waiter left behind after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestSync_Converges runs two editors against the server and checks that
// concurrent edits end up in both.
func TestSync_Converges(t *testing.T) {
	ts, r := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hosts []*host.Host
	done := make(chan error, 2)
	for _, id := range []string{"left", "right"} {
		c := dial(t, ts)
		h, err := collab.Join(ctx, c, host.WithClientID(id), host.WithLogger(quietLogger()))
		if err != nil {
			t.Fatalf("Join: %v", err)
		}
		hosts = append(hosts, h)
		go func() { done <- collab.Sync(ctx, h, c, collab.WithLogger(quietLogger())) }()
	}

	if err := hosts[0].Replace(0, 0, "A"); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := hosts[1].Replace(14, 14, "B"); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	want := "AStart documentB"
	deadline := time.Now().Add(5 * time.Second)
	for hosts[0].Text() != want || hosts[1].Text() != want || r.Document().Doc != want {
		if time.Now().After(deadline) {
			t.Fatalf("no convergence: left %q, right %q, relay %q",
				hosts[0].Text(), hosts[1].Text(), r.Document().Doc)
		}
		time.Sleep(10 * time.Millisecond)
	}

	for deadline = time.Now().Add(5 * time.Second); ; {
		if len(hosts[0].PendingUpdates())+len(hosts[1].PendingUpdates()) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("local updates never confirmed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	for i := 0; i < 2; i++ {
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Sync returned %v, expected context.Canceled", err)
		}
	}
}
