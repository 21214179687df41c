package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/mirrorpad/changeset"
	"github.com/burntcarrot/mirrorpad/commons"
	"github.com/burntcarrot/mirrorpad/relay"
)

type server struct {
	relay *relay.Relay
	log   logrus.FieldLogger

	// Upgrader instance to upgrade HTTP connections to a WebSocket.
	upgrader websocket.Upgrader

	// Currently active websocket connections.
	mu            sync.Mutex
	activeClients map[*websocket.Conn]uuid.UUID
}

func newServer(r *relay.Relay, log logrus.FieldLogger) *server {
	return &server{
		relay:         r,
		log:           log,
		activeClients: make(map[*websocket.Conn]uuid.UUID),
	}
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.handleConn)
	r.Methods(http.MethodGet).Path("/document").HandlerFunc(s.getDocument)
	r.Methods(http.MethodGet).Path("/updates").HandlerFunc(s.pullUpdates)
	r.Methods(http.MethodPost).Path("/updates").HandlerFunc(s.pushUpdates)
	return r
}

func (s *server) logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, w, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"url":      r.URL.String(),
			"duration": m.Duration,
			"status":   m.Code,
		}).Info("handled")
	})
}

func (s *server) getDocument(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.Document())
}

// pullUpdates long-polls; a client that goes away abandons its wait.
func (s *server) pullUpdates(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(r.URL.Query().Get("version"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid version: %v", err), http.StatusBadRequest)
		return
	}

	updates, err := s.relay.Pull(r.Context(), version)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updates)
}

func (s *server) pushUpdates(w http.ResponseWriter, r *http.Request) {
	var req commons.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid push: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.relay.Push(r.Context(), req.Version, req.Updates); err != nil {
		s.writeError(w, err)
		return
	}
	s.report(req.Version, req.Updates)
	writeJSON(w, http.StatusOK, true)
}

// handleConn serves the request/reply protocol on a websocket. Pulls wait in
// their own goroutines so a waiting pull does not hold up other requests;
// everything else is handled in the order it arrives.
func (s *server) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Error("Error upgrading connection to websocket")
		return
	}
	defer conn.Close()

	id := uuid.New()
	s.mu.Lock()
	s.activeClients[conn] = id
	s.mu.Unlock()

	log := s.log.WithField("conn", id)
	color.Yellow("%s >> connection %v opened", time.Now().Format(time.ANSIC), id)

	// The connection context ends every pending pull once the client is gone.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Channel for replies, drained by a single writer.
	messageChan := make(chan commons.Message)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-messageChan:
				if err := conn.WriteJSON(msg); err != nil {
					log.WithError(err).Error("Error sending message to client")
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	send := func(msg commons.Message) {
		select {
		case messageChan <- msg:
		case <-ctx.Done():
		}
	}

	wg := new(sync.WaitGroup)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.WithError(err).Debug("read failed")
			break
		}

		msg, err := decodeMessage(data)
		if err != nil {
			send(commons.Fail(msg, err))
			continue
		}

		if msg.Type == commons.PullUpdatesMessage {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if reply, ok := s.handleMsg(ctx, msg); ok {
					send(reply)
				}
			}()
			continue
		}
		if reply, ok := s.handleMsg(ctx, msg); ok {
			send(reply)
		}
	}

	cancel()
	wg.Wait()
	<-writerDone

	s.mu.Lock()
	delete(s.activeClients, conn)
	s.mu.Unlock()
	color.Yellow("%s >> connection %v closed", time.Now().Format(time.ANSIC), id)
}

// handleMsg answers one request. It reports false when there is nobody left
// to answer.
func (s *server) handleMsg(ctx context.Context, msg commons.Message) (commons.Message, bool) {
	var (
		value interface{}
		err   error
	)

	switch msg.Type {
	case commons.GetDocumentMessage:
		value = s.relay.Document()
	case commons.PullUpdatesMessage:
		value, err = s.relay.Pull(ctx, msg.Version)
		if err != nil && ctx.Err() != nil {
			return commons.Message{}, false
		}
	case commons.PushUpdatesMessage:
		if err = s.relay.Push(ctx, msg.Version, msg.Updates); err == nil {
			s.report(msg.Version, msg.Updates)
			value = true
		}
	default:
		err = fmt.Errorf("unknown message type %q", msg.Type)
	}

	if err != nil {
		s.log.WithError(err).WithField("type", msg.Type).Warn("request failed")
		return commons.Fail(msg, err), true
	}

	reply, err := commons.Reply(msg, value)
	if err != nil {
		return commons.Fail(msg, err), true
	}
	return reply, true
}

// report prints accepted pushes to the console.
func (s *server) report(base int, updates []commons.Update) {
	t := time.Now().Format(time.ANSIC)
	for _, u := range updates {
		color.Green("%s >> %s %s (base %d)\n", t, u.ClientID, u.Changes, base)
	}
}

// closeConns closes every active websocket connection.
func (s *server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.activeClients {
		conn.Close()
	}
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relay.ErrFutureBase),
		errors.Is(err, relay.ErrFutureVersion),
		errors.Is(err, relay.ErrNegativeVersion),
		errors.Is(err, relay.ErrMalformedChangeset):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, context.Canceled):
		// The client is gone.
	default:
		s.log.WithError(err).Error("request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// decodeMessage parses a request. When the body is malformed the returned
// message still carries the request's ID if it could be read, so the error
// can be answered.
func decodeMessage(data []byte) (commons.Message, error) {
	var msg commons.Message
	err := json.Unmarshal(data, &msg)
	if err == nil {
		return msg, nil
	}

	var head struct {
		ID uuid.UUID `json:"id"`
	}
	_ = json.Unmarshal(data, &head)
	if errors.Is(err, changeset.ErrMalformed) {
		err = fmt.Errorf("%w: %v", relay.ErrMalformedChangeset, err)
	}
	return commons.Message{ID: head.ID}, err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
