// Package collab connects a host.Host to a relay: a websocket client speaking
// the relay's request/reply protocol, and the loop pushing local updates and
// pulling remote ones.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/mirrorpad/commons"
)

var (
	// ErrClosed is returned for requests on a connection that has gone away.
	ErrClosed = errors.New("connection closed")

	// ErrRejected is returned when the relay answers a request with an error.
	ErrRejected = errors.New("request rejected by relay")
)

// Conn is the relay as seen by a collaborating editor.
type Conn interface {
	Document(ctx context.Context) (commons.Snapshot, error)
	Pull(ctx context.Context, version int) ([]commons.Update, error)
	Push(ctx context.Context, version int, updates []commons.Update) error
}

// Client talks to a relay over one websocket connection. Requests may be
// issued concurrently; replies are matched to requests by ID.
type Client struct {
	conn *websocket.Conn

	// wmu serialises writes, gorilla/websocket allows one writer at a time.
	wmu sync.Mutex

	mu      sync.Mutex
	pending map[uuid.UUID]chan commons.Message
	err     error
	done    chan struct{}

	log logrus.FieldLogger
}

// Option configures a Client or a Sync loop.
type Option func(*options)

type options struct {
	log logrus.FieldLogger
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Dial connects to the relay's websocket endpoint at addr (host:port).
func Dial(ctx context.Context, addr string, secure bool, opts ...Option) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	if secure {
		u.Scheme = "wss"
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 2 * time.Minute,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	return NewClient(conn, opts...), nil
}

// NewClient wraps an established connection and starts reading replies.
func NewClient(conn *websocket.Conn, opts ...Option) *Client {
	o := buildOptions(opts)
	c := &Client{
		conn:    conn,
		pending: make(map[uuid.UUID]chan commons.Message),
		done:    make(chan struct{}),
		log:     o.log,
	}
	go c.readLoop()
	return c
}

// Close closes the connection. Requests waiting for replies fail with ErrClosed.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Document fetches the relay's current version and text.
func (c *Client) Document(ctx context.Context) (commons.Snapshot, error) {
	var snap commons.Snapshot
	err := c.request(ctx, commons.NewRequest(commons.GetDocumentMessage), &snap)
	return snap, err
}

// Pull returns the updates after version, waiting for some if there are none.
func (c *Client) Pull(ctx context.Context, version int) ([]commons.Update, error) {
	req := commons.NewRequest(commons.PullUpdatesMessage)
	req.Version = version

	var updates []commons.Update
	err := c.request(ctx, req, &updates)
	return updates, err
}

// Push sends updates made against version.
func (c *Client) Push(ctx context.Context, version int, updates []commons.Update) error {
	req := commons.NewRequest(commons.PushUpdatesMessage)
	req.Version = version
	req.Updates = updates

	var ok bool
	if err := c.request(ctx, req, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: push at %d not accepted", ErrRejected, version)
	}
	return nil
}

func (c *Client) request(ctx context.Context, req commons.Message, out interface{}) error {
	ch := make(chan commons.Message, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	c.wmu.Lock()
	err := c.conn.WriteJSON(req)
	c.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrClosed, req.Type, err)
	}

	select {
	case reply := <-ch:
		if reply.Type == commons.ErrorMessage {
			return fmt.Errorf("%w: %s", ErrRejected, reply.Error)
		}
		if err := json.Unmarshal(reply.Payload, out); err != nil {
			return fmt.Errorf("decode %s reply: %w", req.Type, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.err
	}
}

// readLoop hands every reply to the request waiting for it.
func (c *Client) readLoop() {
	for {
		var msg commons.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			c.err = fmt.Errorf("%w: %v", ErrClosed, err)
			c.mu.Unlock()
			close(c.done)
			c.log.WithError(err).Debug("relay connection closed")
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if !ok {
			// The request was abandoned.
			c.log.WithField("id", msg.ID).Debug("dropping reply")
			continue
		}
		ch <- msg
	}
}
