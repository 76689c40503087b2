// Package socketio implements credential.Service over a socket.io
// connection. Requests are emitted as stream.generate and stream.extend
// events and answered asynchronously with stream.session events carrying the
// request id.
package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/streamgrid/internal/credential"
	"github.com/specialistvlad/streamgrid/internal/ctxlog"
)

// Event names of the wire protocol.
const (
	EventGenerate = "stream.generate"
	EventExtend   = "stream.extend"
	EventSession  = "stream.session"
)

// DefaultTimeout bounds a single request when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// ErrDisconnected fails requests still waiting when the connection drops.
var ErrDisconnected = errors.New("credential service disconnected")

type request struct {
	RequestID    string `json:"request_id"`
	EndpointID   string `json:"endpoint_id"`
	RenewalToken string `json:"renewal_token,omitempty"`
}

type sessionReply struct {
	RequestID      string    `json:"request_id"`
	BaseURL        string    `json:"base_url"`
	StreamToken    string    `json:"stream_token"`
	ExtensionToken string    `json:"extension_token"`
	ExpiresAt      time.Time `json:"expires_at"`
	Error          string    `json:"error"`
}

type result struct {
	reply sessionReply
	err   error
}

// Client correlates emitted requests with session replies.
type Client struct {
	ctx     context.Context
	emit    func(event string, payload any) error
	timeout time.Duration
	newID   func() string
	close   func()

	mu      sync.Mutex
	pending map[string]chan result
	closed  bool
}

var _ credential.Service = (*Client)(nil)

func newClient(ctx context.Context, timeout time.Duration, emit func(string, any) error) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		ctx:     ctx,
		emit:    emit,
		timeout: timeout,
		newID:   uuid.NewString,
		close:   func() {},
		pending: make(map[string]chan result),
	}
}

// Acquire requests a new session for the endpoint.
func (c *Client) Acquire(ctx context.Context, endpointID string) (credential.Session, error) {
	return c.do(ctx, credential.OpAcquire, EventGenerate, request{EndpointID: endpointID})
}

// Extend trades a renewal token for a fresh session.
func (c *Client) Extend(ctx context.Context, endpointID, renewalToken string) (credential.Session, error) {
	return c.do(ctx, credential.OpExtend, EventExtend, request{EndpointID: endpointID, RenewalToken: renewalToken})
}

// Close disconnects and fails every pending request.
func (c *Client) Close() {
	c.failPending(ErrDisconnected, true)
	c.close()
}

func (c *Client) do(ctx context.Context, op credential.Op, event string, req request) (credential.Session, error) {
	fail := func(err error) (credential.Session, error) {
		return credential.Session{}, &credential.Error{Op: op, Endpoint: req.EndpointID, Err: err}
	}

	req.RequestID = c.newID()
	ch := make(chan result, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fail(ErrDisconnected)
	}
	c.pending[req.RequestID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.RequestID)
		c.mu.Unlock()
	}()

	logger := ctxlog.FromContext(ctx).With("op", string(op), "endpoint", req.EndpointID, "request_id", req.RequestID)
	logger.Debug("Emitting credential request.", "event", event)
	if err := c.emit(event, req); err != nil {
		return fail(fmt.Errorf("emit %s: %w", event, err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case <-ctx.Done():
		return fail(ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return fail(res.err)
		}
		r := res.reply
		if r.Error != "" {
			return fail(fmt.Errorf("%w: %s", credential.ErrRejected, r.Error))
		}
		if r.BaseURL == "" || r.StreamToken == "" || r.ExpiresAt.IsZero() {
			return fail(fmt.Errorf("%w: incomplete session", credential.ErrRejected))
		}
		logger.Debug("Credential request answered.", "expires_at", r.ExpiresAt)
		return credential.Session{
			BaseLocation: r.BaseURL,
			AccessToken:  r.StreamToken,
			RenewalToken: r.ExtensionToken,
			ExpiresAt:    r.ExpiresAt,
		}, nil
	}
}

// handleSession routes a stream.session event to the request waiting for
// it. Payloads arrive either decoded into generic maps or as raw JSON.
func (c *Client) handleSession(data ...any) {
	logger := ctxlog.FromContext(c.ctx)
	if len(data) == 0 {
		logger.Warn("Ignoring empty session event.")
		return
	}

	var raw []byte
	switch v := data[0].(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			logger.Warn("Ignoring unencodable session event.", "error", err)
			return
		}
		raw = b
	}

	var reply sessionReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		logger.Warn("Ignoring malformed session event.", "error", err)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[reply.RequestID]
	c.mu.Unlock()
	if !ok {
		logger.Debug("Ignoring session event for unknown request.", "request_id", reply.RequestID)
		return
	}
	select {
	case ch <- result{reply: reply}:
	default:
	}
}

// failPending fails every waiting request. With final set the client also
// rejects new requests.
func (c *Client) failPending(err error, final bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if final {
		c.closed = true
	}
	for _, ch := range c.pending {
		select {
		case ch <- result{err: err}:
		default:
		}
	}
}
