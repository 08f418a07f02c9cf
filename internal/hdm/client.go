package hdm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/muurk/hdmctl/internal/keys"
	"github.com/muurk/hdmctl/internal/logging"
	"github.com/muurk/hdmctl/internal/protocol"
	"github.com/muurk/hdmctl/internal/transport"
)

// DefaultRetryInterval is the first wait between connect attempts
const DefaultRetryInterval = 500 * time.Millisecond

// Client runs request/response exchanges with fiscal devices. Every call
// opens a fresh connection, logs in, sends one message and closes again.
type Client struct {
	manager        *transport.Manager
	errors         *protocol.ErrorTable
	observer       Observer
	connectRetries uint64
	retryInterval  time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithErrorTable replaces the status message table
func WithErrorTable(t *protocol.ErrorTable) Option {
	return func(c *Client) {
		if t != nil {
			c.errors = t
		}
	}
}

// WithObserver reports state transitions to o
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithConnectRetries retries retryable connect failures up to n times with
// exponential backoff starting at initial
func WithConnectRetries(n uint64, initial time.Duration) Option {
	return func(c *Client) {
		c.connectRetries = n
		if initial > 0 {
			c.retryInterval = initial
		}
	}
}

// NewClient creates a client using manager for its connections
func NewClient(manager *transport.Manager, opts ...Option) *Client {
	c := &Client{
		manager:       manager,
		errors:        protocol.DefaultErrorTable(),
		retryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Manager returns the connection manager the client uses
func (c *Client) Manager() *transport.Manager {
	return c.manager
}

// ErrorTable returns the status message table
func (c *Client) ErrorTable() *protocol.ErrorTable {
	return c.errors
}

// Do performs one exchange on the device's sales session: connect, log in,
// send code with payload, and read the answer if the code has one. The
// device sequence advances once for the login round trip and once more for
// the message itself. The
// transport is closed and the connection key cleared before Do returns,
// whatever the outcome. Every returned error is a *protocol.Error.
//
// payload is marshalled to JSON; pass json.RawMessage to send pre-encoded
// JSON. For CodeLogin the payload is ignored and the login itself is the
// exchange.
func (c *Client) Do(ctx context.Context, dev *Device, code protocol.Code, payload any) (*Response, error) {
	if err := dev.Validate(); err != nil {
		return nil, err
	}
	return c.do(ctx, dev, dev.sessionID(SessionKindPOS), code, payload)
}

func (c *Client) do(ctx context.Context, dev *Device, sessionID string, code protocol.Code, payload any) (resp *Response, err error) {
	unlockDevice := dev.lock()
	defer unlockDevice()
	unlockSession := c.manager.Lock(sessionID)
	defer unlockSession()

	// Sequence values are taken under the device lock, before the login
	// moves the counter
	sentSeq := 0
	if p, ok := payload.(sequenced); ok {
		sentSeq = p.assignSeq(dev.sequence())
	}

	var body []byte
	if code != protocol.CodeLogin {
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, &protocol.Error{
				Type:      protocol.ErrTypeConfig,
				Message:   "cannot encode request payload",
				SessionID: sessionID,
				Err:       err,
			}
		}
	}

	x := &exchange{
		observer:  c.observer,
		device:    dev.Name,
		sessionID: sessionID,
		code:      code,
	}
	x.enter(StateConnecting)

	// A leftover transport would carry a stale key
	if cerr := c.manager.Close(sessionID, dev); cerr != nil && !protocol.IsNoActiveConnection(cerr) {
		logging.Warn("Failed to close previous connection", zap.String("session_id", sessionID), zap.Error(cerr))
	}

	defer func() {
		if cerr := c.manager.Close(sessionID, dev); cerr != nil && !protocol.IsNoActiveConnection(cerr) {
			logging.Warn("Failed to close connection", zap.String("session_id", sessionID), zap.Error(cerr))
		}
		x.enter(StateClosed)

		if err != nil {
			logging.Error("HDM request failed",
				zap.String("session_id", sessionID),
				zap.String("code", code.String()),
				zap.Error(err),
			)
		}
	}()

	t, err := c.connect(ctx, dev, sessionID)
	if err != nil {
		return nil, err
	}

	x.enter(StateLoggingIn)
	if err := c.login(t, dev); err != nil {
		return nil, withSession(err, sessionID)
	}

	if code == protocol.CodeLogin {
		logging.Info("HDM login succeeded", zap.String("session_id", sessionID))
		return &Response{Code: code, Status: protocol.StatusOK, Seq: dev.sequence().Current()}, nil
	}

	x.enter(StateSending)
	sealed, err := keys.SealSession(dev.ConnectionKey(), body)
	if err != nil {
		if errors.Is(err, keys.ErrNoConnectionKey) {
			return nil, protocol.NewDecodeError("no connection key after login", err).WithSession(sessionID)
		}
		return nil, withSession(err, sessionID)
	}

	frame, err := protocol.EncodeRequest(code, sealed)
	if err != nil {
		return nil, (&protocol.Error{Type: protocol.ErrTypeConfig, Message: "request too large", Err: err}).WithSession(sessionID)
	}
	logging.LogFrame(sessionID, "sent", code.String(), frame)

	if err := t.Send(frame); err != nil {
		return nil, err
	}
	traceFrom(ctx).sent(Sent{Code: code, SessionID: sessionID, Seq: sentSeq, Payload: body})

	if !code.ExpectsResponse() {
		t.MarkRoundTrip()
		seq := dev.sequence().Advance()
		logging.Info("HDM message delivered",
			zap.String("session_id", sessionID),
			zap.String("code", code.String()),
			zap.Int("seq", seq),
		)
		return &Response{Code: code, Seq: seq}, nil
	}

	x.enter(StateAwaitingResponse)
	status, raw, err := t.ReadResponse()
	if err != nil {
		return nil, err
	}
	logging.LogRawBytes("response body", raw)

	x.enter(StateDecoding)
	if !status.OK() {
		return nil, protocol.NewDeviceError(status, c.errors.Lookup(status)).WithSession(sessionID)
	}

	plain, err := keys.OpenSession(dev.ConnectionKey(), raw)
	if err != nil {
		return nil, withSession(err, sessionID)
	}

	t.MarkRoundTrip()
	seq := dev.sequence().Advance()
	logging.Info("HDM request completed",
		zap.String("session_id", sessionID),
		zap.String("code", code.String()),
		zap.Int("seq", seq),
	)

	return &Response{Code: code, Status: status, Body: json.RawMessage(plain), Seq: seq}, nil
}

// connect dials the device, retrying retryable failures when configured
func (c *Client) connect(ctx context.Context, dev *Device, sessionID string) (*transport.Transport, error) {
	var (
		t       *transport.Transport
		lastErr error
		attempt int
	)

	operation := func() error {
		attempt++
		tr, err := c.manager.Connect(ctx, sessionID, dev.Host, dev.Port)
		if err != nil {
			lastErr = err
			if protocol.IsRetryable(err) && ctx.Err() == nil {
				logging.Warn("Connect attempt failed",
					zap.String("session_id", sessionID),
					zap.String("addr", dev.addr()),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				return err
			}
			// Not worth retrying: stop the loop and report lastErr
			return nil
		}
		t, lastErr = tr, nil
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, c.connectRetries), ctx)

	if err := backoff.Retry(operation, policy); err != nil && lastErr == nil {
		lastErr = err
	}
	if lastErr != nil {
		var hdmErr *protocol.Error
		if errors.As(lastErr, &hdmErr) {
			return nil, hdmErr
		}
		return nil, protocol.ClassifyNetworkError(lastErr, dev.addr()).WithSession(sessionID)
	}
	return t, nil
}

// login performs the code 2 exchange and stores the issued connection key
func (c *Client) login(t *transport.Transport, dev *Device) error {
	creds, err := json.Marshal(loginRequest{
		Password: dev.Password,
		Cashier:  dev.Cashier,
		PIN:      dev.PIN,
	})
	if err != nil {
		return &protocol.Error{Type: protocol.ErrTypeConfig, Message: "cannot encode login request", Err: err}
	}

	sealed, err := keys.SealLogin(dev.Password, creds)
	if err != nil {
		return &protocol.Error{Type: protocol.ErrTypeConfig, Message: "cannot seal login request", Err: err}
	}

	frame, err := protocol.EncodeRequest(protocol.CodeLogin, sealed)
	if err != nil {
		return &protocol.Error{Type: protocol.ErrTypeConfig, Message: "login request too large", Err: err}
	}
	logging.LogFrame(t.SessionID(), "sent", protocol.CodeLogin.String(), frame)

	if err := t.Send(frame); err != nil {
		return err
	}

	status, raw, err := t.ReadResponse()
	if err != nil {
		return err
	}
	if !status.OK() {
		return protocol.NewDeviceError(status, c.errors.Lookup(status))
	}

	key, err := keys.ParseLoginResponse(dev.Password, raw)
	if err != nil {
		return err
	}
	dev.SetConnectionKey(key)

	t.MarkRoundTrip()
	dev.sequence().Advance()
	return nil
}

// withSession annotates err with the session id, converting foreign errors
// into Transport errors so callers always get a *protocol.Error
func withSession(err error, sessionID string) error {
	var hdmErr *protocol.Error
	if errors.As(err, &hdmErr) {
		return hdmErr.WithSession(sessionID)
	}
	return (&protocol.Error{
		Type:    protocol.ErrTypeTransport,
		Message: err.Error(),
		Err:     err,
	}).WithSession(sessionID)
}
