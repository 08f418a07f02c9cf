package transport

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/hdmctl/internal/logging"
	"github.com/muurk/hdmctl/internal/protocol"
)

const (
	// DefaultConnectTimeout bounds a single dial attempt
	DefaultConnectTimeout = 10 * time.Second

	// DefaultIOTimeout bounds one send or one complete response read
	DefaultIOTimeout = 10 * time.Second

	// DefaultKeepAliveIdle is the idle time before the first keep-alive probe
	DefaultKeepAliveIdle = 20 * time.Second

	// DefaultKeepAliveInterval is the time between keep-alive probes
	DefaultKeepAliveInterval = 20 * time.Second

	// DefaultKeepAliveCount is the number of unanswered probes before the
	// kernel drops the connection
	DefaultKeepAliveCount = 3
)

// Options configures a Manager. Zero values fall back to the defaults above.
type Options struct {
	ConnectTimeout    time.Duration
	IOTimeout         time.Duration
	KeepAliveIdle     time.Duration
	KeepAliveInterval time.Duration
	KeepAliveCount    int
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = DefaultIOTimeout
	}
	if o.KeepAliveIdle <= 0 {
		o.KeepAliveIdle = DefaultKeepAliveIdle
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if o.KeepAliveCount <= 0 {
		o.KeepAliveCount = DefaultKeepAliveCount
	}
	return o
}

// KeyClearer is implemented by the owner of a session's connection key.
// Close invalidates the key through it.
type KeyClearer interface {
	ClearConnectionKey()
}

// Manager owns the session registry: at most one transport per session id.
// A Manager is created once per process (or per test) and passed to the
// request engine; there is no package-level registry.
type Manager struct {
	opts Options

	// mu protects sessions
	mu       sync.Mutex
	sessions map[string]*Transport

	// locksMu protects locks
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewManager creates an empty session registry
func NewManager(opts Options) *Manager {
	return &Manager{
		opts:     opts.withDefaults(),
		sessions: make(map[string]*Transport),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Options returns the effective options (defaults applied)
func (m *Manager) Options() Options {
	return m.opts
}

// Lock serializes operations on one session id. The returned func releases it.
// Callers hold the lock for a whole logical operation (close, connect, login,
// send, receive, close) so concurrent calls cannot interleave key rotation.
func (m *Manager) Lock(sessionID string) func() {
	m.locksMu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	m.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// Connect returns the registered transport for sessionID if it is still live,
// otherwise dials host:port with keep-alive enabled and registers the new
// transport. Dial failures are returned as ConnectFailure errors.
func (m *Manager) Connect(ctx context.Context, sessionID string, host string, port int) (*Transport, error) {
	m.mu.Lock()
	existing := m.sessions[sessionID]
	m.mu.Unlock()

	if existing != nil {
		if probe(existing.conn) {
			logging.Debug("Using existing connection", zap.String("session_id", sessionID))
			return existing, nil
		}

		// Stale transport: forget it before dialing a replacement
		logging.Warn("Registered connection is dead, reconnecting",
			zap.String("session_id", sessionID),
			zap.String("remote_addr", existing.addr),
		)
		m.forget(sessionID, existing)
		_ = existing.conn.Close()
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	logging.Info("Creating new connection",
		zap.String("session_id", sessionID),
		zap.String("addr", addr),
	)

	dialer := &net.Dialer{
		Timeout: m.opts.ConnectTimeout,
		KeepAliveConfig: net.KeepAliveConfig{
			Enable:   true,
			Idle:     m.opts.KeepAliveIdle,
			Interval: m.opts.KeepAliveInterval,
			Count:    m.opts.KeepAliveCount,
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		logging.Error("Connection failed",
			zap.String("session_id", sessionID),
			zap.String("addr", addr),
			zap.Error(err),
		)
		return nil, protocol.ClassifyNetworkError(err, addr).WithSession(sessionID)
	}

	t := newTransport(sessionID, addr, conn, m.opts.IOTimeout)

	m.mu.Lock()
	replaced := m.sessions[sessionID]
	m.sessions[sessionID] = t
	m.mu.Unlock()

	// A concurrent Connect without the session lock may have registered first
	if replaced != nil && replaced != existing {
		_ = replaced.conn.Close()
	}

	logging.LogConnection(sessionID, addr, "connected")
	return t, nil
}

// Close half-closes and then closes the transport registered for sessionID.
// The registry entry is always removed and the owner's connection key is
// always cleared, even when the socket shutdown fails. Closing a session with
// no registered transport returns a NoActiveConnection error.
func (m *Manager) Close(sessionID string, owner KeyClearer) error {
	if owner != nil {
		defer owner.ClearConnectionKey()
	}

	m.mu.Lock()
	t, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if !ok {
		return protocol.NewNoActiveConnectionError(sessionID)
	}

	// Best-effort half close so the device sees FIN before the socket goes away
	if hc, ok := t.conn.(interface{ CloseWrite() error }); ok {
		if err := hc.CloseWrite(); err != nil {
			logging.Debug("Half close failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}

	if err := t.conn.Close(); err != nil {
		logging.Warn("Error while closing socket",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}

	logging.LogConnection(sessionID, t.addr, "closed")
	return nil
}

// IsLive probes the registered transport without blocking. Broken pipe,
// reset and any other I/O error count as not live. The entry is not removed;
// that is Close's job.
func (m *Manager) IsLive(sessionID string) bool {
	m.mu.Lock()
	t := m.sessions[sessionID]
	m.mu.Unlock()

	if t == nil {
		return false
	}
	return probe(t.conn)
}

// EnsureLive returns the registered transport for sessionID, or a typed
// error: NoActiveConnection when nothing is registered, ConnectFailure when
// the registered transport is dead.
func (m *Manager) EnsureLive(sessionID string) (*Transport, error) {
	m.mu.Lock()
	t := m.sessions[sessionID]
	m.mu.Unlock()

	if t == nil {
		return nil, protocol.NewNoActiveConnectionError(sessionID)
	}
	if !probe(t.conn) {
		return nil, (&protocol.Error{
			Type:      protocol.ErrTypeConnectFailure,
			Message:   "connection is no longer alive",
			Retryable: true,
		}).WithSession(sessionID)
	}
	return t, nil
}

// Sessions returns the ids of all registered transports, sorted
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown closes every registered transport
func (m *Manager) Shutdown() {
	for _, id := range m.Sessions() {
		_ = m.Close(id, nil)
	}
}

// forget removes sessionID only if it still maps to t
func (m *Manager) forget(sessionID string, t *Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[sessionID] == t {
		delete(m.sessions, sessionID)
	}
}
