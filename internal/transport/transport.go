package transport

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/muurk/hdmctl/internal/protocol"
)

// Transport is one TCP connection to a device, registered under a session id
type Transport struct {
	sessionID  string
	addr       string
	conn       net.Conn
	ioTimeout  time.Duration
	openedAt   time.Time
	roundTrips atomic.Int64
}

func newTransport(sessionID, addr string, conn net.Conn, ioTimeout time.Duration) *Transport {
	return &Transport{
		sessionID: sessionID,
		addr:      addr,
		conn:      conn,
		ioTimeout: ioTimeout,
		openedAt:  time.Now(),
	}
}

// SessionID returns the session the transport is registered under
func (t *Transport) SessionID() string { return t.sessionID }

// Addr returns the dialed host:port
func (t *Transport) Addr() string { return t.addr }

// OpenedAt returns when the connection was established
func (t *Transport) OpenedAt() time.Time { return t.openedAt }

// Send writes a complete frame within the I/O timeout
func (t *Transport) Send(frame []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.ioTimeout)); err != nil {
		return protocol.ClassifyIOError(err, "send").WithSession(t.sessionID)
	}
	if _, err := t.conn.Write(frame); err != nil {
		return protocol.ClassifyIOError(err, "send").WithSession(t.sessionID)
	}
	return nil
}

// ReadResponse reads one complete response envelope. The whole read,
// including reassembly of a fragmented frame, must finish within the
// I/O timeout.
func (t *Transport) ReadResponse() (protocol.Status, []byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.ioTimeout)); err != nil {
		return 0, nil, protocol.ClassifyIOError(err, "receive").WithSession(t.sessionID)
	}

	status, body, err := protocol.ReadResponse(t.conn)
	if err != nil {
		return 0, nil, protocol.ClassifyIOError(err, "receive").WithSession(t.sessionID)
	}
	return status, body, nil
}

// MarkRoundTrip records one completed send/receive exchange
func (t *Transport) MarkRoundTrip() int64 {
	return t.roundTrips.Add(1)
}

// RoundTrips returns the number of completed exchanges on this transport
func (t *Transport) RoundTrips() int64 {
	return t.roundTrips.Load()
}
