//go:build !unix

package transport

import (
	"net"
	"time"
)

// probe falls back to a zero-length write with an immediate deadline on
// platforms without MSG_PEEK support. A broken socket fails the write.
func probe(conn net.Conn) bool {
	if conn == nil {
		return false
	}
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Millisecond)); err != nil {
		return false
	}
	defer func() { _ = conn.SetWriteDeadline(time.Time{}) }()

	_, err := conn.Write(nil)
	return err == nil
}
