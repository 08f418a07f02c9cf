//go:build unix

package transport

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// probe checks a connection without blocking and without consuming data.
// It peeks one byte with MSG_DONTWAIT: EAGAIN means idle and alive, pending
// data means alive, a zero-length read means the peer closed, and any other
// error means the socket is broken.
func probe(conn net.Conn) bool {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		// In-memory connections (tests) have no descriptor to inspect
		return conn != nil
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return false
	}

	alive := false
	ctrlErr := raw.Read(func(fd uintptr) bool {
		var buf [1]byte
		n, _, rerr := unix.Recvfrom(int(fd), buf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		switch {
		case errors.Is(rerr, unix.EAGAIN), errors.Is(rerr, unix.EWOULDBLOCK):
			alive = true
		case rerr != nil:
			alive = false
		default:
			alive = n > 0
		}
		// Never wait for readiness
		return true
	})
	if ctrlErr != nil {
		return false
	}
	return alive
}
