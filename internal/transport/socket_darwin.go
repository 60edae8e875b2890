//go:build darwin

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// platformControl configures sockets for coexistence with mDNSResponder
// listening on the same well-known ports.
func platformControl(_, _ string, c syscall.RawConn) error {
	var sockoptErr error
	err := c.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			sockoptErr = e
			return
		}
		sockoptErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockoptErr
}

// setDontRoute pins outbound datagrams to the local link.
func setDontRoute(fd uintptr) {
	_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_DONTROUTE, 1)
}
