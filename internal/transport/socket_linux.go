//go:build linux

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// platformControl configures sockets for coexistence with other resolvers
// (Avahi, systemd-resolved) listening on the same well-known ports.
// SO_REUSEPORT is available on Linux 3.9+; older kernels fall back to
// SO_REUSEADDR only.
func platformControl(_, _ string, c syscall.RawConn) error {
	var sockoptErr error
	err := c.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			sockoptErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); e != nil && e != unix.ENOPROTOOPT {
			sockoptErr = e
		}
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
