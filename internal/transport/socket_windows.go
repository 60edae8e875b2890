//go:build windows

package transport

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// platformControl configures sockets for coexistence with the Windows
// Bonjour service listening on the same well-known ports. Windows has no
// SO_REUSEPORT; SO_REUSEADDR covers the multicast listener case.
func platformControl(_, _ string, c syscall.RawConn) error {
	var sockoptErr error
	err := c.Control(func(fd uintptr) {
		sockoptErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockoptErr
}

// setDontRoute pins outbound datagrams to the local link.
func setDontRoute(fd uintptr) {
	_ = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_DONTROUTE, 1)
}
