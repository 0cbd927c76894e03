//go:build windows

package portalloc

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// controlReuseAddr mirrors the Unix SO_REUSEADDR hook using the Windows
// socket option of the same name.
func controlReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
