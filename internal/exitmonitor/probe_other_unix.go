//go:build !linux && unix

package exitmonitor

import (
	"os"
	"syscall"
)

func syscall0() os.Signal { return syscall.Signal(0) }
