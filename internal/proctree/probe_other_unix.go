//go:build !linux && unix

package proctree

import (
	"os"
	"syscall"
)

func syscall0Signal() os.Signal { return syscall.Signal(0) }
