//go:build windows

package proctree

import "os"

func syscall0Signal() os.Signal { return os.Signal(nil) }
