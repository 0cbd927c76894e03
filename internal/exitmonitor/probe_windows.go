//go:build windows

package exitmonitor

import "os"

// syscall0 has no Windows equivalent of a null signal probe; FindProcess
// succeeding is treated as "may still be alive" and left to the Wait()
// call in reapExitCode to resolve.
func syscall0() os.Signal { return os.Signal(nil) }
