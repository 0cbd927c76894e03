//go:build unix

package launcher

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcGroup places the child in a new process group equal to its own
// pid, so terminate_group can signal the whole subtree with one call.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup sends sig to every process in group pgid via the
// negative-pid kill convention.
func signalGroup(pgid int, sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return syscall.EINVAL
	}
	return syscall.Kill(-pgid, s)
}

// groupAlive probes pgid with signal 0: if any member is still alive the
// kernel lets the null-signal send succeed.
func groupAlive(pgid int) bool {
	return syscall.Kill(-pgid, syscall.Signal(0)) == nil
}

func termSignal() os.Signal { return syscall.SIGTERM }
func killSignal() os.Signal { return syscall.SIGKILL }
