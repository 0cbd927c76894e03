// Package launcher spawns child processes as the leader of a fresh process
// group, with three captured pipes.
package launcher

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kdlbs/sessiond/internal/corelog"
	"github.com/kdlbs/sessiond/internal/coreerr"
)

// Handle is the result of a successful spawn: the child's identity plus
// its three pipe endpoints.
type Handle struct {
	Pid    int
	Pgid   int
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	cmd *exec.Cmd
}

// Cmd exposes the underlying *exec.Cmd for callers that need to Wait() on
// it. The Coordinator does not call it; its children are reaped by the
// ExitMonitor.
func (h *Handle) Cmd() *exec.Cmd { return h.cmd }

// Launcher spawns children in fresh process groups.
type Launcher struct {
	logger *corelog.Logger
}

// New returns a Launcher that logs through log.
func New(log *corelog.Logger) *Launcher {
	return &Launcher{logger: log.WithFields(zap.String("component", "launcher"))}
}

// Spawn starts program with args inside a new process group, optionally
// chdir'd to cwd and with env as its environment (nil inherits the host
// environment). The returned Handle's Pgid equals Pid: the child is its
// own group leader, so tearing down the group with terminate_group reaps
// every descendant regardless of how deep it re-execs.
func (l *Launcher) Spawn(program string, args []string, cwd string, env []string) (*Handle, error) {
	if cwd != "" {
		info, err := os.Stat(cwd)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: %s", coreerr.ErrInvalidWorkingDirectory, cwd)
		}
	}

	resolved := program
	if !filepath.IsAbs(program) {
		if p, err := exec.LookPath(program); err == nil {
			resolved = p
		}
		// else: pass through unresolved and let the OS loader report the error.
	}

	cmd := exec.Command(resolved, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	if env != nil {
		cmd.Env = env
	}
	setProcGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin: %v", coreerr.ErrPipeCreationFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("%w: stdout: %v", coreerr.ErrPipeCreationFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, fmt.Errorf("%w: stderr: %v", coreerr.ErrPipeCreationFailed, err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, fmt.Errorf("%w: %s: %v", coreerr.ErrProcessStartFailed, program, err)
	}

	pid := cmd.Process.Pid
	l.logger.Debug("spawned child", zap.String("program", program), zap.Int("pid", pid))

	return &Handle{
		Pid:    pid,
		Pgid:   pid,
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		cmd:    cmd,
	}, nil
}

// SpawnShell is a convenience wrapper running command through a login
// shell ("sh -lc <command>").
func (l *Launcher) SpawnShell(command string, cwd string, env []string) (*Handle, error) {
	return l.Spawn("/bin/sh", []string{"-l", "-c", command}, cwd, env)
}

// SignalProcess sends sig to pid alone. Best-effort: it reports whether
// the OS accepted the request, never treating failure as fatal to the
// caller's control flow.
func (l *Launcher) SignalProcess(pid int, sig os.Signal) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(sig) == nil
}

// SignalGroup sends sig to every process in group pgid.
func (l *Launcher) SignalGroup(pgid int, sig os.Signal) bool {
	return signalGroup(pgid, sig) == nil
}

// TerminateGroup sends a graceful termination signal to pgid, polls every
// 100ms for up to grace for any surviving member (probed via signal 0),
// and if the group is still alive when the grace window elapses, sends an
// uncatchable kill signal to finish the job.
func (l *Launcher) TerminateGroup(pgid int, grace time.Duration) {
	l.logger.Debug("terminating group", zap.Int("pgid", pgid), zap.Duration("grace", grace))
	_ = signalGroup(pgid, termSignal())

	deadline := time.Now().Add(grace)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		<-ticker.C
		if !groupAlive(pgid) {
			return
		}
	}

	if groupAlive(pgid) {
		l.logger.Debug("grace period exceeded, force-killing group", zap.Int("pgid", pgid))
		_ = signalGroup(pgid, killSignal())
	}
}
