// Package coreerr defines the sentinel error taxonomy shared by every
// supervision component, so callers can test failure classes with errors.Is
// regardless of which component produced the wrapped error.
package coreerr

import "errors"

var (
	// ErrInvalidWorkingDirectory is returned when a session's working
	// directory does not exist or is not a directory.
	ErrInvalidWorkingDirectory = errors.New("invalid working directory")

	// ErrCommandNotFound names an executable that cannot be resolved on
	// PATH. Launcher.Spawn does not return it: an unresolved program is
	// passed through and a start failure is reported as
	// ErrProcessStartFailed.
	ErrCommandNotFound = errors.New("command not found")

	// ErrPipeCreationFailed is returned when stdout/stderr/stdin pipes for a
	// child process could not be created.
	ErrPipeCreationFailed = errors.New("pipe creation failed")

	// ErrProcessStartFailed is returned when the OS refused to start a child.
	ErrProcessStartFailed = errors.New("process start failed")

	// ErrProcessNotFound names a pid the Registry or ProcessTree does not
	// know about. Neither returns it: Registry lookups report a boolean
	// and ProcessTree.Info returns an unwrapped "not found" error.
	ErrProcessNotFound = errors.New("process not found")

	// ErrSessionNotFound is returned when an operation names a session ID
	// that has no active entry in the Coordinator.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionAlreadyRunning names a start request for a session that is
	// already Starting or Running. StartDevServer does not return it: it
	// stops the existing session and starts a new one.
	ErrSessionAlreadyRunning = errors.New("session already running")

	// ErrPortExhausted names the case where the PortAllocator finds no
	// free port in its range. No code in this module returns it: Allocate
	// reports exhaustion with a boolean and the Coordinator then starts
	// the session without a port.
	ErrPortExhausted = errors.New("no available ports")

	// ErrPortUnavailable names a specifically requested port that is
	// already bound. The PortAllocator does not return it: it falls back
	// to the first free port in its range.
	ErrPortUnavailable = errors.New("port unavailable")

	// ErrPortNotManaged names a port this allocator never handed out.
	// Release does not return it: releasing an unknown port does nothing.
	ErrPortNotManaged = errors.New("port not managed by this allocator")

	// ErrTerminationTimeout names a process group that did not exit within
	// its grace period and had to be force-killed. Launcher.TerminateGroup
	// does not return it: it escalates to the kill signal and returns
	// nothing.
	ErrTerminationTimeout = errors.New("termination grace period exceeded")

	// ErrNotWatching names a pid the ExitMonitor is not watching. WaitForExit
	// does not return it: it registers an unwatched pid itself.
	ErrNotWatching = errors.New("pid is not being watched")

	// ErrInvalidPid is returned when a pid argument passed to the
	// ExitMonitor is non-positive.
	ErrInvalidPid = errors.New("invalid pid")

	// ErrKernelSubscriptionFailed is returned when the ExitMonitor's
	// kernel-level event subscription (epoll instance on Linux) could not
	// be opened; this is fatal for the monitor, distinct from an
	// individual pid being invalid.
	ErrKernelSubscriptionFailed = errors.New("kernel subscription failed")

	// ErrAlreadyWatching is returned by Watch when the pid is already
	// subscribed.
	ErrAlreadyWatching = errors.New("pid is already being watched")

	// ErrLogFileUnavailable is returned when LogStore cannot open or create
	// a session's on-disk log file.
	ErrLogFileUnavailable = errors.New("log file unavailable")

	// ErrInvalidRequest signals a malformed JSON-RPC request body.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMethodNotFound signals an RpcLoop dispatch to an unknown method.
	ErrMethodNotFound = errors.New("method not found")

	// ErrInvalidParams signals a JSON-RPC request whose params failed
	// validation for the named method.
	ErrInvalidParams = errors.New("invalid params")

	// ErrShuttingDown names an operation attempted after cleanup_all has
	// begun. The Coordinator does not return it: CleanupAll does not block
	// later calls.
	ErrShuttingDown = errors.New("coordinator is shutting down")
)
