//go:build linux

package exitmonitor

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pidfdBackend is the Linux kernel event subscription: one epoll instance
// holding one pidfd per watched pid. pidfd readiness (EPOLLIN) fires
// exactly once, when the process becomes a zombie, which is the direct
// analogue of BSD kqueue's EVFILT_PROC NOTE_EXIT on the platform this
// module targets.
//
// fds is guarded by its own mutex, independent of Monitor.mu: wait() runs
// from the event loop goroutine without Monitor.mu held (EpollWait itself
// blocks for up to a second), while add/remove are called synchronously
// from Watch/Unwatch under Monitor.mu. Without this lock, a Watch call
// arriving while wait() is iterating fds is a concurrent map read/write.
type pidfdBackend struct {
	epfd int

	mu  sync.Mutex
	fds map[int]int // pid -> pidfd
}

func newBackend() backend {
	return &pidfdBackend{fds: make(map[int]int)}
}

func (b *pidfdBackend) open() error {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	b.epfd = fd
	return nil
}

func (b *pidfdBackend) close() error {
	b.mu.Lock()
	for pid, pidfd := range b.fds {
		_ = unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, pidfd, nil)
		_ = unix.Close(pidfd)
		delete(b.fds, pid)
	}
	b.mu.Unlock()
	return unix.Close(b.epfd)
}

func (b *pidfdBackend) add(pid int) error {
	pidfd, err := unix.PidfdOpen(pid, 0)
	if err != nil {
		if err == unix.ESRCH {
			return errAlreadyExited
		}
		return fmt.Errorf("pidfd_open(%d): %w", pid, err)
	}

	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(pidfd)}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, pidfd, &event); err != nil {
		_ = unix.Close(pidfd)
		return fmt.Errorf("epoll_ctl_add(%d): %w", pidfd, err)
	}

	b.mu.Lock()
	b.fds[pid] = pidfd
	b.mu.Unlock()
	return nil
}

func (b *pidfdBackend) remove(pid int) {
	b.mu.Lock()
	pidfd, ok := b.fds[pid]
	if ok {
		delete(b.fds, pid)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	_ = unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, pidfd, nil)
	_ = unix.Close(pidfd)
}

func (b *pidfdBackend) wait(timeout time.Duration) ([]exitEvent, error) {
	events := make([]unix.EpollEvent, 16)
	n, err := unix.EpollWait(b.epfd, events, int(timeout/time.Millisecond))
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}

	b.mu.Lock()
	fdToPid := make(map[int]int, len(b.fds))
	for p, pidfd := range b.fds {
		fdToPid[pidfd] = p
	}
	b.mu.Unlock()

	out := make([]exitEvent, 0, n)
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		pid, ok := fdToPid[fd]
		if !ok {
			continue
		}
		out = append(out, exitEvent{pid: pid, exitCode: reapExitCode(pid)})
	}
	return out, nil
}

// reapExitCode reaps the now-zombie child and extracts its exit status.
// Watched pids are always direct children of this process (spawned by
// Launcher), so Wait4 is guaranteed not to race with another waiter.
func reapExitCode(pid int) int {
	var ws unix.WaitStatus
	_, err := unix.Wait4(pid, &ws, 0, nil)
	if err != nil {
		return -1
	}
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ws.ExitStatus()
}
