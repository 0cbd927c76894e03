// Package exitmonitor delivers an at-most-once exit notification per
// watched pid. On Linux it uses a single kernel-level event subscription
// shared across every watched child, without polling the process table;
// on other platforms the backend polls each watched pid once per wait
// interval.
package exitmonitor

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kdlbs/sessiond/internal/corelog"
	"github.com/kdlbs/sessiond/internal/coreerr"
)

// Callback receives the exit code of a watched pid. A code of -1 signals
// that the monitor could not observe the real exit (the child had already
// exited by the time Watch was called).
type Callback func(exitCode int)

type registration struct {
	pid      int
	callback Callback
}

// Monitor watches for child-process exit using a kernel event backend
// selected per platform (pidfd_open+epoll on Linux).
type Monitor struct {
	logger *corelog.Logger

	mu            sync.Mutex
	registrations map[int]*registration
	waiters       map[int][]chan int

	backend backend
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// backend is the platform-specific kernel event subscription. add begins
// watching pid and must return errAlreadyExited if the pid has
// already exited. remove tears down the subscription for pid. wait blocks
// up to timeout for exited pids, returning their pid/exit-code pairs.
type backend interface {
	open() error
	close() error
	add(pid int) error
	remove(pid int)
	wait(timeout time.Duration) ([]exitEvent, error)
}

type exitEvent struct {
	pid      int
	exitCode int
}

// New constructs a Monitor. Call Start to begin processing events.
func New(log *corelog.Logger) *Monitor {
	return &Monitor{
		logger:        log.WithFields(zap.String("component", "exit-monitor")),
		registrations: make(map[int]*registration),
		waiters:       make(map[int][]chan int),
		backend:       newBackend(),
	}
}

// Start opens the kernel subscription and begins the event loop. Calling
// Start again while the monitor is running does nothing and returns nil.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	if err := m.backend.open(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", coreerr.ErrKernelSubscriptionFailed, err)
	}
	m.stopCh = make(chan struct{})
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop()
	return nil
}

// Stop tears down the kernel subscription. Callbacks already dispatched
// run to completion; no new events are observed afterward.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	_ = m.backend.close()
}

// Watch arms a one-shot notification for pid. If pid has already exited,
// the callback fires immediately (synchronously, before Watch returns)
// with exit code -1.
func (m *Monitor) Watch(pid int, cb Callback) error {
	if pid <= 0 {
		return fmt.Errorf("%w: %d", coreerr.ErrInvalidPid, pid)
	}

	m.mu.Lock()
	if _, exists := m.registrations[pid]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: pid %d", coreerr.ErrAlreadyWatching, pid)
	}

	if err := m.backend.add(pid); err != nil {
		m.mu.Unlock()
		if err == errAlreadyExited {
			if cb != nil {
				cb(-1)
			}
			return nil
		}
		return fmt.Errorf("watch failed for pid %d: %w", pid, err)
	}

	m.registrations[pid] = &registration{pid: pid, callback: cb}
	m.mu.Unlock()
	return nil
}

// Unwatch cancels a pending registration for pid without firing its
// callback.
func (m *Monitor) Unwatch(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registrations[pid]; !ok {
		return
	}
	delete(m.registrations, pid)
	m.backend.remove(pid)
}

// IsWatching reports whether pid currently has an armed registration.
func (m *Monitor) IsWatching(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.registrations[pid]
	return ok
}

// WaitForExit blocks until pid exits and returns its exit code. The pid
// must already be (or become) watched; if it is not currently registered
// and has not already been reported, WaitForExit registers it.
func (m *Monitor) WaitForExit(pid int) (int, error) {
	ch, alreadyWatching, err := m.addWaiter(pid)
	if err != nil {
		return 0, err
	}
	if !alreadyWatching {
		// addWaiter arranged registration as a side effect when needed.
	}
	code := <-ch
	return code, nil
}

// WaitForExitWithTimeout blocks until pid exits or timeout elapses. ok is
// false if the timeout elapsed first.
func (m *Monitor) WaitForExitWithTimeout(pid int, timeout time.Duration) (code int, ok bool) {
	ch, _, err := m.addWaiter(pid)
	if err != nil {
		return 0, false
	}
	select {
	case c := <-ch:
		return c, true
	case <-time.After(timeout):
		return 0, false
	}
}

func (m *Monitor) addWaiter(pid int) (chan int, bool, error) {
	if pid <= 0 {
		return nil, false, fmt.Errorf("%w: %d", coreerr.ErrInvalidPid, pid)
	}
	ch := make(chan int, 1)

	m.mu.Lock()
	_, watching := m.registrations[pid]
	if !watching {
		if err := m.backend.add(pid); err != nil {
			m.mu.Unlock()
			if err == errAlreadyExited {
				ch <- -1
				return ch, false, nil
			}
			return nil, false, fmt.Errorf("watch failed for pid %d: %w", pid, err)
		}
		m.registrations[pid] = &registration{pid: pid}
	}
	m.waiters[pid] = append(m.waiters[pid], ch)
	m.mu.Unlock()
	return ch, watching, nil
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		events, err := m.backend.wait(1 * time.Second)
		if err != nil {
			m.logger.Debug("exit monitor wait error", zap.Error(err))
			continue
		}
		for _, ev := range events {
			m.dispatch(ev.pid, ev.exitCode)
		}
	}
}

func (m *Monitor) dispatch(pid int, exitCode int) {
	m.mu.Lock()
	reg := m.registrations[pid]
	delete(m.registrations, pid)
	waiters := m.waiters[pid]
	delete(m.waiters, pid)
	m.backend.remove(pid)
	m.mu.Unlock()

	for _, ch := range waiters {
		ch <- exitCode
	}
	if reg != nil && reg.callback != nil {
		go reg.callback(exitCode)
	}
}
