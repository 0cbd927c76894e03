// Package portalloc maintains an exclusive, revocable session-to-port
// mapping in a designated developer range, with the OS bind-probe as the
// ground truth at allocation time rather than pure bookkeeping.
package portalloc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kdlbs/sessiond/internal/corelog"
	"github.com/kdlbs/sessiond/internal/coreerr"
)

// probeListenConfig binds the liveness probe with SO_REUSEADDR set, so a
// port just released by a prior instance (still in TIME_WAIT) probes as
// available the same way a real server's listener would treat it.
var probeListenConfig = net.ListenConfig{Control: controlReuseAddr}

// Allocation is one port's ownership record.
type Allocation struct {
	Port      int
	Session   int
	Timestamp int64
}

// Allocator maintains an exclusive mapping from session to port within
// [rangeMin, rangeMax], plus an additional known-common set scanned (but
// never allocated from) by ScanListening.
type Allocator struct {
	logger      *corelog.Logger
	rangeMin    int
	rangeMax    int
	knownCommon []int

	mu             sync.Mutex
	portToSession  map[int]int
	sessionToPort  map[int]int
}

// New constructs an Allocator over [rangeMin, rangeMax].
func New(log *corelog.Logger, rangeMin, rangeMax int, knownCommon []int) *Allocator {
	return &Allocator{
		logger:        log.WithFields(zap.String("component", "port-allocator")),
		rangeMin:      rangeMin,
		rangeMax:      rangeMax,
		knownCommon:   knownCommon,
		portToSession: make(map[int]int),
		sessionToPort: make(map[int]int),
	}
}

// IsAvailable attempts to bind a TCP listener to the wildcard address on
// port with address reuse enabled; this is the authoritative liveness
// probe, internal bookkeeping only exists to avoid racing ahead of it.
func IsAvailable(port int) bool {
	ln, err := probeListenConfig.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// FindAvailable returns preferred if it is in range, not internally
// allocated, and passes IsAvailable; otherwise it walks the range
// ascending and returns the first port that satisfies both.
func (a *Allocator) FindAvailable(preferred int) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.findAvailableLocked(preferred)
}

func (a *Allocator) findAvailableLocked(preferred int) (int, bool) {
	if preferred >= a.rangeMin && preferred <= a.rangeMax {
		if _, taken := a.portToSession[preferred]; !taken && IsAvailable(preferred) {
			return preferred, true
		}
	}
	for port := a.rangeMin; port <= a.rangeMax; port++ {
		if _, taken := a.portToSession[port]; taken {
			continue
		}
		if IsAvailable(port) {
			return port, true
		}
	}
	return 0, false
}

// FindNAvailable returns up to n distinct available ports, without
// reserving them.
func (a *Allocator) FindNAvailable(n int) []int {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []int
	for port := a.rangeMin; port <= a.rangeMax && len(out) < n; port++ {
		if _, taken := a.portToSession[port]; taken {
			continue
		}
		if IsAvailable(port) {
			out = append(out, port)
		}
	}
	return out
}

// Allocate is idempotent in session: if session already owns a port, that
// port is returned. Otherwise a free port is found and recorded. ok is
// false if the range is exhausted.
func (a *Allocator) Allocate(session int, preferred int) (port int, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p, exists := a.sessionToPort[session]; exists {
		return p, true
	}

	p, found := a.findAvailableLocked(preferred)
	if !found {
		return 0, false
	}

	a.portToSession[p] = session
	a.sessionToPort[session] = p
	a.logger.Debug("allocated port", zap.Int("port", p), zap.Int("session", session))
	return p, true
}

// Release removes both directions of the mapping for port.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	session, ok := a.portToSession[port]
	if !ok {
		return
	}
	delete(a.portToSession, port)
	delete(a.sessionToPort, session)
}

// ReleaseForSession removes both directions of the mapping for session.
func (a *Allocator) ReleaseForSession(session int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	port, ok := a.sessionToPort[session]
	if !ok {
		return
	}
	delete(a.sessionToPort, session)
	delete(a.portToSession, port)
}

// GetPort returns the port owned by session, if any.
func (a *Allocator) GetPort(session int) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.sessionToPort[session]
	return p, ok
}

// Range returns the allocator's configured [rangeMin, rangeMax] bounds.
func (a *Allocator) Range() (int, int) {
	return a.rangeMin, a.rangeMax
}

// IsManaged reports whether this allocator currently owns port.
func (a *Allocator) IsManaged(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.portToSession[port]
	return ok
}

// SessionOf returns the session owning port, if any.
func (a *Allocator) SessionOf(port int) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.portToSession[port]
	return s, ok
}

// AllAllocations returns every current port -> session mapping.
func (a *Allocator) AllAllocations() []Allocation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Allocation, 0, len(a.portToSession))
	for port, session := range a.portToSession {
		out = append(out, Allocation{Port: port, Session: session, Timestamp: time.Now().Unix()})
	}
	return out
}

// ListeningPort describes one port found occupied by ScanListening.
type ListeningPort struct {
	Port        int
	Address     string
	Pid         *int // best-effort; nil when the OS does not expose port-owner mapping
	ProcessName *string
	Managed     bool
}

// ScanListening iterates the union of the dev range and the known-common
// set and, for every port that IsAvailable reports as unavailable, emits
// a record. Process identification is best-effort via the supplied
// resolver (nil yields no pid/name data, which is portable behavior when
// the OS doesn't expose port-owner mapping through a public interface).
func (a *Allocator) ScanListening(resolve func(port int) (pid int, name string, ok bool)) []ListeningPort {
	ports := make(map[int]struct{})
	for p := a.rangeMin; p <= a.rangeMax; p++ {
		ports[p] = struct{}{}
	}
	for _, p := range a.knownCommon {
		ports[p] = struct{}{}
	}

	var out []ListeningPort
	for port := range ports {
		if IsAvailable(port) {
			continue
		}
		lp := ListeningPort{
			Port:    port,
			Address: fmt.Sprintf(":%d", port),
			Managed: a.IsManaged(port),
		}
		if resolve != nil {
			if pid, name, ok := resolve(port); ok {
				lp.Pid = &pid
				lp.ProcessName = &name
			}
		}
		out = append(out, lp)
	}
	return out
}

// ErrPortExhausted re-exports coreerr.ErrPortExhausted. This package's own
// methods signal exhaustion via a boolean, and the Coordinator treats
// exhaustion as non-fatal, so no code in this module returns it.
var ErrPortExhausted = coreerr.ErrPortExhausted
