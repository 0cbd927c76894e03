// Package registry is a concurrency-safe index of every child process the
// core has spawned, using a map+RWMutex CRUD idiom while tracking
// process-group membership for signal fan-out.
package registry

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kdlbs/sessiond/internal/corelog"
)

// Source classifies why a process was registered.
type Source string

const (
	SourceTerminal  Source = "terminal"
	SourceDevServer Source = "dev_server"
	SourceBackground Source = "background"
	SourceSystem    Source = "system"
)

// Entry is one registered process.
type Entry struct {
	Pid          int
	Pgid         int
	Session      int
	Source       Source
	Command      string
	WorkingDir   string
	RegisteredAt time.Time
}

// AliveChecker reports whether a pid is currently alive; injected so
// Registry does not import proctree directly (it only needs one query).
type AliveChecker func(pid int) bool

// GroupSignaler sends a graceful and, failing that, forceful signal to a
// process group; injected to keep Registry decoupled from Launcher.
type GroupSignaler func(pgid int)

// Registry indexes every spawned process by pid, session, and group.
type Registry struct {
	logger   *corelog.Logger
	isAlive  AliveChecker
	terminate GroupSignaler

	mu      sync.RWMutex
	entries map[int]*Entry // pid -> entry
	groups  map[int]int    // pgid -> count of entries carrying it

	onRegister   func(Entry)
	onUnregister func(Entry)
}

// New constructs a Registry. isAlive and terminate may be nil; terminate
// is required for cleanup_session/cleanup_all to actually signal groups.
func New(log *corelog.Logger, isAlive AliveChecker, terminate GroupSignaler) *Registry {
	return &Registry{
		logger:    log.WithFields(zap.String("component", "registry")),
		isAlive:   isAlive,
		terminate: terminate,
		entries:   make(map[int]*Entry),
		groups:    make(map[int]int),
	}
}

// OnRegister installs a callback fired synchronously after every Register.
func (r *Registry) OnRegister(f func(Entry)) { r.onRegister = f }

// OnUnregister installs a callback fired synchronously after every Unregister.
func (r *Registry) OnUnregister(f func(Entry)) { r.onUnregister = f }

// Register records a newly spawned process.
func (r *Registry) Register(pid, pgid, session int, source Source, command, cwd string) Entry {
	entry := Entry{
		Pid:          pid,
		Pgid:         pgid,
		Session:      session,
		Source:       source,
		Command:      command,
		WorkingDir:   cwd,
		RegisteredAt: time.Now(),
	}

	r.mu.Lock()
	r.entries[pid] = &entry
	r.groups[pgid]++
	r.mu.Unlock()

	r.logger.Debug("registered process", zap.Int("pid", pid), zap.Int("session", session), zap.String("source", string(source)))
	if r.onRegister != nil {
		r.onRegister(entry)
	}
	return entry
}

// Unregister removes pid's entry, decrementing its group's reference
// count and removing the group from the managed-groups index once no
// entry carries it any longer.
func (r *Registry) Unregister(pid int) {
	r.mu.Lock()
	entry, ok := r.entries[pid]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.entries, pid)
	r.groups[entry.Pgid]--
	if r.groups[entry.Pgid] <= 0 {
		delete(r.groups, entry.Pgid)
	}
	r.mu.Unlock()

	r.logger.Debug("unregistered process", zap.Int("pid", pid))
	if r.onUnregister != nil {
		r.onUnregister(*entry)
	}
}

// Get returns the entry for pid.
func (r *Registry) Get(pid int) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[pid]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// IsRegistered reports whether pid has an active entry.
func (r *Registry) IsRegistered(pid int) bool {
	_, ok := r.Get(pid)
	return ok
}

// IsManagedGroup reports whether any entry currently carries pgid.
func (r *Registry) IsManagedGroup(pgid int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.groups[pgid] > 0
}

// BySession returns every entry registered under session.
func (r *Registry) BySession(session int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Session == session {
			out = append(out, *e)
		}
	}
	return out
}

// BySource returns every entry with the given source tag.
func (r *Registry) BySource(source Source) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Source == source {
			out = append(out, *e)
		}
	}
	return out
}

// All returns every registered entry.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out
}

// CleanupSession removes every entry for session. When kill is true, the
// distinct process groups among the removed entries are sent a graceful
// signal via the injected GroupSignaler (which itself escalates to an
// uncatchable signal after its own grace window); when false, entries are
// detached without signaling, for callers that have already reaped the
// processes themselves.
func (r *Registry) CleanupSession(session int, kill bool) {
	r.mu.Lock()
	var removedGroups []int
	seen := make(map[int]bool)
	for pid, e := range r.entries {
		if e.Session != session {
			continue
		}
		delete(r.entries, pid)
		r.groups[e.Pgid]--
		if r.groups[e.Pgid] <= 0 {
			delete(r.groups, e.Pgid)
		}
		if !seen[e.Pgid] {
			seen[e.Pgid] = true
			removedGroups = append(removedGroups, e.Pgid)
		}
	}
	r.mu.Unlock()

	if kill && r.terminate != nil {
		for _, pgid := range removedGroups {
			r.terminate(pgid)
		}
	}
}

// CleanupAll removes every entry, fanning the per-group termination out
// concurrently via errgroup since a host can have many independent
// sessions mid-teardown.
func (r *Registry) CleanupAll(kill bool) error {
	r.mu.Lock()
	groups := make([]int, 0, len(r.groups))
	for pgid := range r.groups {
		groups = append(groups, pgid)
	}
	r.entries = make(map[int]*Entry)
	r.groups = make(map[int]int)
	r.mu.Unlock()

	if !kill || r.terminate == nil {
		return nil
	}

	var eg errgroup.Group
	for _, pgid := range groups {
		pgid := pgid
		eg.Go(func() error {
			r.terminate(pgid)
			return nil
		})
	}
	return eg.Wait()
}

// FindOrphans returns entries whose pid the OS no longer reports as
// alive.
func (r *Registry) FindOrphans() []Entry {
	if r.isAlive == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if !r.isAlive(e.Pid) {
			out = append(out, *e)
		}
	}
	return out
}

// CleanupOrphans removes every orphaned entry without signaling (there is
// nothing left alive to signal).
func (r *Registry) CleanupOrphans() {
	for _, e := range r.FindOrphans() {
		r.Unregister(e.Pid)
	}
}
