// Package coordinator composes the Launcher, ExitMonitor, ProcessTree,
// Registry, PortAllocator, LogStore, and StreamPump leaves into the
// session lifecycle, publishing a value-typed snapshot of the active
// session mapping after every mutation via a non-blocking publish/subscribe
// contract.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kdlbs/sessiond/internal/corelog"
	"github.com/kdlbs/sessiond/internal/coreerr"
	"github.com/kdlbs/sessiond/internal/exitmonitor"
	"github.com/kdlbs/sessiond/internal/launcher"
	"github.com/kdlbs/sessiond/internal/logstore"
	"github.com/kdlbs/sessiond/internal/portalloc"
	"github.com/kdlbs/sessiond/internal/proctree"
	"github.com/kdlbs/sessiond/internal/projecttype"
	"github.com/kdlbs/sessiond/internal/registry"
	"github.com/kdlbs/sessiond/internal/streampump"
)

const (
	stopGrace            = 5 * time.Second
	tracerName           = "github.com/kdlbs/sessiond/internal/coordinator"
)

// Subscriber receives the complete new Snapshot after every mutation. Send
// is non-blocking: a slow subscriber misses intermediate snapshots rather
// than stalling the coordinator.
type Subscriber chan Snapshot

// Coordinator is the composition layer described in package doc.
type Coordinator struct {
	logger *corelog.Logger
	tracer trace.Tracer

	launch  *launcher.Launcher
	exit    *exitmonitor.Monitor
	tree    *proctree.Tree
	reg     *registry.Registry
	ports   *portalloc.Allocator
	logs    *logstore.Store

	mu       sync.RWMutex
	sessions map[int]*Session
	pumps    map[int]*streampump.Pump

	subMu sync.RWMutex
	subs  map[Subscriber]struct{}

	ready bool
}

// New constructs a Coordinator over the given leaves. Call Start before
// use; readiness flips true once the exit monitor is running.
func New(log *corelog.Logger, ports *portalloc.Allocator, appDataDir string) *Coordinator {
	l := log.WithFields(zap.String("component", "coordinator"))
	tree := proctree.New()
	launch := launcher.New(l)

	c := &Coordinator{
		logger:   l,
		tracer:   otel.Tracer(tracerName),
		launch:   launch,
		exit:     exitmonitor.New(l),
		tree:     tree,
		ports:    ports,
		logs:     logstore.New(l, appDataDir),
		sessions: make(map[int]*Session),
		pumps:    make(map[int]*streampump.Pump),
		subs:     make(map[Subscriber]struct{}),
	}
	c.reg = registry.New(l, tree.IsAlive, func(pgid int) {
		launch.TerminateGroup(pgid, stopGrace)
	})
	return c
}

// Start begins the ExitMonitor's event loop; readiness flips to true once
// it is running.
func (c *Coordinator) Start() error {
	if err := c.exit.Start(); err != nil {
		return fmt.Errorf("start exit monitor: %w", err)
	}
	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
	return nil
}

// Ready reports whether the coordinator's exit monitor is running.
func (c *Coordinator) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Subscribe registers a channel to receive every future Snapshot.
func (c *Coordinator) Subscribe() Subscriber {
	sub := make(Subscriber, 16)
	c.subMu.Lock()
	c.subs[sub] = struct{}{}
	c.subMu.Unlock()
	return sub
}

// Unsubscribe removes a previously registered subscriber.
func (c *Coordinator) Unsubscribe(sub Subscriber) {
	c.subMu.Lock()
	delete(c.subs, sub)
	c.subMu.Unlock()
}

func (c *Coordinator) publish() {
	c.mu.RLock()
	snap := make(Snapshot, len(c.sessions))
	for id, s := range c.sessions {
		snap[id] = s.clone()
	}
	c.mu.RUnlock()

	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for sub := range c.subs {
		select {
		case sub <- snap:
		default:
			// slow subscriber, skip this snapshot
		}
	}
}

// StartDevServer spawns command inside cwd as session's supervised child,
// allocating a port (preferredPort as a hint) and wiring its output into
// LogStore and service-URL detection. If session already has an active
// entry, it is stopped first.
func (c *Coordinator) StartDevServer(ctx context.Context, session int, command, cwd string, preferredPort int) (Session, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.start_dev_server", trace.WithAttributes(
		attribute.Int("session.id", session),
	))
	defer span.End()

	if c.hasActiveSession(session) {
		if err := c.StopDevServer(ctx, session); err != nil {
			return Session{}, fmt.Errorf("stop existing session %d before restart: %w", session, err)
		}
	}

	port, hasPort := c.ports.Allocate(session, preferredPort)

	env := os.Environ()
	if hasPort {
		env = append(env, fmt.Sprintf("PORT=%d", port))
	}

	handle, err := c.launch.SpawnShell(command, cwd, env)
	if err != nil {
		if hasPort {
			c.ports.Release(port)
		}
		return Session{}, fmt.Errorf("%w: %v", coreerr.ErrProcessStartFailed, err)
	}

	sess := &Session{
		ID:         session,
		Pid:        handle.Pid,
		Pgid:       handle.Pgid,
		Command:    command,
		WorkingDir: cwd,
		CreatedAt:  time.Now(),
		Status:     StatusStarting,
	}
	if hasPort {
		p := port
		sess.Port = &p
	}

	c.mu.Lock()
	c.sessions[session] = sess
	c.mu.Unlock()

	c.reg.Register(handle.Pid, handle.Pgid, session, registry.SourceDevServer, command, cwd)

	pump := streampump.New(c.logger, session, c.logs, func(stream logstore.Stream, content string) {
		c.onOutputLine(session, content)
	})
	pump.Start(handle.Stdout, handle.Stderr)

	c.mu.Lock()
	c.pumps[session] = pump
	c.mu.Unlock()

	_ = c.exit.Watch(handle.Pid, func(exitCode int) {
		c.handleExit(session, exitCode)
	})

	c.mu.Lock()
	sess.Status = StatusRunning
	c.mu.Unlock()
	c.publish()

	c.logs.Append(session, logstore.StreamSys, "Started: "+command)

	return sess.clone(), nil
}

// StopDevServer terminates session's process group with a
// graceful-then-forceful escalation, then stops its StreamPump (whose
// readers end once the group's pipes close), unregisters and releases its
// port, and removes it from the active mapping.
func (c *Coordinator) StopDevServer(ctx context.Context, session int) error {
	_, span := c.tracer.Start(ctx, "coordinator.stop_dev_server", trace.WithAttributes(
		attribute.Int("session.id", session),
	))
	defer span.End()

	c.mu.Lock()
	sess, ok := c.sessions[session]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: session %d", coreerr.ErrSessionNotFound, session)
	}
	sess.Status = StatusStopping
	pgid := sess.Pgid
	pid := sess.Pid
	port := sess.Port
	pump := c.pumps[session]
	c.mu.Unlock()
	c.publish()

	c.exit.Unwatch(pid)
	c.launch.TerminateGroup(pgid, stopGrace)
	if pump != nil {
		pump.Stop()
	}
	c.reg.Unregister(pid)
	if port != nil {
		c.ports.Release(*port)
	}

	c.mu.Lock()
	delete(c.sessions, session)
	delete(c.pumps, session)
	c.mu.Unlock()
	c.publish()

	c.logs.Append(session, logstore.StreamSys, "Stopped")
	return nil
}

// RestartDevServer captures session's current command and cwd, clears its
// logs, stops it, and starts it again, offering its previous port as the
// preferred (not guaranteed) port.
func (c *Coordinator) RestartDevServer(ctx context.Context, session int) (Session, error) {
	c.mu.RLock()
	sess, ok := c.sessions[session]
	var command, cwd string
	var preferredPort int
	if ok {
		command = sess.Command
		cwd = sess.WorkingDir
		if sess.Port != nil {
			preferredPort = *sess.Port
		}
	}
	c.mu.RUnlock()
	if !ok {
		return Session{}, fmt.Errorf("%w: session %d", coreerr.ErrSessionNotFound, session)
	}

	c.logs.Clear(session)
	if err := c.StopDevServer(ctx, session); err != nil {
		return Session{}, err
	}
	return c.StartDevServer(ctx, session, command, cwd, preferredPort)
}

// handleExit is the ExitMonitor callback driving teardown when a
// session's root process exits on its own, rather than via
// StopDevServer.
func (c *Coordinator) handleExit(session int, exitCode int) {
	c.mu.Lock()
	sess, ok := c.sessions[session]
	if !ok {
		c.mu.Unlock()
		return
	}
	pump := c.pumps[session]
	delete(c.pumps, session)
	delete(c.sessions, session)

	code := exitCode
	sess.ExitCode = &code
	if exitCode == 0 {
		sess.Status = StatusStopped
	} else {
		msg := fmt.Sprintf("Process exited with code %d", exitCode)
		sess.Status = StatusError
		sess.ErrorMsg = &msg
	}
	pid := sess.Pid
	port := sess.Port
	c.mu.Unlock()

	if pump != nil {
		pump.Stop()
	}
	c.publish()

	go func() {
		c.reg.Unregister(pid)
		if port != nil {
			c.ports.Release(*port)
		}
		c.logs.Append(session, logstore.StreamSys, fmt.Sprintf("Exited with code %d", exitCode))
	}()
}

func (c *Coordinator) onOutputLine(session int, line string) {
	url, ok := detectServiceURL(line)
	if !ok {
		return
	}
	c.mu.Lock()
	sess, exists := c.sessions[session]
	if !exists {
		c.mu.Unlock()
		return
	}
	if sess.ServerURL == nil {
		u := url
		sess.ServerURL = &u
	}
	if sess.Status == StatusStarting {
		sess.Status = StatusRunning
	}
	c.mu.Unlock()
	c.publish()
}

func (c *Coordinator) hasActiveSession(session int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sessions[session]
	return ok
}

// Status returns the current state of session.
func (c *Coordinator) Status(session int) (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[session]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// AllStatuses returns every active session's current state.
func (c *Coordinator) AllStatuses() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(Snapshot, len(c.sessions))
	for id, s := range c.sessions {
		out[id] = s.clone()
	}
	return out
}

// IsRunning reports whether session is currently active with status
// Running.
func (c *Coordinator) IsRunning(session int) bool {
	s, ok := c.Status(session)
	return ok && s.Status == StatusRunning
}

// ProcessTree delegates to the ProcessTree component, rooted at session's
// pid.
func (c *Coordinator) ProcessTree(session int) ([]*proctree.Node, error) {
	s, ok := c.Status(session)
	if !ok {
		return nil, fmt.Errorf("%w: session %d", coreerr.ErrSessionNotFound, session)
	}
	pid := s.Pid
	return c.tree.BuildTree(&pid)
}

// AllSessionProcesses returns session's root process info plus every
// descendant.
func (c *Coordinator) AllSessionProcesses(session int) ([]proctree.ProcessInfo, error) {
	s, ok := c.Status(session)
	if !ok {
		return nil, fmt.Errorf("%w: session %d", coreerr.ErrSessionNotFound, session)
	}
	root, err := c.tree.Info(s.Pid)
	if err != nil {
		return nil, err
	}
	descendants, err := c.tree.Descendants(s.Pid)
	if err != nil {
		return nil, err
	}
	return append([]proctree.ProcessInfo{root}, descendants...), nil
}

// Logs returns up to count most recent log entries for session.
func (c *Coordinator) Logs(session int, count int) []logstore.Entry {
	return c.logs.Get(session, count, nil)
}

// LogsAsString renders up to count most recent log entries for session.
func (c *Coordinator) LogsAsString(session int, count int) string {
	return c.logs.GetAsString(session, count)
}

// AvailablePorts returns up to n ports currently free in the dev range.
func (c *Coordinator) AvailablePorts(n int) []int {
	return c.ports.FindNAvailable(n)
}

// PortOf returns the port allocated to session, if any.
func (c *Coordinator) PortOf(session int) (int, bool) {
	return c.ports.GetPort(session)
}

// CleanupSession stops session (if active), clears its logs, and
// releases its port.
func (c *Coordinator) CleanupSession(ctx context.Context, session int) error {
	if c.hasActiveSession(session) {
		if err := c.StopDevServer(ctx, session); err != nil {
			return err
		}
	}
	c.logs.Clear(session)
	c.ports.ReleaseForSession(session)
	return nil
}

// CleanupAll stops every active session concurrently.
func (c *Coordinator) CleanupAll(ctx context.Context) error {
	c.mu.RLock()
	ids := make([]int, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.CleanupSession(ctx, id)
		}()
	}
	wg.Wait()
	return nil
}

// ScanSystemProcesses reports every occupied port among the dev range and
// known-common set. Both are always probed; when includeAllPorts is false,
// the results are filtered down to the dev range before being returned.
func (c *Coordinator) ScanSystemProcesses(includeAllPorts bool) []portalloc.ListeningPort {
	results := c.ports.ScanListening(c.resolvePortOwner)
	if includeAllPorts {
		return results
	}

	rangeMin, rangeMax := c.ports.Range()
	var filtered []portalloc.ListeningPort
	for _, r := range results {
		if r.Port >= rangeMin && r.Port <= rangeMax {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// resolvePortOwner is a best-effort pid/name lookup for an occupied port.
// Mapping a port to its owning pid without external tooling is not
// portable across platforms, so this always reports "unknown" rather than
// guess; scan_listening's contract explicitly allows a null pid/name.
func (c *Coordinator) resolvePortOwner(port int) (pid int, name string, ok bool) {
	return 0, "", false
}

// ManagedPids returns every pid currently registered.
func (c *Coordinator) ManagedPids() []int {
	entries := c.reg.All()
	out := make([]int, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Pid)
	}
	return out
}

// IsManaged reports whether pid is currently registered.
func (c *Coordinator) IsManaged(pid int) bool {
	return c.reg.IsRegistered(pid)
}

// DetectProjectType probes dir for a known project marker.
func (c *Coordinator) DetectProjectType(dir string) projecttype.Detection {
	return projecttype.Detect(dir)
}
