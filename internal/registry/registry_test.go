package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdlbs/sessiond/internal/corelog"
)

func newTestRegistry(terminated *[]int) *Registry {
	alive := func(pid int) bool { return pid%2 == 0 } // even pids "alive", odd "dead"
	terminate := func(pgid int) {
		if terminated != nil {
			*terminated = append(*terminated, pgid)
		}
	}
	return New(corelog.Default(), alive, terminate)
}

func TestRegisterAndGet(t *testing.T) {
	r := newTestRegistry(nil)
	r.Register(100, 100, 1, SourceDevServer, "sleep 60", "/tmp")

	entry, ok := r.Get(100)
	require.True(t, ok)
	assert.Equal(t, 1, entry.Session)
	assert.True(t, r.IsRegistered(100))
	assert.True(t, r.IsManagedGroup(100))
}

func TestUnregisterRemovesGroupWhenLastMember(t *testing.T) {
	r := newTestRegistry(nil)
	r.Register(100, 100, 1, SourceDevServer, "cmd", "/tmp")
	r.Register(101, 100, 1, SourceBackground, "cmd2", "/tmp")

	r.Unregister(100)
	assert.True(t, r.IsManagedGroup(100), "group still has one member")

	r.Unregister(101)
	assert.False(t, r.IsManagedGroup(100), "group should be gone once empty")
}

func TestBySessionFiltersCorrectly(t *testing.T) {
	r := newTestRegistry(nil)
	r.Register(1, 1, 10, SourceDevServer, "a", "")
	r.Register(2, 2, 20, SourceDevServer, "b", "")

	entries := r.BySession(10)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Pid)
}

func TestCleanupSessionTerminatesDistinctGroups(t *testing.T) {
	var terminated []int
	r := newTestRegistry(&terminated)
	r.Register(100, 100, 1, SourceDevServer, "cmd", "")
	r.Register(101, 100, 1, SourceBackground, "cmd2", "")
	r.Register(200, 200, 2, SourceDevServer, "other", "")

	r.CleanupSession(1, true)

	assert.Empty(t, r.BySession(1))
	assert.Len(t, terminated, 1)
	assert.Equal(t, 100, terminated[0])
	assert.NotEmpty(t, r.BySession(2))
}

func TestCleanupSessionWithoutKillDoesNotSignal(t *testing.T) {
	var terminated []int
	r := newTestRegistry(&terminated)
	r.Register(100, 100, 1, SourceDevServer, "cmd", "")

	r.CleanupSession(1, false)
	assert.Empty(t, terminated)
	assert.False(t, r.IsRegistered(100))
}

func TestCleanupAllRemovesEverything(t *testing.T) {
	var terminated []int
	r := newTestRegistry(&terminated)
	r.Register(100, 100, 1, SourceDevServer, "cmd", "")
	r.Register(200, 200, 2, SourceDevServer, "cmd2", "")

	err := r.CleanupAll(true)
	require.NoError(t, err)
	assert.Empty(t, r.All())
	assert.ElementsMatch(t, []int{100, 200}, terminated)
}

func TestFindOrphansUsesAliveChecker(t *testing.T) {
	r := newTestRegistry(nil)
	r.Register(100, 100, 1, SourceDevServer, "cmd", "") // even -> alive
	r.Register(101, 101, 1, SourceDevServer, "cmd2", "") // odd -> dead

	orphans := r.FindOrphans()
	require.Len(t, orphans, 1)
	assert.Equal(t, 101, orphans[0].Pid)

	r.CleanupOrphans()
	assert.False(t, r.IsRegistered(101))
	assert.True(t, r.IsRegistered(100))
}

func TestRegisterAndUnregisterCallbacksFire(t *testing.T) {
	r := newTestRegistry(nil)
	var registered, unregistered int
	r.OnRegister(func(Entry) { registered++ })
	r.OnUnregister(func(Entry) { unregistered++ })

	r.Register(1, 1, 1, SourceTerminal, "cmd", "")
	r.Unregister(1)

	assert.Equal(t, 1, registered)
	assert.Equal(t, 1, unregistered)
}
