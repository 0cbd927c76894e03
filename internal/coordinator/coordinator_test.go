package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdlbs/sessiond/internal/corelog"
	"github.com/kdlbs/sessiond/internal/portalloc"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	log := corelog.Default()
	ports := portalloc.New(log, 23500, 23599, nil)
	c := New(log, ports, t.TempDir())
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.CleanupAll(context.Background()) })
	return c
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}

func TestStartDevServerRegistersRunningSession(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	sess, err := c.StartDevServer(ctx, 1, "echo Local: http://localhost:4100 && sleep 5", ".", 0)
	require.NoError(t, err)
	assert.NotZero(t, sess.Pid)
	assert.True(t, c.IsManaged(sess.Pid))

	waitUntil(t, 2*time.Second, func() bool {
		s, ok := c.Status(1)
		return ok && s.ServerURL != nil
	})

	s, ok := c.Status(1)
	require.True(t, ok)
	require.NotNil(t, s.ServerURL)
	assert.Equal(t, "http://localhost:4100", *s.ServerURL)
}

func TestStopDevServerTerminatesAndUnregisters(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	sess, err := c.StartDevServer(ctx, 2, "sleep 30", ".", 0)
	require.NoError(t, err)
	pid := sess.Pid

	require.NoError(t, c.StopDevServer(ctx, 2))
	_, ok := c.Status(2)
	assert.False(t, ok)
	assert.False(t, c.IsManaged(pid))
}

func TestStopDevServerUnknownSessionErrors(t *testing.T) {
	c := newTestCoordinator(t)
	err := c.StopDevServer(context.Background(), 999)
	assert.Error(t, err)
}

func TestRestartDevServerReusesCommand(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	sess, err := c.StartDevServer(ctx, 3, "sleep 30", ".", 0)
	require.NoError(t, err)
	firstPid := sess.Pid

	restarted, err := c.RestartDevServer(ctx, 3)
	require.NoError(t, err)
	assert.NotEqual(t, firstPid, restarted.Pid)
	assert.Equal(t, "sleep 30", restarted.Command)
}

func TestExitHandlerRemovesSessionOnZeroExit(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.StartDevServer(ctx, 4, "exit 0", ".", 0)
	require.NoError(t, err)

	waitUntil(t, 2*time.Second, func() bool {
		_, ok := c.Status(4)
		return !ok
	})
}

func TestExitHandlerRemovesSessionOnNonZeroExit(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	sess, err := c.StartDevServer(ctx, 5, "sh -c 'exit 7'", ".", 0)
	require.NoError(t, err)
	_ = sess

	waitUntil(t, 2*time.Second, func() bool {
		_, ok := c.Status(5)
		return !ok
	})
}

func TestCleanupAllStopsEverySession(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.StartDevServer(ctx, 6, "sleep 30", ".", 0)
	require.NoError(t, err)
	_, err = c.StartDevServer(ctx, 7, "sleep 30", ".", 0)
	require.NoError(t, err)

	require.NoError(t, c.CleanupAll(ctx))
	assert.Empty(t, c.AllStatuses())
}

func TestSubscribePublishesSnapshotsOnMutation(t *testing.T) {
	c := newTestCoordinator(t)
	sub := c.Subscribe()
	defer c.Unsubscribe(sub)

	_, err := c.StartDevServer(context.Background(), 8, "sleep 30", ".", 0)
	require.NoError(t, err)

	select {
	case snap := <-sub:
		_, ok := snap[8]
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a snapshot after StartDevServer")
	}
}

func TestDetectProjectTypeDelegatesToProjectTypePackage(t *testing.T) {
	c := newTestCoordinator(t)
	det := c.DetectProjectType(t.TempDir())
	assert.False(t, det.Detected)
}
