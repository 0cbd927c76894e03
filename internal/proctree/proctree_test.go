package proctree

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAliveReflectsRealProcess(t *testing.T) {
	tree := New()
	assert.True(t, tree.IsAlive(os.Getpid()))
	assert.False(t, tree.IsAlive(999999999))
}

func TestInfoAndChildrenForSpawnedProcess(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "sleep 2")
	require.NoError(t, cmd.Start())
	defer func() { _ = cmd.Process.Kill(); _ = cmd.Wait() }()

	time.Sleep(100 * time.Millisecond)

	tree := New()
	info, err := tree.Info(cmd.Process.Pid)
	require.NoError(t, err)
	assert.Equal(t, cmd.Process.Pid, info.Pid)
	assert.Equal(t, os.Getpid(), info.Ppid)

	children, err := tree.Children(os.Getpid())
	require.NoError(t, err)
	found := false
	for _, c := range children {
		if c.Pid == cmd.Process.Pid {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDescendantsIncludesGrandchildren(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "sleep 2 & wait")
	require.NoError(t, cmd.Start())
	defer func() { _ = cmd.Process.Kill(); _ = cmd.Wait() }()

	time.Sleep(150 * time.Millisecond)

	tree := New()
	descendants, err := tree.Descendants(os.Getpid())
	require.NoError(t, err)
	assert.NotEmpty(t, descendants)

	grandchild := false
	for _, d := range descendants {
		if d.Ppid == cmd.Process.Pid {
			grandchild = true
		}
	}
	assert.True(t, grandchild, "the backgrounded sleep should be reported as a grandchild")
}

func TestBuildTreeFromRoot(t *testing.T) {
	tree := New()
	pid := os.Getpid()
	nodes, err := tree.BuildTree(&pid)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, pid, nodes[0].Info.Pid)
}
