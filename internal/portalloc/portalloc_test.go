package portalloc

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdlbs/sessiond/internal/corelog"
)

func newTestAllocator() *Allocator {
	return New(corelog.Default(), 23400, 23420, []int{23500, 23501})
}

func TestAllocateIsIdempotentPerSession(t *testing.T) {
	a := newTestAllocator()
	p1, ok := a.Allocate(1, 0)
	require.True(t, ok)

	p2, ok := a.Allocate(1, 0)
	require.True(t, ok)
	assert.Equal(t, p1, p2)
}

func TestAllocateDistinctSessionsGetDistinctPorts(t *testing.T) {
	a := newTestAllocator()
	p1, ok := a.Allocate(1, 0)
	require.True(t, ok)
	p2, ok := a.Allocate(2, 0)
	require.True(t, ok)
	assert.NotEqual(t, p1, p2)
}

func TestReleaseForSessionFreesBothDirections(t *testing.T) {
	a := newTestAllocator()
	port, ok := a.Allocate(1, 0)
	require.True(t, ok)

	a.ReleaseForSession(1)
	_, ok = a.GetPort(1)
	assert.False(t, ok)
	_, ok = a.SessionOf(port)
	assert.False(t, ok)
}

func TestPreferredPortHonoredWhenFree(t *testing.T) {
	a := newTestAllocator()
	port, ok := a.Allocate(1, 23410)
	require.True(t, ok)
	assert.Equal(t, 23410, port)
}

func TestPreferredPortSkippedWhenOccupied(t *testing.T) {
	ln, err := net.Listen("tcp", ":23411")
	require.NoError(t, err)
	defer ln.Close()

	a := newTestAllocator()
	port, ok := a.Allocate(1, 23411)
	require.True(t, ok)
	assert.NotEqual(t, 23411, port)
}

func TestAllocateExhaustedRangeReturnsFalse(t *testing.T) {
	a := New(corelog.Default(), 23600, 23601, nil)
	_, ok := a.Allocate(1, 0)
	require.True(t, ok)
	_, ok = a.Allocate(2, 0)
	require.True(t, ok)
	_, ok = a.Allocate(3, 0)
	assert.False(t, ok, "range of 2 ports should be exhausted by the third session")
}

func TestScanListeningReportsOccupiedPorts(t *testing.T) {
	ln, err := net.Listen("tcp", ":23500")
	require.NoError(t, err)
	defer ln.Close()

	a := newTestAllocator()
	results := a.ScanListening(nil)

	found := false
	for _, r := range results {
		if r.Port == 23500 {
			found = true
			assert.Nil(t, r.Pid)
		}
	}
	assert.True(t, found)
}
