package logstore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdlbs/sessiond/internal/corelog"
)

func newTestStore(t *testing.T) *Store {
	return New(corelog.Default(), t.TempDir())
}

func TestAppendThenGetReturnsLastEntry(t *testing.T) {
	s := newTestStore(t)
	s.Append(1, StreamOut, "hello")
	s.Append(1, StreamOut, "world")

	entries := s.Get(1, 1, nil)
	require.Len(t, entries, 1)
	assert.Equal(t, "world", entries[0].Content)
}

func TestGetFiltersByStream(t *testing.T) {
	s := newTestStore(t)
	s.Append(1, StreamOut, "out-line")
	s.Append(1, StreamErr, "err-line")

	stream := StreamErr
	entries := s.Get(1, 0, &stream)
	require.Len(t, entries, 1)
	assert.Equal(t, "err-line", entries[0].Content)
}

func TestRingBufferEvictsOldestOnOverflow(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < maxInMemory+1; i++ {
		s.Append(1, StreamOut, fmt.Sprintf("line-%d", i))
	}

	all := s.GetAll(1)
	require.Len(t, all, maxInMemory)
	assert.Equal(t, "line-1", all[0].Content, "entry #0 should have been evicted")
	assert.Equal(t, fmt.Sprintf("line-%d", maxInMemory), all[len(all)-1].Content)
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	s.Append(1, StreamOut, "Listening on PORT 3000")

	results := s.Search(1, "listening")
	require.Len(t, results, 1)
}

func TestReadFromDiskSurvivesClear(t *testing.T) {
	s := newTestStore(t)
	s.Append(1, StreamOut, "persisted-line")
	s.Clear(1)

	entries, err := s.ReadFromDisk(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "persisted-line", entries[0].Content)
	assert.Equal(t, StreamOut, entries[0].Stream)
}

func TestClearEmptiesInMemoryButKeepsDisk(t *testing.T) {
	s := newTestStore(t)
	s.Append(1, StreamOut, "line")
	s.Clear(1)

	assert.Empty(t, s.GetAll(1))
	entries, err := s.ReadFromDisk(1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestActiveSessionsTracksAppendedSessions(t *testing.T) {
	s := newTestStore(t)
	s.Append(1, StreamSys, "a")
	s.Append(2, StreamSys, "b")

	assert.ElementsMatch(t, []int{1, 2}, s.ActiveSessions())
}

func TestGetAsStringFormatsLines(t *testing.T) {
	s := newTestStore(t)
	s.Append(1, StreamOut, "hello")

	str := s.GetAsString(1, 10)
	assert.Equal(t, "[OUT] hello\n", str)
}
